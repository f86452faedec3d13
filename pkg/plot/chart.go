package plot

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	chartWidth  = "900px"
	chartHeight = "420px"
	yAxisLabel  = "No. Violations"
	xAxisLabel  = "Tag"
)

// palette colors the series in model order.
var palette = []string{"#5470c6", "#ee6666", "#91cc75", "#fac858", "#73c0de", "#9a60b4"}

// LineChart builds the go-echarts line chart for one comparison.
func LineChart(cmp Comparison) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: cmp.Metric, Left: "center"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "8%", Left: "center"}),
		charts.WithXAxisOpts(opts.XAxis{
			Name:      xAxisLabel,
			AxisLabel: &opts.AxisLabel{Rotate: 90},
		}),
		charts.WithYAxisOpts(opts.YAxis{Name: yAxisLabel}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)

	line.SetXAxis(cmp.Tags)

	for i, s := range cmp.Series {
		data := make([]opts.LineData, len(s.Values))
		for j, v := range s.Values {
			if v == nil {
				data[j] = opts.LineData{Value: "-"}

				continue
			}

			data[j] = opts.LineData{Value: *v}
		}

		color := palette[i%len(palette)]

		line.AddSeries(seriesName(s), data,
			charts.WithItemStyleOpts(opts.ItemStyle{Color: color}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: color, Width: 2}),
			charts.WithLineChartOpts(opts.LineChart{ConnectNulls: opts.Bool(false)}),
		)
	}

	return line
}

func seriesName(s Series) string {
	if s.Metric == "" {
		return s.Model
	}

	return s.Model + " (" + s.Metric + ")"
}

// Render writes an HTML page with one chart per comparison.
func Render(w io.Writer, title string, comparisons []Comparison) error {
	page := components.NewPage()
	page.SetPageTitle(title)
	page.SetLayout(components.PageFlexLayout)

	for _, cmp := range comparisons {
		page.AddCharts(LineChart(cmp))
	}

	err := page.Render(w)
	if err != nil {
		return fmt.Errorf("render page: %w", err)
	}

	return nil
}

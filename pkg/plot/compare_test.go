package plot_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parameterIT/experiment-toolkit/pkg/issues"
	"github.com/parameterIT/experiment-toolkit/pkg/plot"
	"github.com/parameterIT/experiment-toolkit/pkg/results"
)

func table(tag string, kv ...any) results.TagTable {
	freqs := issues.NewFrequencies()
	for i := 0; i < len(kv); i += 2 {
		freqs.Add(kv[i].(string), kv[i+1].(int))
	}

	return results.TagTable{Tag: tag, SrcRoot: "acme/widget/" + tag, Frequencies: freqs}
}

func ints(values []*int) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if v != nil {
			out[i] = *v
		}
	}

	return out
}

func TestCompare_GroupsByTagAndAliases(t *testing.T) {
	t.Parallel()

	climate := plot.Model{Name: "code_climate", Tables: []results.TagTable{
		table("v2", "method_complexity", 4, "Complexity", 4),
		table("v1", "method_complexity", 2, "Complexity", 3, "similar-code", 1),
	}}
	byoqm := plot.Model{Name: "byoqm", Tables: []results.TagTable{
		table("v1", "cognitive_complexity", 5, "Complexity", 5),
		table("v3", "cognitive_complexity", 7),
	}}

	got := plot.Compare([]plot.Model{climate, byoqm}, plot.DefaultAliases)
	require.Len(t, got, 3)

	assert.Equal(t, "method_complexity", got[0].Metric)
	assert.Equal(t, []string{"v1", "v2", "v3"}, got[0].Tags)

	require.Len(t, got[0].Series, 2)
	assert.Equal(t, "code_climate", got[0].Series[0].Model)
	assert.Equal(t, []any{2, 4, nil}, ints(got[0].Series[0].Values))
	assert.Equal(t, "cognitive_complexity", got[0].Series[1].Metric)
	assert.Equal(t, []any{5, nil, 7}, ints(got[0].Series[1].Values))

	assert.Equal(t, "Complexity", got[1].Metric)
	assert.Equal(t, []any{5, nil, 0}, ints(got[1].Series[1].Values), "v3 table without the metric counts zero")

	assert.Equal(t, "similar-code", got[2].Metric)
	assert.Equal(t, "similar_code", got[2].Series[1].Metric)
}

func TestCompare_LaterStampWins(t *testing.T) {
	t.Parallel()

	m := plot.Model{Name: "cc", Tables: []results.TagTable{
		table("v1", "duplication", 1),
		table("v1", "duplication", 9),
	}}

	got := plot.Compare([]plot.Model{m}, nil)
	require.Len(t, got, 1)
	assert.Equal(t, []any{9}, ints(got[0].Series[0].Values))
}

func TestCompare_NoModels(t *testing.T) {
	t.Parallel()

	assert.Nil(t, plot.Compare(nil, plot.DefaultAliases))
}

func TestLineChart(t *testing.T) {
	t.Parallel()

	m := plot.Model{Name: "cc", Tables: []results.TagTable{table("v1", "duplication", 3)}}
	other := plot.Model{Name: "byoqm"}

	cmp := plot.Compare([]plot.Model{m, other}, nil)
	require.Len(t, cmp, 1)

	chart := plot.LineChart(cmp[0])
	require.Len(t, chart.MultiSeries, 2)
	assert.Equal(t, "cc (duplication)", chart.MultiSeries[0].Name)
	assert.Equal(t, "byoqm (duplication)", chart.MultiSeries[1].Name)
}

func TestRender(t *testing.T) {
	t.Parallel()

	m := plot.Model{Name: "cc", Tables: []results.TagTable{
		table("v1", "duplication", 3),
		table("v2", "duplication", 5),
	}}

	var buf bytes.Buffer

	require.NoError(t, plot.Render(&buf, "widget comparison", plot.Compare([]plot.Model{m}, nil)))

	html := buf.String()
	assert.Contains(t, html, "<html")
	assert.Contains(t, html, "widget comparison")
	assert.Contains(t, html, "duplication")
}

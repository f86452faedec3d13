// Package plot renders per-metric line charts that compare quality models
// across the tags of a repository.
package plot

import (
	"slices"

	"github.com/parameterIT/experiment-toolkit/pkg/results"
)

// DefaultAliases maps Code Climate check names to the metric name the
// comparison model uses for the same concept.
var DefaultAliases = map[string]string{
	"method_complexity": "cognitive_complexity",
	"identical-code":    "identical_code",
	"similar-code":      "similar_code",
}

// Model is one quality model's output, read back with results.ReadModel.
type Model struct {
	Name   string
	Tables []results.TagTable
}

// Comparison is the data behind one chart: every model's value per tag.
// A nil value means the model has no table for that tag.
type Comparison struct {
	Metric string
	Tags   []string
	Series []Series
}

// Series is one model's line.
type Series struct {
	Model  string
	Metric string
	Values []*int
}

// Compare builds one comparison per metric of the first (reference) model.
// Other models are looked up under the aliased metric name when aliases has
// an entry, and under the same name otherwise. Tags are the union over all
// models, sorted.
func Compare(models []Model, aliases map[string]string) []Comparison {
	if len(models) == 0 {
		return nil
	}

	tags := tagAxis(models)
	byTag := make([]map[string]results.TagTable, len(models))

	for i, m := range models {
		byTag[i] = make(map[string]results.TagTable, len(m.Tables))
		for _, tbl := range m.Tables {
			// Later stamps replace earlier ones for the same tag.
			byTag[i][tbl.Tag] = tbl
		}
	}

	var out []Comparison

	for _, metric := range metricNames(models[0]) {
		cmp := Comparison{Metric: metric, Tags: tags}

		for i, m := range models {
			name := metric
			if i > 0 {
				if alias, ok := aliases[metric]; ok {
					name = alias
				}
			}

			cmp.Series = append(cmp.Series, Series{
				Model:  m.Name,
				Metric: name,
				Values: values(byTag[i], tags, name),
			})
		}

		out = append(out, cmp)
	}

	return out
}

func tagAxis(models []Model) []string {
	seen := make(map[string]struct{})

	var tags []string

	for _, m := range models {
		for _, tbl := range m.Tables {
			if _, ok := seen[tbl.Tag]; ok {
				continue
			}

			seen[tbl.Tag] = struct{}{}

			tags = append(tags, tbl.Tag)
		}
	}

	slices.Sort(tags)

	return tags
}

// metricNames lists the model's metrics in first-seen order.
func metricNames(m Model) []string {
	seen := make(map[string]struct{})

	var names []string

	for _, tbl := range m.Tables {
		for _, name := range tbl.Frequencies.Names() {
			if _, ok := seen[name]; ok {
				continue
			}

			seen[name] = struct{}{}

			names = append(names, name)
		}
	}

	return names
}

func values(tables map[string]results.TagTable, tags []string, metric string) []*int {
	out := make([]*int, len(tags))

	for i, tag := range tags {
		tbl, ok := tables[tag]
		if !ok {
			continue
		}

		// A table without the metric recorded zero issues of it.
		v := tbl.Frequencies.Get(metric)
		out[i] = &v
	}

	return out
}

package issues

// LocationRecord is one row of the locations table: (type, file, start, end).
type LocationRecord struct {
	Check string
	Path  string
	Start int
	End   int
}

// Frequencies counts occurrences per metric or category name and remembers
// the order in which names were first seen, so output is reproducible.
type Frequencies struct {
	order  []string
	counts map[string]int
}

// NewFrequencies creates an empty frequency table.
func NewFrequencies() *Frequencies {
	return &Frequencies{counts: make(map[string]int)}
}

// Add increments name by n.
func (f *Frequencies) Add(name string, n int) {
	if _, seen := f.counts[name]; !seen {
		f.order = append(f.order, name)
	}

	f.counts[name] += n
}

// Get returns the count for name, zero when absent.
func (f *Frequencies) Get(name string) int {
	return f.counts[name]
}

// Names returns the names in first-seen order.
func (f *Frequencies) Names() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)

	return out
}

// Len returns the number of distinct names.
func (f *Frequencies) Len() int {
	return len(f.order)
}

// Map returns a copy of the counts.
func (f *Frequencies) Map() map[string]int {
	out := make(map[string]int, len(f.counts))
	for k, v := range f.counts {
		out[k] = v
	}

	return out
}

// Result is the aggregate for one snapshot: a frequency table where both
// the check and its category are counted, plus locations in encounter order.
type Result struct {
	Frequencies *Frequencies
	Locations   []LocationRecord
	IssueCount  int
}

// NewResult creates an empty result.
func NewResult() *Result {
	return &Result{Frequencies: NewFrequencies(), Locations: []LocationRecord{}}
}

// Merge adds other into r. Counts are summed and locations appended.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}

	for _, name := range other.Frequencies.order {
		r.Frequencies.Add(name, other.Frequencies.counts[name])
	}

	r.Locations = append(r.Locations, other.Locations...)
	r.IssueCount += other.IssueCount
}

// Aggregate builds the per-tag result. Every issue increments both its check
// and its category, so the totals double count on purpose: check-level and
// category-level series are both consumed downstream. Repeated identical
// issues are counted each time.
func Aggregate(list []Issue) *Result {
	res := NewResult()

	for _, is := range list {
		res.Frequencies.Add(is.Check, 1)
		res.Frequencies.Add(is.Category, 1)
		res.Locations = append(res.Locations, LocationRecord{
			Check: is.Check,
			Path:  is.Location.Path,
			Start: is.Location.StartLine,
			End:   is.Location.EndLine,
		})
	}

	res.IssueCount = len(list)

	return res
}

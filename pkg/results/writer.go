// Package results persists per-tag aggregates as timestamped CSV tables and
// reads them back for plotting.
package results

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/parameterIT/experiment-toolkit/pkg/issues"
)

// Partition directory names and defaults.
const (
	MetadataDir         = "metadata"
	LocationsDir        = "locations"
	DefaultFrequencies  = "frequencies"
	OutcomeDir          = "outcome"
	DefaultQualityModel = "actual code climate"

	// StampLayout is the UTC file stamp, YYYY-MM-DD_HH-MM-SS.
	StampLayout = "2006-01-02_15-04-05"

	fileExt = ".csv"
)

// Table headers.
var (
	metadataHeader    = []string{"qualitymodel", "src_root"}
	frequenciesHeader = []string{"metric", "value"}
	locationsHeader   = []string{"type", "file", "start", "end"}
)

// ErrStampTaken is returned when a file for the stamp already exists.
var ErrStampTaken = errors.New("output stamp already used")

// WriterOptions configures a Writer.
type WriterOptions struct {
	// Dir is the output root holding the partitions.
	Dir string
	// QualityModel is written into every metadata table.
	QualityModel string
	// FrequenciesDir names the frequency partition, "frequencies" or "outcome".
	FrequenciesDir string
	Logger         *slog.Logger

	// Now and Sleep are replaced in tests.
	Now   func() time.Time
	Sleep func(time.Duration)
}

// Writer writes the three partitions for one tag under a shared stamp.
// Consecutive writes never share a stamp: the writer waits for the next
// second when needed.
type Writer struct {
	dir            string
	qualityModel   string
	frequenciesDir string
	logger         *slog.Logger
	now            func() time.Time
	sleep          func(time.Duration)

	mu   sync.Mutex
	last time.Time
}

// NewWriter creates the partition directories under opts.Dir.
func NewWriter(opts WriterOptions) (*Writer, error) {
	if opts.Dir == "" {
		return nil, errors.New("results: output dir is required")
	}

	if opts.QualityModel == "" {
		opts.QualityModel = DefaultQualityModel
	}

	if opts.FrequenciesDir == "" {
		opts.FrequenciesDir = DefaultFrequencies
	}

	w := &Writer{
		dir:            opts.Dir,
		qualityModel:   opts.QualityModel,
		frequenciesDir: opts.FrequenciesDir,
		logger:         opts.Logger,
		now:            opts.Now,
		sleep:          opts.Sleep,
	}

	if w.logger == nil {
		w.logger = slog.Default()
	}

	if w.now == nil {
		w.now = time.Now
	}

	if w.sleep == nil {
		w.sleep = time.Sleep
	}

	for _, part := range []string{MetadataDir, w.frequenciesDir, LocationsDir} {
		err := os.MkdirAll(filepath.Join(w.dir, part), 0o755)
		if err != nil {
			return nil, fmt.Errorf("create partition %s: %w", part, err)
		}
	}

	return w, nil
}

// Dir returns the output root.
func (w *Writer) Dir() string {
	return w.dir
}

// QualityModel returns the model name written into metadata tables.
func (w *Writer) QualityModel() string {
	return w.qualityModel
}

// Write stores res for srcRoot and returns the stamp used as file name.
func (w *Writer) Write(ctx context.Context, srcRoot string, res *issues.Result) (string, error) {
	if res == nil {
		res = issues.NewResult()
	}

	stamp := w.nextStamp()
	name := stamp + fileExt

	tables := []struct {
		part string
		rows [][]string
	}{
		{MetadataDir, [][]string{metadataHeader, {w.qualityModel, srcRoot}}},
		{w.frequenciesDir, frequencyRows(res.Frequencies)},
		{LocationsDir, locationRows(res.Locations)},
	}

	for _, tbl := range tables {
		err := writeTable(filepath.Join(w.dir, tbl.part, name), tbl.rows)
		if err != nil {
			return "", err
		}
	}

	w.logger.InfoContext(ctx, "results written",
		"src_root", srcRoot, "stamp", stamp,
		"metrics", res.Frequencies.Len(), "locations", len(res.Locations))

	return stamp, nil
}

// nextStamp returns a stamp strictly later than the previous one, sleeping
// until the clock reaches the next second.
func (w *Writer) nextStamp() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ts := w.now().UTC().Truncate(time.Second)

	for !w.last.IsZero() && !ts.After(w.last) {
		w.sleep(w.last.Add(time.Second).Sub(w.now().UTC()))
		ts = w.now().UTC().Truncate(time.Second)
	}

	w.last = ts

	return ts.Format(StampLayout)
}

func frequencyRows(f *issues.Frequencies) [][]string {
	rows := [][]string{frequenciesHeader}

	if f == nil {
		return rows
	}

	for _, name := range f.Names() {
		rows = append(rows, []string{name, strconv.Itoa(f.Get(name))})
	}

	return rows
}

func locationRows(locs []issues.LocationRecord) [][]string {
	rows := make([][]string, 0, len(locs)+1)
	rows = append(rows, locationsHeader)

	for _, loc := range locs {
		rows = append(rows, []string{loc.Check, loc.Path, strconv.Itoa(loc.Start), strconv.Itoa(loc.End)})
	}

	return rows
}

func writeTable(path string, rows [][]string) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrStampTaken, path)
		}

		return fmt.Errorf("create %s: %w", path, err)
	}

	defer func() {
		closeErr := f.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("close %s: %w", path, closeErr)
		}
	}()

	cw := csv.NewWriter(f)

	err = cw.WriteAll(rows)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/parameterIT/experiment-toolkit/pkg/issues"
)

// ErrMalformedTable is returned for CSV tables with an unexpected shape.
var ErrMalformedTable = errors.New("malformed table")

// TagTable is one frequency table read back together with its metadata.
type TagTable struct {
	Stamp        string
	QualityModel string
	SrcRoot      string
	Tag          string
	Frequencies  *issues.Frequencies
}

// TagOf returns the tag a src_root refers to: its last path segment.
func TagOf(srcRoot string) string {
	trimmed := strings.TrimRight(srcRoot, "/")

	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}

	return trimmed[idx+1:]
}

// ReadModel reads every frequency table under root (one quality model's
// output directory) and pairs it with the metadata table of the same stamp.
// Tables are returned in stamp order. freqDir defaults to "frequencies";
// when that partition is missing "outcome" is tried.
func ReadModel(root, freqDir string) ([]TagTable, error) {
	dir, err := frequencyPartition(root, freqDir)
	if err != nil {
		return nil, err
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*"+fileExt))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	sort.Strings(paths)

	out := make([]TagTable, 0, len(paths))

	for _, path := range paths {
		stamp := strings.TrimSuffix(filepath.Base(path), fileExt)

		model, srcRoot, metaErr := readMetadata(filepath.Join(root, MetadataDir, stamp+fileExt))
		if metaErr != nil {
			return nil, metaErr
		}

		freqs, freqErr := readFrequencies(path)
		if freqErr != nil {
			return nil, freqErr
		}

		out = append(out, TagTable{
			Stamp:        stamp,
			QualityModel: model,
			SrcRoot:      srcRoot,
			Tag:          TagOf(srcRoot),
			Frequencies:  freqs,
		})
	}

	return out, nil
}

func frequencyPartition(root, freqDir string) (string, error) {
	candidates := []string{freqDir}
	if freqDir == "" {
		candidates = []string{DefaultFrequencies, OutcomeDir}
	}

	for _, name := range candidates {
		dir := filepath.Join(root, name)

		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			return dir, nil
		}
	}

	return "", fmt.Errorf("no frequency partition %v under %s: %w", candidates, root, os.ErrNotExist)
}

func readMetadata(path string) (model, srcRoot string, err error) {
	rows, err := readTable(path, metadataHeader)
	if err != nil {
		return "", "", err
	}

	if len(rows) != 1 {
		return "", "", fmt.Errorf("%w: %s: want 1 metadata row, got %d", ErrMalformedTable, path, len(rows))
	}

	return rows[0][0], rows[0][1], nil
}

func readFrequencies(path string) (*issues.Frequencies, error) {
	rows, err := readTable(path, frequenciesHeader)
	if err != nil {
		return nil, err
	}

	freqs := issues.NewFrequencies()

	for i, row := range rows {
		value, convErr := strconv.Atoi(row[1])
		if convErr != nil {
			return nil, fmt.Errorf("%w: %s row %d: %w", ErrMalformedTable, path, i+2, convErr)
		}

		freqs.Add(row[0], value)
	}

	return freqs, nil
}

// readTable returns the data rows of a CSV file whose header matches.
func readTable(path string, header []string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedTable, path, err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s: empty", ErrMalformedTable, path)
	}

	for i, col := range header {
		if records[0][i] != col {
			return nil, fmt.Errorf("%w: %s: header %v, want %v", ErrMalformedTable, path, records[0], header)
		}
	}

	return records[1:], nil
}

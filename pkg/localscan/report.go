// Package localscan reads the JSON reports written by a local
// `codeclimate analyze -f json` run, one file per tag, and turns them into
// the shared issue model.
package localscan

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/parameterIT/experiment-toolkit/pkg/issues"
)

const (
	reportExt = ".json"
	issueType = "issue"

	// UnknownCategory is used when an issue lists no categories.
	UnknownCategory = "Unknown"
)

// Sentinel errors.
var (
	ErrReportNotFound = errors.New("report not found")
	ErrInvalidReport  = errors.New("invalid report")
)

type entry struct {
	Type       string   `json:"type"`
	CheckName  string   `json:"check_name"`
	Categories []string `json:"categories"`
	Location   struct {
		Path  string `json:"path"`
		Lines *struct {
			Begin int `json:"begin"`
			End   int `json:"end"`
		} `json:"lines"`
		Positions *struct {
			Begin struct {
				Line int `json:"line"`
			} `json:"begin"`
			End struct {
				Line int `json:"line"`
			} `json:"end"`
		} `json:"positions"`
	} `json:"location"`
}

func (e entry) toIssue() issues.Issue {
	category := UnknownCategory
	if len(e.Categories) > 0 {
		category = e.Categories[0]
	}

	loc := issues.Location{Path: e.Location.Path}

	switch {
	case e.Location.Lines != nil:
		loc.StartLine = e.Location.Lines.Begin
		loc.EndLine = e.Location.Lines.End
	case e.Location.Positions != nil:
		loc.StartLine = e.Location.Positions.Begin.Line
		loc.EndLine = e.Location.Positions.End.Line
	}

	return issues.Issue{Check: e.CheckName, Category: category, Location: loc}
}

// Reports is an issues.Producer over a directory of <tag>.json reports.
type Reports struct {
	dir    string
	logger *slog.Logger
}

// NewReports opens dir. The directory must exist.
func NewReports(dir string, logger *slog.Logger) (*Reports, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open reports dir: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("open reports dir: %s is not a directory", dir)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Reports{dir: dir, logger: logger}, nil
}

// Tags lists the tags that have a report, sorted.
func (r *Reports) Tags() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	var tags []string

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != reportExt {
			continue
		}

		tags = append(tags, strings.TrimSuffix(e.Name(), reportExt))
	}

	slices.Sort(tags)

	return tags, nil
}

// Issues reads and validates the report for tag. Entries that are not
// issues, such as measurements, are skipped.
func (r *Reports) Issues(tag string) ([]issues.Issue, error) {
	path := filepath.Join(r.dir, tag+reportExt)

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrReportNotFound, path)
		}

		return nil, fmt.Errorf("read report %s: %w", path, err)
	}

	list, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", path, err)
	}

	r.logger.Debug("report parsed", "tag", tag, "issues", len(list))

	return list, nil
}

// Parse validates raw against the report schema and returns its issues in
// report order.
func Parse(raw []byte) ([]issues.Issue, error) {
	err := validate(raw)
	if err != nil {
		return nil, err
	}

	var entries []entry

	err = json.Unmarshal(raw, &entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}

	out := make([]issues.Issue, 0, len(entries))

	for _, e := range entries {
		if e.Type != issueType {
			continue
		}

		out = append(out, e.toIssue())
	}

	return out, nil
}

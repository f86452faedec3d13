package results

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestFile is written at the output root after every run.
const ManifestFile = "manifest.yaml"

// Manifest records what a run produced.
type Manifest struct {
	RunID        string     `yaml:"run_id"`
	QualityModel string     `yaml:"quality_model"`
	Slug         string     `yaml:"slug"`
	MirrorSlug   string     `yaml:"mirror_slug,omitempty"`
	StartedAt    time.Time  `yaml:"started_at"`
	FinishedAt   time.Time  `yaml:"finished_at"`
	Tags         []TagEntry `yaml:"tags"`
}

// TagEntry describes one written tag.
type TagEntry struct {
	Tag         string `yaml:"tag"`
	Commit      string `yaml:"commit,omitempty"`
	BuildNumber int    `yaml:"build,omitempty"`
	SnapshotID  string `yaml:"snapshot,omitempty"`
	Issues      int    `yaml:"issues"`
	Metrics     int    `yaml:"metrics"`
	Stamp       string `yaml:"stamp"`
}

// WriteManifest writes m to <dir>/manifest.yaml, replacing an older one.
func WriteManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	path := filepath.Join(dir, ManifestFile)
	tmp := path + ".tmp"

	err = os.WriteFile(tmp, data, 0o644)
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	err = os.Rename(tmp, path)
	if err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}

	return nil
}

// ReadManifest loads <dir>/manifest.yaml.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest

	err = yaml.Unmarshal(data, &m)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	return &m, nil
}

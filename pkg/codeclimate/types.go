package codeclimate

import "math"

// Build states reported by the service.
const (
	StatePending  = "pending"
	StateRunning  = "running"
	StateComplete = "complete"
	StateErrored  = "errored"
)

// UnknownCategory is used for issues that report no category at all.
const UnknownCategory = "Unknown"

// Build is one remote analysis run.
type Build struct {
	ID           string
	RepositoryID string
	Number       int
	State        string
	Commit       string
	SnapshotID   string
}

// Complete reports whether the build finished and references a snapshot.
func (b Build) Complete() bool {
	return b.State == StateComplete && b.SnapshotID != ""
}

// Snapshot is the immutable issue set produced by one complete build.
type Snapshot struct {
	ID           string
	RepositoryID string
	IssueCount   int
	PageSize     int
	Pages        int
}

// NewSnapshot computes the page count for total issues at pageSize.
func NewSnapshot(id, repoID string, total, pageSize int) Snapshot {
	pages := 0
	if pageSize > 0 && total > 0 {
		pages = int(math.Ceil(float64(total) / float64(pageSize)))
	}

	return Snapshot{
		ID:           id,
		RepositoryID: repoID,
		IssueCount:   total,
		PageSize:     pageSize,
		Pages:        pages,
	}
}

// JSON:API documents returned by the v1 API. Only the fields the pipeline
// reads are declared.

type relationshipData struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type relationship struct {
	Data *relationshipData `json:"data"`
}

type links struct {
	Next string `json:"next"`
}

type repoDoc struct {
	ID         string `json:"id"`
	Attributes struct {
		GithubSlug string `json:"github_slug"`
	} `json:"attributes"`
}

type repoListDoc struct {
	Data []repoDoc `json:"data"`
}

type buildDoc struct {
	ID         string `json:"id"`
	Attributes struct {
		Number    int    `json:"number"`
		State     string `json:"state"`
		CommitSHA string `json:"commit_sha"`
	} `json:"attributes"`
	Relationships struct {
		Repository relationship `json:"repository"`
		Snapshot   relationship `json:"snapshot"`
	} `json:"relationships"`
}

type buildListDoc struct {
	Data  []buildDoc `json:"data"`
	Links links      `json:"links"`
}

type snapshotDoc struct {
	Data struct {
		ID   string `json:"id"`
		Meta struct {
			IssuesCount int `json:"issues_count"`
		} `json:"meta"`
	} `json:"data"`
}

type issueDoc struct {
	Attributes struct {
		CheckName  string   `json:"check_name"`
		Categories []string `json:"categories"`
		Location   struct {
			Path      string `json:"path"`
			StartLine int    `json:"start_line"`
			EndLine   int    `json:"end_line"`
		} `json:"location"`
	} `json:"attributes"`
}

type issueListDoc struct {
	Data []issueDoc `json:"data"`
}

func (d buildDoc) toBuild(repoID string) Build {
	b := Build{
		ID:           d.ID,
		RepositoryID: repoID,
		Number:       d.Attributes.Number,
		State:        d.Attributes.State,
		Commit:       d.Attributes.CommitSHA,
	}

	if rel := d.Relationships.Repository.Data; rel != nil && rel.ID != "" {
		b.RepositoryID = rel.ID
	}

	if rel := d.Relationships.Snapshot.Data; rel != nil {
		b.SnapshotID = rel.ID
	}

	return b
}

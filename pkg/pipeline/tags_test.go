package pipeline_test

import (
	"context"
	"testing"
	"time"

	git2go "github.com/libgit2/git2go/v34"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parameterIT/experiment-toolkit/pkg/gitlib"
	"github.com/parameterIT/experiment-toolkit/pkg/localscan"
	"github.com/parameterIT/experiment-toolkit/pkg/pipeline"
	"github.com/parameterIT/experiment-toolkit/pkg/reconcile"
)

var _ reconcile.TagSource = pipeline.GitTags{}

// emptyCommit commits the empty tree on top of parent, if any.
func emptyCommit(t *testing.T, repo *git2go.Repository, msg string, parent *git2go.Oid) *git2go.Oid {
	t.Helper()

	builder, err := repo.TreeBuilder()
	require.NoError(t, err)

	defer builder.Free()

	treeID, err := builder.Write()
	require.NoError(t, err)

	tree, err := repo.LookupTree(treeID)
	require.NoError(t, err)

	defer tree.Free()

	var parents []*git2go.Commit

	if parent != nil {
		p, lookupErr := repo.LookupCommit(parent)
		require.NoError(t, lookupErr)

		defer p.Free()

		parents = append(parents, p)
	}

	sig := &git2go.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()}

	oid, err := repo.CreateCommit("HEAD", sig, sig, msg, tree, parents...)
	require.NoError(t, err)

	return oid
}

func TestGitTags(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	native, err := git2go.InitRepository(dir, false)
	require.NoError(t, err)

	t.Cleanup(native.Free)

	first := emptyCommit(t, native, "first", nil)
	second := emptyCommit(t, native, "second", first)

	for name, oid := range map[string]*git2go.Oid{"v1": first, "v2": second} {
		commit, lookupErr := native.LookupCommit(oid)
		require.NoError(t, lookupErr)

		_, err = native.Tags.CreateLightweight(name, commit, false)
		commit.Free()
		require.NoError(t, err)
	}

	repo, err := gitlib.OpenRepository(dir)
	require.NoError(t, err)

	t.Cleanup(repo.Free)

	got, err := pipeline.GitTags{Repo: repo}.TagCommits()
	require.NoError(t, err)

	assert.Equal(t, []reconcile.Tag{
		{Name: "v1", Commit: first.String()},
		{Name: "v2", Commit: second.String()},
	}, got)
}

func TestFilter_Apply(t *testing.T) {
	t.Parallel()

	names := []string{"v0.9", "v1.0", "v1.1", "v1.1-rc1", "v2.0"}

	tests := []struct {
		name   string
		filter pipeline.Filter
		want   []string
	}{
		{"zero value keeps all", pipeline.Filter{}, names},
		{"pattern", pipeline.Filter{Pattern: "v1.*"}, []string{"v1.0", "v1.1", "v1.1-rc1"}},
		{"skip", pipeline.Filter{Skip: 3}, []string{"v1.1-rc1", "v2.0"}},
		{"pattern then skip", pipeline.Filter{Pattern: "v1.?", Skip: 1}, []string{"v1.1"}},
		{"skip everything", pipeline.Filter{Skip: 9}, nil},
		{"no match", pipeline.Filter{Pattern: "release-*"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.filter.Apply(names))
		})
	}
}

func TestFilter_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, pipeline.Filter{Pattern: "v*", Skip: 2}.Validate())
	require.ErrorIs(t, pipeline.Filter{Skip: -1}.Validate(), pipeline.ErrInvalidFilter)
	require.ErrorIs(t, pipeline.Filter{Pattern: "[v"}.Validate(), pipeline.ErrInvalidFilter)
}

func TestRunLocal(t *testing.T) {
	t.Parallel()

	reports, err := localscan.NewReports("testdata/reports", nil)
	require.NoError(t, err)

	h := newHarness(t)

	manifest, err := pipeline.RunLocal(context.Background(), pipeline.LocalOptions{
		Producer: reports,
		Writer:   h.writer,
		Filter:   pipeline.Filter{Pattern: "v*"},
	})
	require.NoError(t, err)

	require.Len(t, manifest.Tags, 2)
	assert.Equal(t, "v1", manifest.Tags[0].Tag)
	assert.Equal(t, 1, manifest.Tags[0].Issues)
	assert.Equal(t, "v2", manifest.Tags[1].Tag)
	assert.Equal(t, 0, manifest.Tags[1].Issues)
	assert.Empty(t, manifest.Slug)
}

func TestRunLocal_InvalidReportStops(t *testing.T) {
	t.Parallel()

	reports, err := localscan.NewReports("testdata/reports", nil)
	require.NoError(t, err)

	h := newHarness(t)

	_, err = pipeline.RunLocal(context.Background(), pipeline.LocalOptions{
		Producer: reports,
		Writer:   h.writer,
	})
	require.ErrorIs(t, err, localscan.ErrInvalidReport)
	assert.Contains(t, err.Error(), "tag broken")
}

package codeclimate_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parameterIT/experiment-toolkit/pkg/codeclimate"
)

const testToken = "secret-token"

func newClient(t *testing.T, srv *httptest.Server, pageSize int) *codeclimate.Client {
	t.Helper()

	client, err := codeclimate.NewClient(codeclimate.Options{
		BaseURL:     srv.URL + "/v1/",
		Token:       testToken,
		PageSize:    pageSize,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
	})
	require.NoError(t, err)

	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/vnd.api+json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func buildJSON(id string, number int, state, sha, snapshot string) map[string]any {
	rel := map[string]any{"data": nil}
	if snapshot != "" {
		rel = map[string]any{"data": map[string]any{"id": snapshot, "type": "snapshots"}}
	}

	return map[string]any{
		"id":   id,
		"type": "builds",
		"attributes": map[string]any{
			"number":     number,
			"state":      state,
			"commit_sha": sha,
		},
		"relationships": map[string]any{"snapshot": rel},
	}
}

func TestNewClient_RequiresToken(t *testing.T) {
	t.Parallel()

	_, err := codeclimate.NewClient(codeclimate.Options{Token: "  "})
	require.ErrorIs(t, err, codeclimate.ErrMissingToken)
}

func TestRepositoryID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/repos", r.URL.Path)
		assert.Equal(t, "Token token="+testToken, r.Header.Get("Authorization"))

		if r.URL.Query().Get("github_slug") != "owner/project" {
			writeJSON(t, w, map[string]any{"data": []any{}})

			return
		}

		writeJSON(t, w, map[string]any{"data": []any{map[string]any{"id": "repo-1", "type": "repos"}}})
	}))
	defer srv.Close()

	client := newClient(t, srv, 100)

	id, err := client.RepositoryID(context.Background(), "owner/project")
	require.NoError(t, err)
	assert.Equal(t, "repo-1", id)

	_, err = client.RepositoryID(context.Background(), "owner/unknown")
	require.ErrorIs(t, err, codeclimate.ErrNotFound)
}

func TestListBuilds_FollowsNextLinks(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/repos/repo-1/builds", r.URL.Path)

		page, _ := strconv.Atoi(r.URL.Query().Get("page[number]"))

		doc := map[string]any{
			"data": []any{buildJSON(fmt.Sprintf("b%d", page), 10-page, codeclimate.StateComplete, fmt.Sprintf("c%d", page), "s")},
		}
		if page < 3 {
			doc["links"] = map[string]any{
				"next": fmt.Sprintf("%s/v1/repos/repo-1/builds?page[number]=%d&page[size]=1", srv.URL, page+1),
			}
		}

		writeJSON(t, w, doc)
	}))
	defer srv.Close()

	builds, err := newClient(t, srv, 1).ListBuilds(context.Background(), "repo-1")
	require.NoError(t, err)
	require.Len(t, builds, 3)

	assert.Equal(t, "c1", builds[0].Commit)
	assert.Equal(t, "c3", builds[2].Commit)
	assert.Equal(t, "repo-1", builds[0].RepositoryID)
	assert.Equal(t, "s", builds[0].SnapshotID)
	assert.True(t, builds[0].Complete())
}

func TestBuildPage_DoesNotFollow(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "2", r.URL.Query().Get("page[number]"))

		writeJSON(t, w, map[string]any{
			"data":  []any{buildJSON("b", 4, codeclimate.StateRunning, "abc", "")},
			"links": map[string]any{"next": "http://example.invalid/next"},
		})
	}))
	defer srv.Close()

	builds, err := newClient(t, srv, 100).BuildPage(context.Background(), "repo-1", 2)
	require.NoError(t, err)
	require.Len(t, builds, 1)

	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, builds[0].Complete())
	assert.Equal(t, codeclimate.StateRunning, builds[0].State)
}

func TestSnapshot_ComputesPages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/repos/repo-1/snapshots/snap-1", r.URL.Path)
		writeJSON(t, w, map[string]any{
			"data": map[string]any{"id": "snap-1", "meta": map[string]any{"issues_count": 250}},
		})
	}))
	defer srv.Close()

	snap, err := newClient(t, srv, 100).Snapshot(context.Background(), "snap-1", "repo-1")
	require.NoError(t, err)

	assert.Equal(t, 250, snap.IssueCount)
	assert.Equal(t, 3, snap.Pages)
	assert.Equal(t, 100, snap.PageSize)
}

func TestNewSnapshot_Pages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		total, size, pages int
	}{
		{0, 100, 0},
		{1, 100, 1},
		{100, 100, 1},
		{101, 100, 2},
		{250, 100, 3},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.pages, codeclimate.NewSnapshot("s", "r", tt.total, tt.size).Pages, "total=%d", tt.total)
	}
}

func issuePage(page, count int) map[string]any {
	data := make([]any, 0, count)
	for i := range count {
		data = append(data, map[string]any{
			"id": fmt.Sprintf("i-%d-%d", page, i),
			"attributes": map[string]any{
				"check_name": fmt.Sprintf("check-%d", page),
				"categories": []string{"Complexity", "Bug Risk"},
				"location":   map[string]any{"path": fmt.Sprintf("p%d.py", page), "start_line": i, "end_line": i + 1},
			},
		})
	}

	return map[string]any{"data": data}
}

func TestListIssues_FetchesExactlyDeclaredPages(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		requested []int
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/repos/repo-1/snapshots/snap-1/issues", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("page[size]"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page[number]"))
		mu.Lock()
		requested = append(requested, page)
		mu.Unlock()

		count := 100
		if page == 3 {
			count = 50
		}

		writeJSON(t, w, issuePage(page, count))
	}))
	defer srv.Close()

	client := newClient(t, srv, 100)

	got, err := client.ListIssues(context.Background(), codeclimate.NewSnapshot("snap-1", "repo-1", 250, 100))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []int{1, 2, 3}, requested)
	require.Len(t, got, 250)
	assert.Equal(t, "check-1", got[0].Check)
	assert.Equal(t, "check-2", got[100].Check)
	assert.Equal(t, "check-3", got[249].Check)
	assert.Equal(t, "Complexity", got[0].Category)
	assert.Equal(t, "p3.py", got[249].Location.Path)
}

func TestListIssues_UnderfilledPagesTrustTotal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, issuePage(int(calls.Load()), 10))
	}))
	defer srv.Close()

	got, err := newClient(t, srv, 100).ListIssues(context.Background(), codeclimate.NewSnapshot("s", "r", 250, 100))
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, got, 30)
}

func TestListIssues_MissingCategory(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"data": []any{
			map[string]any{"attributes": map[string]any{"check_name": "x", "categories": []string{}}},
		}})
	}))
	defer srv.Close()

	got, err := newClient(t, srv, 100).ListIssues(context.Background(), codeclimate.NewSnapshot("s", "r", 1, 100))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, codeclimate.UnknownCategory, got[0].Category)
}

func TestListIssues_PageFailureIsPartial(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page[number]") == "2" {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		writeJSON(t, w, issuePage(1, 100))
	}))
	defer srv.Close()

	_, err := newClient(t, srv, 100).ListIssues(context.Background(), codeclimate.NewSnapshot("s", "r", 150, 100))
	require.ErrorIs(t, err, codeclimate.ErrPartialPage)
	require.ErrorIs(t, err, codeclimate.ErrTransient)
}

func TestListIssues_ZeroIssuesMakesNoRequests(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("unexpected request")
	}))
	defer srv.Close()

	got, err := newClient(t, srv, 100).ListIssues(context.Background(), codeclimate.NewSnapshot("s", "r", 0, 100))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClient_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		want   error
		calls  int32
	}{
		{"not found", http.StatusNotFound, codeclimate.ErrNotFound, 1},
		{"unauthorized", http.StatusUnauthorized, codeclimate.ErrUnauthorized, 1},
		{"bad request", http.StatusBadRequest, codeclimate.ErrRequest, 1},
		{"server error", http.StatusInternalServerError, codeclimate.ErrTransient, 3},
		{"rate limited", http.StatusTooManyRequests, codeclimate.ErrTransient, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := newClient(t, srv, 100).BuildPage(context.Background(), "r", 1)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.calls, calls.Load())
		})
	}
}

type recorder struct {
	requests atomic.Int32
	errors   atomic.Int32
	inflight atomic.Int32
}

func (r *recorder) RecordRequest(_ context.Context, _, status string, _ time.Duration) {
	r.requests.Add(1)

	if status == "error" {
		r.errors.Add(1)
	}
}

func (r *recorder) TrackInflight(_ context.Context, _ string) func() {
	r.inflight.Add(1)

	return func() { r.inflight.Add(-1) }
}

func TestClient_RecordsMetrics(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page[number]") == "9" {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		writeJSON(t, w, map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	rec := &recorder{}

	client, err := codeclimate.NewClient(codeclimate.Options{
		BaseURL: srv.URL + "/v1",
		Token:   testToken,
		Metrics: rec,
		Backoff: time.Millisecond,
	})
	require.NoError(t, err)

	_, err = client.BuildPage(context.Background(), "r", 1)
	require.NoError(t, err)

	_, err = client.BuildPage(context.Background(), "r", 9)
	require.Error(t, err)

	assert.Equal(t, int32(2), rec.requests.Load())
	assert.Equal(t, int32(1), rec.errors.Load())
	assert.Equal(t, int32(0), rec.inflight.Load())
}

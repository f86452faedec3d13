package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parameterIT/experiment-toolkit/pkg/codeclimate"
	"github.com/parameterIT/experiment-toolkit/pkg/reconcile"
)

type staticTags []reconcile.Tag

func (s staticTags) TagCommits() ([]reconcile.Tag, error) { return s, nil }

type failingTags struct{ err error }

func (f failingTags) TagCommits() ([]reconcile.Tag, error) { return nil, f.err }

// fakeService plays both the analysis service and the mirror: pushing a
// commit schedules a build that completes after completeAfter polls.
type fakeService struct {
	mu            sync.Mutex
	builds        []codeclimate.Build
	pending       map[string]int
	completeAfter int
	neverComplete bool
	pushErrs      []error
	pushes        []string
	pagePolls     int
	listCalls     int
}

func newFakeService(builds ...codeclimate.Build) *fakeService {
	return &fakeService{builds: builds, pending: map[string]int{}, completeAfter: 1}
}

func (f *fakeService) PointMirrorAt(_ context.Context, commit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pushes = append(f.pushes, commit)

	if len(f.pushErrs) > 0 {
		err := f.pushErrs[0]
		f.pushErrs = f.pushErrs[1:]

		if err != nil {
			return err
		}
	}

	f.pending[commit] = f.completeAfter

	return nil
}

func (f *fakeService) ListBuilds(_ context.Context, _ string) ([]codeclimate.Build, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++

	return append([]codeclimate.Build(nil), f.builds...), nil
}

func (f *fakeService) BuildPage(_ context.Context, _ string, page int) ([]codeclimate.Build, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pagePolls++

	if page != 1 {
		return nil, nil
	}

	for commit, left := range f.pending {
		if f.neverComplete {
			continue
		}

		left--
		if left > 0 {
			f.pending[commit] = left

			continue
		}

		delete(f.pending, commit)
		f.builds = append([]codeclimate.Build{complete(len(f.builds)+1, commit)}, f.builds...)
	}

	return append([]codeclimate.Build(nil), f.builds...), nil
}

func complete(number int, commit string) codeclimate.Build {
	return codeclimate.Build{
		Number:     number,
		State:      codeclimate.StateComplete,
		Commit:     commit,
		SnapshotID: "snap-" + commit,
	}
}

// fakeClock advances by every sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)

	return ctx.Err()
}

type counter struct {
	mu     sync.Mutex
	pushes map[bool]int
	polls  int
}

func (c *counter) RecordPush(_ context.Context, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pushes == nil {
		c.pushes = map[bool]int{}
	}

	c.pushes[ok]++
}

func (c *counter) RecordPoll(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.polls++
}

func newDriver(t *testing.T, tags reconcile.TagSource, svc *fakeService, clock *fakeClock, cfg reconcile.Config) *reconcile.Driver {
	t.Helper()

	d, err := reconcile.NewDriver(reconcile.Options{
		Config: cfg,
		Tags:   tags,
		Builds: svc,
		Sync:   svc,
		Sleep:  clock.Sleep,
		Now:    clock.Now,
	})
	require.NoError(t, err)

	return d
}

func TestReconcile_PushesOnlyMissingCommit(t *testing.T) {
	t.Parallel()

	tags := staticTags{{Name: "v1", Commit: "c1"}, {Name: "v2", Commit: "c2"}}
	svc := newFakeService(complete(1, "c1"))
	svc.completeAfter = 3
	clock := &fakeClock{}

	d := newDriver(t, tags, svc, clock, reconcile.Config{PollInterval: 10 * time.Second})

	got, err := d.Reconcile(context.Background(), "repo")
	require.NoError(t, err)

	assert.Equal(t, []string{"c2"}, svc.pushes)
	assert.Equal(t, 3, svc.pagePolls)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second, 10 * time.Second}, clock.sleeps)
	assert.Equal(t, 2, svc.listCalls, "full list before and after polling")

	require.Len(t, got, 2)
	assert.Equal(t, reconcile.Assignment{Tag: "v1", Commit: "c1", BuildNumber: 1, SnapshotID: "snap-c1"}, got[0])
	assert.Equal(t, "v2", got[1].Tag)
	assert.Equal(t, "c2", got[1].Commit)
	assert.Equal(t, "snap-c2", got[1].SnapshotID)
}

func TestReconcile_Idempotent(t *testing.T) {
	t.Parallel()

	tags := staticTags{{Name: "v1", Commit: "c1"}, {Name: "v2", Commit: "c2"}}
	svc := newFakeService()
	clock := &fakeClock{}

	d := newDriver(t, tags, svc, clock, reconcile.DefaultConfig())

	first, err := d.Reconcile(context.Background(), "repo")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, svc.pushes)

	second, err := d.Reconcile(context.Background(), "repo")
	require.NoError(t, err)

	assert.Equal(t, []string{"c1", "c2"}, svc.pushes, "second run must not push")
	assert.Equal(t, first, second)
}

func TestReconcile_SharedCommitPushedOnce(t *testing.T) {
	t.Parallel()

	tags := staticTags{{Name: "v1", Commit: "c1"}, {Name: "v1.0", Commit: "c1"}}
	svc := newFakeService()
	clock := &fakeClock{}

	got, err := newDriver(t, tags, svc, clock, reconcile.DefaultConfig()).Reconcile(context.Background(), "repo")
	require.NoError(t, err)

	assert.Equal(t, []string{"c1"}, svc.pushes)
	require.Len(t, got, 2)
	assert.Equal(t, got[0].SnapshotID, got[1].SnapshotID)
}

func TestReconcile_TimeoutNamesCommit(t *testing.T) {
	t.Parallel()

	tags := staticTags{{Name: "v1", Commit: "c1"}, {Name: "v2", Commit: "c2"}}
	svc := newFakeService(complete(1, "c1"))
	svc.neverComplete = true
	clock := &fakeClock{}

	d := newDriver(t, tags, svc, clock, reconcile.Config{PollInterval: 10 * time.Second, MaxWait: time.Minute})

	got, err := d.Reconcile(context.Background(), "repo")
	require.Error(t, err)
	assert.Nil(t, got)

	require.ErrorIs(t, err, reconcile.ErrReconciliation)
	require.ErrorIs(t, err, reconcile.ErrPollTimeout)

	var rerr *reconcile.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "v2", rerr.Tag)
	assert.Equal(t, "c2", rerr.Commit)
	assert.Contains(t, err.Error(), "c2")

	assert.Equal(t, 6, svc.pagePolls)
}

func TestReconcile_Cancelled(t *testing.T) {
	t.Parallel()

	tags := staticTags{{Name: "v1", Commit: "c1"}}
	svc := newFakeService()
	svc.neverComplete = true

	ctx, cancel := context.WithCancel(context.Background())

	polls := 0
	d, err := reconcile.NewDriver(reconcile.Options{
		Config: reconcile.Config{PollInterval: time.Second},
		Tags:   tags,
		Builds: svc,
		Sync:   svc,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			polls++
			if polls == 3 {
				cancel()
			}

			return ctx.Err()
		},
	})
	require.NoError(t, err)

	_, err = d.Reconcile(ctx, "repo")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, reconcile.ErrReconciliation)
}

func TestReconcile_ErroredBuildDoesNotCover(t *testing.T) {
	t.Parallel()

	errored := codeclimate.Build{Number: 5, State: codeclimate.StateErrored, Commit: "c1"}
	tags := staticTags{{Name: "v1", Commit: "c1"}}
	svc := newFakeService(errored)
	clock := &fakeClock{}

	got, err := newDriver(t, tags, svc, clock, reconcile.DefaultConfig()).Reconcile(context.Background(), "repo")
	require.NoError(t, err)

	assert.Equal(t, []string{"c1"}, svc.pushes)
	require.Len(t, got, 1)
	assert.Equal(t, "snap-c1", got[0].SnapshotID)
}

func TestReconcile_PushRetried(t *testing.T) {
	t.Parallel()

	tags := staticTags{{Name: "v1", Commit: "c1"}}
	svc := newFakeService()
	svc.pushErrs = []error{errors.New("remote hung up"), nil}
	clock := &fakeClock{}
	rec := &counter{}

	d, err := reconcile.NewDriver(reconcile.Options{
		Config:   reconcile.Config{PollInterval: time.Second, SyncAttempts: 3, SyncBackoff: 2 * time.Second},
		Tags:     tags,
		Builds:   svc,
		Sync:     svc,
		Recorder: rec,
		Sleep:    clock.Sleep,
		Now:      clock.Now,
	})
	require.NoError(t, err)

	_, err = d.Reconcile(context.Background(), "repo")
	require.NoError(t, err)

	assert.Equal(t, []string{"c1", "c1"}, svc.pushes)
	assert.Equal(t, 2*time.Second, clock.sleeps[0])
	assert.Equal(t, 1, rec.pushes[false])
	assert.Equal(t, 1, rec.pushes[true])
	assert.Equal(t, 1, rec.polls)
}

func TestReconcile_PushExhausted(t *testing.T) {
	t.Parallel()

	boom := errors.New("permission denied")
	tags := staticTags{{Name: "v1", Commit: "c1"}}
	svc := newFakeService()
	svc.pushErrs = []error{boom, boom}
	clock := &fakeClock{}

	d := newDriver(t, tags, svc, clock, reconcile.Config{SyncAttempts: 2})

	_, err := d.Reconcile(context.Background(), "repo")
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, reconcile.ErrReconciliation)
	assert.Len(t, svc.pushes, 2)
	assert.Zero(t, svc.pagePolls)
}

func TestReconcile_TagResolutionFails(t *testing.T) {
	t.Parallel()

	boom := errors.New("corrupt tag")
	svc := newFakeService()

	_, err := newDriver(t, failingTags{err: boom}, svc, &fakeClock{}, reconcile.DefaultConfig()).
		Reconcile(context.Background(), "repo")
	require.ErrorIs(t, err, boom)
	assert.Zero(t, svc.listCalls)
}

func TestNewDriver_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := reconcile.NewDriver(reconcile.Options{})
	require.Error(t, err)
}

func TestMissing(t *testing.T) {
	t.Parallel()

	tags := []reconcile.Tag{
		{Name: "v1", Commit: "c1"},
		{Name: "v2", Commit: "c2"},
		{Name: "v2.1", Commit: "c2"},
		{Name: "v3", Commit: "c3"},
	}
	builds := []codeclimate.Build{
		complete(1, "c1"),
		{Number: 2, State: codeclimate.StateRunning, Commit: "c3"},
		{Number: 3, State: "queued_for_review", Commit: "c2"},
	}

	got := reconcile.Missing(tags, builds)

	assert.Equal(t, []reconcile.Tag{{Name: "v2", Commit: "c2"}, {Name: "v3", Commit: "c3"}}, got)
}

func TestSelect_HighestNumberWins(t *testing.T) {
	t.Parallel()

	a := complete(4, "c1")
	a.SnapshotID = "older"
	b := complete(9, "c1")
	b.SnapshotID = "newer"
	tie := complete(9, "c1")
	tie.SnapshotID = "tie"

	got, ok := reconcile.Select([]codeclimate.Build{a, b, tie, complete(12, "c2")}, "c1")
	require.True(t, ok)
	assert.Equal(t, "newer", got.SnapshotID)

	_, ok = reconcile.Select([]codeclimate.Build{{Number: 1, State: codeclimate.StateComplete, Commit: "c3"}}, "c3")
	assert.False(t, ok, "complete build without snapshot does not count")
}

func TestAssign_MissingBuild(t *testing.T) {
	t.Parallel()

	_, err := reconcile.Assign([]reconcile.Tag{{Name: "v1", Commit: "c1"}}, nil)
	require.ErrorIs(t, err, reconcile.ErrNoCompleteBuild)
	require.ErrorIs(t, err, reconcile.ErrReconciliation)
	assert.Contains(t, err.Error(), "v1")
}

package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streambro/backend/internal/launcher"
	"github.com/streambro/backend/internal/logging"
	"github.com/streambro/backend/internal/platform"
	"github.com/streambro/backend/pkg/models"
)

type fakeRegistry struct {
	streams  map[string]*models.Stream
	statuses map[string][]string
	cleared  map[string]int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		streams:  map[string]*models.Stream{},
		statuses: map[string][]string{},
		cleared:  map[string]int{},
	}
}

func (r *fakeRegistry) GetStream(_ context.Context, id string) (*models.Stream, error) {
	s, ok := r.streams[id]
	if !ok {
		return nil, errors.New("stream not found")
	}
	copied := *s
	return &copied, nil
}

func (r *fakeRegistry) SetStreamStatus(_ context.Context, id, status string) error {
	r.statuses[id] = append(r.statuses[id], status)
	if s, ok := r.streams[id]; ok {
		s.Status = status
	}
	return nil
}

func (r *fakeRegistry) ClearSchedule(_ context.Context, id string) error {
	r.cleared[id]++
	if s, ok := r.streams[id]; ok {
		s.ActiveScheduleID = nil
	}
	return nil
}

func (r *fakeRegistry) ListActiveStreams(_ context.Context) ([]*models.Stream, error) {
	var out []*models.Stream
	for _, s := range r.streams {
		if models.IsActiveStatus(s.Status) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeScheduleStore struct {
	results map[string]string
}

func (s *fakeScheduleStore) RecordScheduleResult(_ context.Context, id, result string) error {
	if _, ok := s.results[id]; !ok {
		s.results[id] = result
	}
	return nil
}

type fakePlatform struct {
	status    string
	statusErr error
}

func (p *fakePlatform) CreateBroadcast(_ context.Context, _, _ string, _ *int) (string, error) {
	return "", errors.New("not used")
}

func (p *fakePlatform) GetBroadcastStatus(_ context.Context, _ string) (string, error) {
	return p.status, p.statusErr
}

func (p *fakePlatform) TransitionBroadcast(_ context.Context, _, _ string) error {
	return nil
}

func liveStream(id string, external bool) *models.Stream {
	scheduleID := "sched-" + id
	s := &models.Stream{
		ID:               id,
		Title:            "test",
		Status:           models.StreamStatusLive,
		UseExternalAPI:   external,
		ActiveScheduleID: &scheduleID,
	}
	if external {
		bcast := "bcast-" + id
		s.ExternalBroadcastID = &bcast
	}
	return s
}

func setup() (*Reconciler, *fakeRegistry, *fakeScheduleStore, *fakePlatform) {
	registry := newFakeRegistry()
	store := &fakeScheduleStore{results: map[string]string{}}
	pf := &fakePlatform{status: platform.BroadcastStatusLive}
	r := New(registry, store, pf, logging.Nop())
	return r, registry, store, pf
}

func exitInfo(requested bool, err error) launcher.ExitInfo {
	started := time.Now().Add(-time.Minute)
	return launcher.ExitInfo{
		Requested:  requested,
		ScheduleID: "sched-s1",
		StartedAt:  started,
		ExitedAt:   time.Now(),
		Err:        err,
	}
}

func TestRequestedExitEndsStream(t *testing.T) {
	r, registry, _, _ := setup()
	registry.streams["s1"] = liveStream("s1", false)

	r.ProcessExited(context.Background(), "s1", exitInfo(true, nil))

	assert.Equal(t, []string{models.StreamStatusEnded}, registry.statuses["s1"])
	assert.Equal(t, 1, registry.cleared["s1"])
}

func TestCrashMarksStreamError(t *testing.T) {
	r, registry, store, _ := setup()
	registry.streams["s1"] = liveStream("s1", false)

	r.ProcessExited(context.Background(), "s1", exitInfo(false, errors.New("exit status 1")))

	assert.Equal(t, []string{models.StreamStatusError}, registry.statuses["s1"])
	assert.Equal(t, 1, registry.cleared["s1"])
	assert.Equal(t, models.ScheduleResultFailed, store.results["sched-s1"])
}

func TestCrashWithPlatformCompleteEndsStream(t *testing.T) {
	r, registry, store, pf := setup()
	registry.streams["s1"] = liveStream("s1", true)
	pf.status = platform.BroadcastStatusComplete

	r.ProcessExited(context.Background(), "s1", exitInfo(false, errors.New("exit status 1")))

	assert.Equal(t, []string{models.StreamStatusEnded}, registry.statuses["s1"])
	assert.Empty(t, store.results)
}

func TestCrashWithPlatformStillLiveMarksError(t *testing.T) {
	r, registry, _, pf := setup()
	registry.streams["s1"] = liveStream("s1", true)
	pf.status = platform.BroadcastStatusLive

	r.ProcessExited(context.Background(), "s1", exitInfo(false, errors.New("exit status 1")))

	assert.Equal(t, []string{models.StreamStatusError}, registry.statuses["s1"])
}

func TestPlatformCheckFailureFallsBackToExitError(t *testing.T) {
	r, registry, _, pf := setup()
	registry.streams["s1"] = liveStream("s1", true)
	pf.statusErr = errors.New("platform down")

	r.ProcessExited(context.Background(), "s1", exitInfo(false, errors.New("exit status 1")))

	assert.Equal(t, []string{models.StreamStatusError}, registry.statuses["s1"])
}

func TestCleanUnrequestedExitEndsStream(t *testing.T) {
	r, registry, store, _ := setup()
	registry.streams["s1"] = liveStream("s1", false)

	r.ProcessExited(context.Background(), "s1", exitInfo(false, nil))

	assert.Equal(t, []string{models.StreamStatusEnded}, registry.statuses["s1"])
	assert.Empty(t, store.results)
}

func TestFinalizationIsIdempotent(t *testing.T) {
	r, registry, _, _ := setup()
	registry.streams["s1"] = liveStream("s1", false)

	r.ProcessExited(context.Background(), "s1", exitInfo(true, nil))
	r.ProcessExited(context.Background(), "s1", exitInfo(true, nil))

	// Single terminal transition, but the link is cleared both times
	assert.Equal(t, []string{models.StreamStatusEnded}, registry.statuses["s1"])
	assert.Equal(t, 2, registry.cleared["s1"])
}

func TestUnknownStreamIsIgnored(t *testing.T) {
	r, registry, _, _ := setup()

	r.ProcessExited(context.Background(), "missing", exitInfo(true, nil))

	assert.Empty(t, registry.statuses)
	assert.Empty(t, registry.cleared)
}

func TestRecoverOrphans(t *testing.T) {
	r, registry, _, _ := setup()
	registry.streams["s1"] = liveStream("s1", false)
	registry.streams["s2"] = liveStream("s2", true)
	registry.streams["s3"] = &models.Stream{ID: "s3", Status: models.StreamStatusEnded}

	recovered, err := r.RecoverOrphans(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, recovered)
	assert.Equal(t, []string{models.StreamStatusError}, registry.statuses["s1"])
	assert.Equal(t, []string{models.StreamStatusError}, registry.statuses["s2"])
	assert.Empty(t, registry.statuses["s3"])
	assert.Equal(t, 1, registry.cleared["s1"])
	assert.Equal(t, 1, registry.cleared["s2"])
}

func TestRecoverOrphansEmpty(t *testing.T) {
	r, _, _, _ := setup()

	recovered, err := r.RecoverOrphans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)
}

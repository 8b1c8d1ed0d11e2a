package topology

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/deepfence/ThreatMapper-sub005/internal/metrics"
	"github.com/deepfence/ThreatMapper-sub005/internal/models"
)

// fakeReporter returns a root host, and its container only when the host
// is expanded.
type fakeReporter struct {
	mu      sync.Mutex
	err     error
	calls   []models.TopologyFilters
	block   chan struct{}
	started chan struct{}
}

func (r *fakeReporter) Graph(ctx context.Context, view models.ViewType, filters models.TopologyFilters) (models.GraphResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, filters)
	err, block, started := r.err, r.block, r.started
	r.started = nil
	r.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return models.GraphResult{}, err
	}
	nodes := []models.Node{node("h1", models.NodeTypeHost, "")}
	for _, id := range filters.HostFilter {
		nodes = append(nodes, node(id+";c", models.NodeTypeContainer, id))
	}
	return graph(nodes), nil
}

type memoryStore struct {
	mu      sync.Mutex
	filters map[string]models.TopologyFilters
}

func (s *memoryStore) SaveFilters(_ context.Context, id string, f models.TopologyFilters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters[id] = f
	return nil
}

func (s *memoryStore) LoadFilters(_ context.Context, id string) (models.TopologyFilters, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.filters[id]
	return f, ok, nil
}

func newTestService(t *testing.T, reporter Reporter, opts ...ServiceOption) *Service {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return NewService(NewRegistry(200, logger), reporter, logger, opts...)
}

func TestServiceExpandCollapse(t *testing.T) {
	svc := newTestService(t, &fakeReporter{})
	session, err := svc.OpenSession(context.Background(), OpenRequest{Owner: "alice", View: models.ViewHost})
	require.NoError(t, err)

	result, err := svc.Apply(context.Background(), "alice", session.ID, models.RefreshAction())
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, nodeIDs(result.Diff.NodesDiff.Add))

	result, err = svc.Apply(context.Background(), "alice", session.ID, models.TopologyAction{
		Type: models.ActionExpandNode, NodeID: "h1", NodeType: models.NodeTypeHost,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"h1;c"}, nodeIDs(result.Diff.NodesDiff.Add))
	assert.Equal(t, []string{"h1"}, result.Filters.HostFilter)
	assert.Equal(t, 2, result.NodeCount)

	result, err = svc.Apply(context.Background(), "alice", session.ID, models.TopologyAction{
		Type: models.ActionCollapseNode, NodeID: "h1", NodeType: models.NodeTypeHost,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"h1;c"}, nodeIDs(result.Diff.NodesDiff.Remove))
	assert.Empty(t, result.Filters.HostFilter)
	assert.Equal(t, models.ActionCollapseNode, session.LastAction().Type)
}

func TestServiceUnknownSessionAndAction(t *testing.T) {
	svc := newTestService(t, &fakeReporter{})

	_, err := svc.Apply(context.Background(), "alice", "nope", models.RefreshAction())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	session, err := svc.OpenSession(context.Background(), OpenRequest{Owner: "alice", View: models.ViewHost})
	require.NoError(t, err)
	_, err = svc.Apply(context.Background(), "alice", session.ID, models.TopologyAction{Type: "teleport"})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestServiceReporterFailureKeepsLastSnapshot(t *testing.T) {
	reporter := &fakeReporter{}
	reg := prometheus.NewRegistry()
	m := metrics.NewTopology(reg)
	svc := newTestService(t, reporter, WithMetrics(m))
	session, err := svc.OpenSession(context.Background(), OpenRequest{Owner: "alice", View: models.ViewHost})
	require.NoError(t, err)
	_, err = svc.Apply(context.Background(), "alice", session.ID, models.RefreshAction())
	require.NoError(t, err)

	reporter.mu.Lock()
	reporter.err = errors.New("neo4j down")
	reporter.mu.Unlock()

	_, err = svc.Apply(context.Background(), "alice", session.ID, models.TopologyAction{
		Type: models.ActionExpandNode, NodeID: "h1", NodeType: models.NodeTypeHost,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neo4j down")

	assert.Equal(t, 1, session.Manager.APIData().TotalNodes())
	// The expansion stays recorded and is sent with the next query.
	assert.True(t, session.Manager.IsNodeExpanded("h1", models.NodeTypeHost))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsDropped.WithLabelValues(metrics.ReasonReporter)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsApplied.WithLabelValues("host", "refresh")))
}

func TestServiceDropsRequestWhileInFlight(t *testing.T) {
	reporter := &fakeReporter{block: make(chan struct{}), started: make(chan struct{})}
	svc := newTestService(t, reporter)
	session, err := svc.OpenSession(context.Background(), OpenRequest{Owner: "alice", View: models.ViewHost})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Apply(context.Background(), "alice", session.ID, models.RefreshAction())
		done <- err
	}()
	<-reporter.started

	_, err = svc.Apply(context.Background(), "alice", session.ID, models.RefreshAction())
	assert.ErrorIs(t, err, ErrRequestInFlight)

	close(reporter.block)
	require.NoError(t, <-done)
	reporter.mu.Lock()
	assert.Len(t, reporter.calls, 1)
	reporter.mu.Unlock()
}

func TestServiceNodeLimit(t *testing.T) {
	logger := zaptest.NewLogger(t)
	svc := NewService(NewRegistry(2, logger), &fakeReporter{}, logger)
	session, err := svc.OpenSession(context.Background(), OpenRequest{Owner: "alice", View: models.ViewHost})
	require.NoError(t, err)
	_, err = svc.Apply(context.Background(), "alice", session.ID, models.RefreshAction())
	require.NoError(t, err)

	_, err = svc.Apply(context.Background(), "alice", session.ID, models.TopologyAction{
		Type: models.ActionExpandNode, NodeID: "h1", NodeType: models.NodeTypeHost,
	})
	assert.ErrorIs(t, err, ErrNodeLimitExceeded)
	assert.Equal(t, 1, session.Manager.APIData().TotalNodes())
}

func TestServiceTableSessionIgnoresNodeLimit(t *testing.T) {
	logger := zaptest.NewLogger(t)
	svc := NewService(NewRegistry(1, logger), &fakeReporter{}, logger)
	ctx := context.Background()

	graphSession, err := svc.OpenSession(ctx, OpenRequest{Owner: "alice", View: models.ViewHost})
	require.NoError(t, err)
	assert.Equal(t, KindGraph, graphSession.Kind)
	_, err = svc.Apply(ctx, "alice", graphSession.ID, models.RefreshAction())
	assert.ErrorIs(t, err, ErrNodeLimitExceeded)

	table, err := svc.OpenSession(ctx, OpenRequest{Owner: "alice", View: models.ViewHost, Kind: KindTable})
	require.NoError(t, err)
	_, err = svc.Apply(ctx, "alice", table.ID, models.RefreshAction())
	require.NoError(t, err)
	result, err := svc.Apply(ctx, "alice", table.ID, models.TopologyAction{
		Type: models.ActionExpandNode, NodeID: "h1", NodeType: models.NodeTypeHost,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.NodeCount)
	assert.Equal(t, 2, table.Manager.APIData().TotalNodes())
}

func TestServiceResumeReturnsOpenSession(t *testing.T) {
	store := &memoryStore{filters: map[string]models.TopologyFilters{}}
	svc := newTestService(t, &fakeReporter{}, WithFilterStore(store))
	ctx := context.Background()
	session, err := svc.OpenSession(ctx, OpenRequest{Owner: "alice", View: models.ViewHost})
	require.NoError(t, err)
	_, err = svc.Apply(ctx, "alice", session.ID, models.TopologyAction{
		Type: models.ActionExpandNode, NodeID: "h1", NodeType: models.NodeTypeHost,
	})
	require.NoError(t, err)

	again, err := svc.OpenSession(ctx, OpenRequest{Owner: "alice", View: models.ViewHost, ResumeID: session.ID})
	require.NoError(t, err)
	assert.Same(t, session, again)
	assert.Equal(t, 2, again.Manager.APIData().TotalNodes())
	assert.Equal(t, 1, svc.Registry().Len())
}

func TestServiceSessionsBelongToTheirOwner(t *testing.T) {
	store := &memoryStore{filters: map[string]models.TopologyFilters{}}
	svc := newTestService(t, &fakeReporter{}, WithFilterStore(store))
	ctx := context.Background()
	session, err := svc.OpenSession(ctx, OpenRequest{Owner: "alice", View: models.ViewHost})
	require.NoError(t, err)
	_, err = svc.Apply(ctx, "alice", session.ID, models.TopologyAction{
		Type: models.ActionExpandNode, NodeID: "h1", NodeType: models.NodeTypeHost,
	})
	require.NoError(t, err)

	_, err = svc.Apply(ctx, "mallory", session.ID, models.RefreshAction())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, svc.CloseSession("mallory", session.ID), ErrSessionNotFound)

	// Resuming someone else's id, open or checkpointed, yields a fresh session.
	other, err := svc.OpenSession(ctx, OpenRequest{Owner: "mallory", View: models.ViewHost, ResumeID: session.ID})
	require.NoError(t, err)
	assert.NotEqual(t, session.ID, other.ID)
	assert.False(t, other.Manager.IsNodeExpanded("h1", models.NodeTypeHost))

	require.NoError(t, svc.CloseSession("alice", session.ID))
	other, err = svc.OpenSession(ctx, OpenRequest{Owner: "mallory", View: models.ViewHost, ResumeID: session.ID})
	require.NoError(t, err)
	assert.NotEqual(t, session.ID, other.ID)
	assert.False(t, other.Manager.IsNodeExpanded("h1", models.NodeTypeHost))
}

func TestServiceCheckpointsAndResumesFilters(t *testing.T) {
	store := &memoryStore{filters: map[string]models.TopologyFilters{}}
	svc := newTestService(t, &fakeReporter{}, WithFilterStore(store))
	session, err := svc.OpenSession(context.Background(), OpenRequest{Owner: "alice", View: models.ViewHost})
	require.NoError(t, err)

	_, err = svc.Apply(context.Background(), "alice", session.ID, models.TopologyAction{
		Type: models.ActionExpandNode, NodeID: "h1", NodeType: models.NodeTypeHost,
	})
	require.NoError(t, err)
	require.NoError(t, svc.CloseSession("alice", session.ID))
	assert.ErrorIs(t, svc.CloseSession("alice", session.ID), ErrSessionNotFound)

	resumed, err := svc.OpenSession(context.Background(), OpenRequest{Owner: "alice", View: models.ViewHost, ResumeID: session.ID})
	require.NoError(t, err)
	assert.Equal(t, session.ID, resumed.ID)
	assert.True(t, resumed.Manager.IsNodeExpanded("h1", models.NodeTypeHost))

	fresh, err := svc.OpenSession(context.Background(), OpenRequest{Owner: "alice", View: models.ViewHost, ResumeID: "unknown"})
	require.NoError(t, err)
	assert.NotEqual(t, "unknown", fresh.ID)
}

func TestServiceRunJanitor(t *testing.T) {
	svc := newTestService(t, &fakeReporter{})
	_, err := svc.OpenSession(context.Background(), OpenRequest{Owner: "alice", View: models.ViewHost})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.RunJanitor(ctx, 5*time.Millisecond, time.Nanosecond)

	assert.Eventually(t, func() bool { return svc.Registry().Len() == 0 }, time.Second, 5*time.Millisecond)
}

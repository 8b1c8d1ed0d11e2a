package topology

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/deepfence/ThreatMapper-sub005/internal/metrics"
	"github.com/deepfence/ThreatMapper-sub005/internal/models"
)

// ErrUnknownAction is returned for an action kind Apply does not handle.
var ErrUnknownAction = errors.New("unknown topology action")

// Reporter answers topology queries for a view and a set of expansion filters.
type Reporter interface {
	Graph(ctx context.Context, view models.ViewType, filters models.TopologyFilters) (models.GraphResult, error)
}

// FilterStore checkpoints a session's expansion filters.
type FilterStore interface {
	SaveFilters(ctx context.Context, sessionID string, filters models.TopologyFilters) error
	LoadFilters(ctx context.Context, sessionID string) (models.TopologyFilters, bool, error)
}

// ActionResult is what a view receives after one action round-trip.
type ActionResult struct {
	SessionID string                 `json:"session_id"`
	Action    models.TopologyAction  `json:"action"`
	Diff      *GraphDiff             `json:"diff"`
	Filters   models.TopologyFilters `json:"filters"`
	NodeCount int                    `json:"node_count"`
}

// Service runs expand, collapse and refresh actions against sessions.
type Service struct {
	registry *Registry
	reporter Reporter
	store    FilterStore
	metrics  *metrics.Topology
	logger   *zap.Logger
}

type ServiceOption func(*Service)

func WithFilterStore(store FilterStore) ServiceOption {
	return func(s *Service) {
		s.store = store
	}
}

func WithMetrics(m *metrics.Topology) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(registry *Registry, reporter Reporter, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		registry: registry,
		reporter: reporter,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Registry() *Registry {
	return s.registry
}

// OpenRequest describes the session a view asks for.
type OpenRequest struct {
	Owner    string
	View     models.ViewType
	Kind     SessionKind
	ResumeID string
}

// OpenSession creates a session for req.Owner. When req.ResumeID names a
// session the owner still has open, that session is returned as is. When it
// names a checkpoint of the owner's, the new session reuses the id and the
// saved filters. Anything else gets a fresh session.
func (s *Service) OpenSession(ctx context.Context, req OpenRequest) (*Session, error) {
	if req.Kind == "" {
		req.Kind = KindGraph
	}
	var session *Session
	if req.ResumeID != "" {
		if live, err := s.registry.Get(req.ResumeID, req.Owner); err == nil {
			return live, nil
		}
		session = s.resume(ctx, req)
	}
	if session == nil {
		session = s.registry.Create(req.Owner, req.View, req.Kind)
	}
	s.metrics.SetSessions(s.registry.Len())
	return session, nil
}

func (s *Service) resume(ctx context.Context, req OpenRequest) *Session {
	if s.store == nil {
		return nil
	}
	filters, ok, err := s.store.LoadFilters(ctx, checkpointKey(req.Owner, req.ResumeID))
	if err != nil {
		s.logger.Warn("failed to load filter checkpoint", zap.String("session", req.ResumeID), zap.Error(err))
	}
	if !ok {
		return nil
	}
	session, err := s.registry.CreateWithID(req.ResumeID, req.Owner, req.View, req.Kind)
	if err != nil {
		s.logger.Warn("cannot resume topology session", zap.String("session", req.ResumeID), zap.Error(err))
		return nil
	}
	session.Manager.RestoreFilters(filters)
	return session
}

// checkpointKey scopes checkpoints to their owner.
func checkpointKey(owner, sessionID string) string {
	return owner + "/" + sessionID
}

func (s *Service) CloseSession(owner, id string) error {
	if err := s.registry.Delete(id, owner); err != nil {
		return err
	}
	s.metrics.SetSessions(s.registry.Len())
	return nil
}

// Apply runs one action for a session of owner: mutate filters, query the reporter,
// apply the snapshot. Only one action per session runs at a time; a second
// one fails with ErrRequestInFlight.
func (s *Service) Apply(ctx context.Context, owner, sessionID string, action models.TopologyAction) (*ActionResult, error) {
	session, err := s.registry.Get(sessionID, owner)
	if err != nil {
		return nil, err
	}
	if err := session.TryBegin(); err != nil {
		s.metrics.Dropped(metrics.ReasonInFlight)
		return nil, err
	}
	defer session.End(&action)

	logger := s.logger.With(
		zap.String("session", session.ID),
		zap.String("view", string(session.View)),
		zap.String("kind", string(session.Kind)),
		zap.String("action", string(action.Type)),
	)

	manager := session.Manager
	switch action.Type {
	case models.ActionExpandNode:
		manager.AddNodeToFilters(action.NodeID, action.NodeType)
	case models.ActionCollapseNode:
		removed := manager.RemoveNodeFromFilters(action.NodeID, action.NodeType)
		logger.Debug("collapsed nodes", zap.Strings("ids", removed))
	case models.ActionRefresh:
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownAction, action.Type)
	}

	seq := manager.NextSequence()
	filters := manager.Filters()
	graph, err := s.reporter.Graph(ctx, session.View, filters)
	if err != nil {
		s.metrics.Dropped(metrics.ReasonReporter)
		logger.Error("topology query failed", zap.Error(err))
		return nil, fmt.Errorf("query topology: %w", err)
	}

	if err := manager.ApplyGraphData(seq, graph); err != nil {
		switch {
		case errors.Is(err, ErrStaleSnapshot):
			s.metrics.Dropped(metrics.ReasonStale)
		case errors.Is(err, ErrNodeLimitExceeded):
			s.metrics.Dropped(metrics.ReasonNodeLimit)
		}
		logger.Warn("topology snapshot not applied", zap.Uint64("seq", seq), zap.Int("nodes", graph.TotalNodes()), zap.Error(err))
		return nil, err
	}

	diff := manager.Diff()
	counts := diff.Counts()
	filters = manager.Filters()
	s.metrics.Applied(string(session.View), string(action.Type),
		counts.NodesAdded+counts.EdgesAdded, counts.NodesRemoved+counts.EdgesRemoved)
	logger.Debug("topology snapshot applied",
		zap.Uint64("seq", seq),
		zap.Int("nodesAdded", counts.NodesAdded),
		zap.Int("nodesRemoved", counts.NodesRemoved),
		zap.Int("edgesAdded", counts.EdgesAdded),
		zap.Int("edgesRemoved", counts.EdgesRemoved),
	)

	if s.store != nil {
		if err := s.store.SaveFilters(ctx, checkpointKey(session.Owner, session.ID), filters); err != nil {
			logger.Warn("failed to checkpoint filters", zap.Error(err))
		}
	}

	return &ActionResult{
		SessionID: session.ID,
		Action:    action,
		Diff:      diff,
		Filters:   filters,
		NodeCount: graph.TotalNodes(),
	}, nil
}

// RunJanitor evicts sessions idle for longer than maxIdle, checking every
// interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.registry.Sweep(maxIdle)
			s.metrics.SetSessions(s.registry.Len())
		}
	}
}

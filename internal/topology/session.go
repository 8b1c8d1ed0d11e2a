package topology

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deepfence/ThreatMapper-sub005/internal/models"
)

var (
	ErrSessionNotFound = errors.New("topology session not found")
	// ErrRequestInFlight is returned when a session already has a snapshot
	// request outstanding.
	ErrRequestInFlight = errors.New("topology request already in flight")
	// ErrSessionExists is returned when an id is already taken by an open session.
	ErrSessionExists = errors.New("topology session already exists")
)

// SessionKind says how a session's snapshots are rendered.
type SessionKind string

const (
	// KindGraph sessions feed the graph view and are bound by the node limit.
	KindGraph SessionKind = "graph"
	// KindTable sessions feed tree tables, which show every node.
	KindTable SessionKind = "table"
)

// ParseSessionKind falls back to KindGraph for anything unknown.
func ParseSessionKind(raw string) SessionKind {
	if SessionKind(raw) == KindTable {
		return KindTable
	}
	return KindGraph
}

// Session is one mounted view: a graph or a tree table with its own manager.
// Only its owner can reach it through the registry.
type Session struct {
	ID      string
	Owner   string
	View    models.ViewType
	Kind    SessionKind
	Manager *StorageManager

	mu         sync.Mutex
	inFlight   bool
	lastAction *models.TopologyAction
	lastUsed   time.Time
}

// TryBegin claims the session for one request. It fails while another
// request holds it.
func (s *Session) TryBegin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrRequestInFlight
	}
	s.inFlight = true
	s.lastUsed = time.Now()
	return nil
}

// End releases the claim taken by TryBegin and records the action served.
func (s *Session) End(action *models.TopologyAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	s.lastUsed = time.Now()
	if action != nil {
		a := *action
		s.lastAction = &a
	}
}

func (s *Session) LastAction() *models.TopologyAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastAction == nil {
		return nil
	}
	a := *s.lastAction
	return &a
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return 0
	}
	return now.Sub(s.lastUsed)
}

// Registry owns the sessions of one server. It is created at startup and
// closed on shutdown.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	maxNodes int
	logger   *zap.Logger
	now      func() time.Time
}

func NewRegistry(maxNodes int, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: map[string]*Session{},
		maxNodes: maxNodes,
		logger:   logger,
		now:      time.Now,
	}
}

// Create opens a session with a fresh id.
func (r *Registry) Create(owner string, view models.ViewType, kind SessionKind) *Session {
	for {
		if s, err := r.CreateWithID(uuid.NewString(), owner, view, kind); err == nil {
			return s
		}
	}
}

// CreateWithID opens a session under id. It fails with ErrSessionExists when
// the id is taken, leaving the open session untouched.
func (r *Registry) CreateWithID(id, owner string, view models.ViewType, kind SessionKind) (*Session, error) {
	var opts []ManagerOption
	if kind == KindGraph {
		opts = append(opts, WithMaxNodes(r.maxNodes))
	}
	s := &Session{
		ID:       id,
		Owner:    owner,
		View:     view,
		Kind:     kind,
		Manager:  NewStorageManager(opts...),
		lastUsed: r.now(),
	}
	r.mu.Lock()
	if _, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return nil, ErrSessionExists
	}
	r.sessions[id] = s
	r.mu.Unlock()
	r.logger.Debug("topology session opened",
		zap.String("session", id),
		zap.String("owner", owner),
		zap.String("view", string(view)),
		zap.String("kind", string(kind)),
	)
	return s, nil
}

// Get returns the session id owned by owner. Sessions of other owners are
// reported as not found.
func (r *Registry) Get(id, owner string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || s.Owner != owner {
		return nil, ErrSessionNotFound
	}
	s.touch()
	return s, nil
}

func (r *Registry) Delete(id, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Owner != owner {
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	r.logger.Debug("topology session closed", zap.String("session", id), zap.String("owner", owner))
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep drops sessions idle for longer than maxIdle and returns how many went.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.idleSince(now) > maxIdle {
			delete(r.sessions, id)
			n++
		}
	}
	if n > 0 {
		r.logger.Info("evicted idle topology sessions", zap.Int("count", n), zap.Int("remaining", len(r.sessions)))
	}
	return n
}

// Close drops every session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = map[string]*Session{}
}

package db

import (
	"context"
	"sync"
	"time"

	"github.com/deepfence/ThreatMapper-sub005/internal/models"
)

// MemoryUserStore keeps users in process. Demo mode uses it in place of mongo.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: map[string]models.User{}}
}

func (s *MemoryUserStore) FindByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[username]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (s *MemoryUserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Username] = *user
	return nil
}

type memoryToken struct {
	username string
	expires  time.Time
}

// MemoryTokenStore is the in-process counterpart of RedisTokenStore.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]memoryToken
	now    func() time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: map[string]memoryToken{}, now: time.Now}
}

func (s *MemoryTokenStore) Save(_ context.Context, token, username string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = memoryToken{username: username, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryTokenStore) Lookup(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return "", nil
	}
	if !s.now().Before(t.expires) {
		delete(s.tokens, token)
		return "", nil
	}
	return t.username, nil
}

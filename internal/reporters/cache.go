package reporters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/deepfence/ThreatMapper-sub005/internal/db"
	"github.com/deepfence/ThreatMapper-sub005/internal/models"
)

// Source is anything that can produce a topology snapshot.
type Source interface {
	Graph(ctx context.Context, view models.ViewType, filters models.TopologyFilters) (models.GraphResult, error)
}

// CachedReporter keeps recent snapshots in redis so sessions looking at the
// same view with the same filters share one database query. Cache failures
// are logged and fall through to the wrapped source.
type CachedReporter struct {
	next   Source
	kv     db.KV
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedReporter(next Source, kv db.KV, ttl time.Duration, logger *zap.Logger) *CachedReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedReporter{next: next, kv: kv, ttl: ttl, logger: logger}
}

func cacheKey(view models.ViewType, filters models.TopologyFilters) (string, error) {
	payload, err := json.Marshal(filters)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("topology:%s:%s", view, hex.EncodeToString(sum[:])), nil
}

func (r *CachedReporter) Graph(ctx context.Context, view models.ViewType, filters models.TopologyFilters) (models.GraphResult, error) {
	key, err := cacheKey(view, filters)
	if err != nil {
		return r.next.Graph(ctx, view, filters)
	}

	raw, err := r.kv.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var graph models.GraphResult
		if err := json.Unmarshal(raw, &graph); err == nil {
			return graph, nil
		}
		r.logger.Warn("discarding unreadable cached topology", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		r.logger.Warn("topology cache read failed", zap.String("key", key), zap.Error(err))
	}

	graph, err := r.next.Graph(ctx, view, filters)
	if err != nil {
		return models.GraphResult{}, err
	}
	payload, err := json.Marshal(graph)
	if err != nil {
		return graph, nil
	}
	if err := r.kv.Set(ctx, key, payload, r.ttl).Err(); err != nil {
		r.logger.Warn("topology cache write failed", zap.String("key", key), zap.Error(err))
	}
	return graph, nil
}

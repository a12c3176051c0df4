package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/harvester/internal/common/redis"
	"github.com/edgecomet/harvester/pkg/types"
)

// Store persists finished run summaries
type Store interface {
	Save(ctx context.Context, s *types.RunSummary) error
}

// RedisStore writes the summary JSON under a per-run key and indexes the
// run id in a sorted set scored by start time.
type RedisStore struct {
	client   *redis.Client
	ttl      time.Duration
	keepRuns int
	logger   *zap.Logger
}

func NewRedisStore(client *redis.Client, ttl time.Duration, keepRuns int, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, keepRuns: keepRuns, logger: logger}
}

func (r *RedisStore) Save(ctx context.Context, s *types.RunSummary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	if err := r.client.Set(ctx, redis.RunSummaryKey(s.RunID), data, r.ttl); err != nil {
		return err
	}
	if err := r.client.ZAdd(ctx, redis.RunsIndexKey(), float64(s.StartedAt.Unix()), s.RunID); err != nil {
		return err
	}
	if r.keepRuns > 0 {
		if err := r.client.ZTrimOldest(ctx, redis.RunsIndexKey(), int64(r.keepRuns)); err != nil {
			return err
		}
	}

	r.logger.Debug("Run summary stored in Redis", zap.String("run_id", s.RunID))
	return nil
}

// Recent returns up to limit stored summaries, newest first. Runs whose
// summary key has expired are skipped.
func (r *RedisStore) Recent(ctx context.Context, limit int) ([]types.RunSummary, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := r.client.ZRevRange(ctx, redis.RunsIndexKey(), 0, int64(limit-1))
	if err != nil {
		return nil, err
	}

	summaries := make([]types.RunSummary, 0, len(ids))
	for _, id := range ids {
		raw, err := r.client.Get(ctx, redis.RunSummaryKey(id))
		if err != nil {
			return nil, err
		}
		if raw == "" {
			r.logger.Debug("Run summary expired", zap.String("run_id", id))
			continue
		}
		var s types.RunSummary
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("failed to decode summary of run %s: %w", id, err)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// FileStore writes the summary as indented JSON, replacing any previous file
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Save(_ context.Context, s *types.RunSummary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create summary directory: %w", err)
	}
	if err := os.WriteFile(f.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// MultiStore saves to every store and joins their errors
type MultiStore []Store

func (m MultiStore) Save(ctx context.Context, s *types.RunSummary) error {
	var errs []error
	for _, st := range m {
		if err := st.Save(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package summary

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgecomet/harvester/internal/common/configtypes"
	"github.com/edgecomet/harvester/internal/common/redis"
	"github.com/edgecomet/harvester/pkg/types"
)

func fixedClock(times ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := times[min(i, len(times)-1)]
		i++
		return t
	}
}

func TestBuilder_Finish(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b := newBuilderWithClock("run-1", "us-east", []string{"https://shop.test/aisle"}, 20,
		fixedClock(start, start.Add(90*time.Second)))

	b.PageProcessed()
	b.PageProcessed()
	b.HTTPOK()
	b.HTTPFailed()
	b.Retries(2)
	b.Retries(0)
	b.Rendered()
	b.RenderEngaged()
	b.Enriched()
	b.Observe(types.ExtractionGraphState, 5)
	b.Observe(types.ExtractionHTMLFallback, 0)
	b.Note("escalated: http_exhausted")

	s := b.Finish(5)
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, "us-east", s.Region)
	assert.Equal(t, 20, s.TargetCount)
	assert.Equal(t, 5, s.SavedCount)
	assert.Equal(t, 2, s.PagesProcessed)
	assert.Equal(t, 1, s.EnrichedCount)
	assert.True(t, s.RenderEngaged)
	assert.Equal(t, types.FetchCounters{HTTPOK: 1, HTTPFailed: 1, HTTPRetries: 2, Rendered: 1}, s.Fetches)
	assert.Equal(t, []types.ExtractionMethod{types.ExtractionGraphState}, s.MethodsObserved)
	assert.Equal(t, []types.ExtractionMethod{types.ExtractionHTMLFallback, types.ExtractionDetailEnrichment}, s.MethodsNeverFired)
	assert.Equal(t, 90*time.Second, s.Duration())
	assert.Equal(t, []string{"escalated: http_exhausted"}, s.Notes)
}

func TestBuilder_NothingObserved(t *testing.T) {
	b := NewBuilder("run-2", "", nil, 1)
	s := b.Finish(0)
	assert.Empty(t, s.MethodsObserved)
	assert.NotNil(t, s.MethodsObserved)
	assert.Equal(t, types.ExtractionMethods, s.MethodsNeverFired)
}

func TestBuilder_Concurrent(t *testing.T) {
	b := NewBuilder("run-3", "", nil, 1)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Enriched()
			b.Observe(types.ExtractionDetailEnrichment, 1)
		}()
	}
	wg.Wait()

	s := b.Finish(0)
	assert.Equal(t, 50, s.EnrichedCount)
	assert.Contains(t, s.MethodsObserved, types.ExtractionDetailEnrichment)
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&configtypes.RedisConfig{Enabled: true, Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func summaryAt(id string, start time.Time) *types.RunSummary {
	return &types.RunSummary{RunID: id, StartedAt: start, FinishedAt: start.Add(time.Minute), SavedCount: 3}
}

func TestRedisStore_Save(t *testing.T) {
	client, mr := newRedis(t)
	store := NewRedisStore(client, 24*time.Hour, 2, zap.NewNop())
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, store.Save(ctx, summaryAt(id, base.Add(time.Duration(i)*time.Hour))))
	}

	raw, err := mr.Get(redis.RunSummaryKey("run-c"))
	require.NoError(t, err)
	var got types.RunSummary
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, "run-c", got.RunID)
	assert.Equal(t, 3, got.SavedCount)
	assert.Equal(t, 24*time.Hour, mr.TTL(redis.RunSummaryKey("run-c")))

	ids, err := client.ZRevRange(ctx, redis.RunsIndexKey(), 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-c", "run-b"}, ids)
}

func TestRedisStore_Recent(t *testing.T) {
	client, mr := newRedis(t)
	store := NewRedisStore(client, time.Hour, 0, zap.NewNop())
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, store.Save(ctx, summaryAt(id, base.Add(time.Duration(i)*time.Hour))))
	}

	recent, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "run-c", recent[0].RunID)
	assert.Equal(t, "run-b", recent[1].RunID)

	mr.Del(redis.RunSummaryKey("run-b"))
	recent, err = store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2, "expired summaries are skipped")
	assert.Equal(t, "run-a", recent[1].RunID)

	require.NoError(t, mr.Set(redis.RunSummaryKey("run-c"), "{not json"))
	_, err = store.Recent(ctx, 1)
	assert.ErrorContains(t, err, "failed to decode summary of run run-c")

	recent, err = store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestFileStore_Save(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "last.json")
	store := NewFileStore(path)

	require.NoError(t, store.Save(context.Background(), summaryAt("run-1", time.Now().UTC())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got types.RunSummary
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "run-1", got.RunID)
}

type failingStore struct{ err error }

func (f failingStore) Save(context.Context, *types.RunSummary) error { return f.err }

func TestMultiStore_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	path := filepath.Join(t.TempDir(), "s.json")

	err := MultiStore{failingStore{boom}, NewFileStore(path)}.Save(context.Background(), summaryAt("run-1", time.Now()))
	assert.ErrorIs(t, err, boom)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)

	assert.NoError(t, MultiStore{}.Save(context.Background(), summaryAt("run-1", time.Now())))
}

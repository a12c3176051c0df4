package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgecomet/harvester/internal/common/configtypes"
	"github.com/edgecomet/harvester/pkg/types"
)

func record(id string) types.ProductRecord {
	return types.ProductRecord{
		ProductID:        id,
		Name:             "Item " + id,
		Price:            decimal.NewNullDecimal(decimal.RequireFromString("3.49")),
		InStock:          true,
		Store:            "Acme Market",
		ExtractionMethod: types.ExtractionGraphState,
		CapturedAt:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		SourceURL:        "https://shop.test/store/acme-market/aisle?a=1&b=2",
	}
}

func TestBatches(t *testing.T) {
	records := []types.ProductRecord{record("1"), record("2"), record("3"), record("4"), record("5")}

	batches := Batches(records, 2)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[2], 1)
	assert.Equal(t, "5", batches[2][0].ProductID)

	assert.Len(t, Batches(records, 0), 1)
	assert.Nil(t, Batches(nil, 10))
}

func TestFileSink_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "records.jsonl")

	s, err := NewFileSink(configtypes.SinkFileConfig{Enabled: true, Path: path}, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Emit(ctx, []types.ProductRecord{record("1"), record("2")}))
	require.NoError(t, s.Emit(ctx, []types.ProductRecord{record("3")}))
	require.NoError(t, s.Emit(ctx, nil))
	assert.Equal(t, 3, s.Count())
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 3)

	assert.Equal(t, "1", lines[0]["productId"])
	assert.Equal(t, "3.49", lines[0]["price"])
	assert.Equal(t, "graph_state", lines[0]["extractionMethod"])
	assert.Equal(t, "https://shop.test/store/acme-market/aisle?a=1&b=2", lines[0]["sourceUrl"])
	assert.Equal(t, "3", lines[2]["productId"])
}

func TestFileSink_CancelledContext(t *testing.T) {
	s, err := NewFileSink(configtypes.SinkFileConfig{Path: filepath.Join(t.TempDir(), "r.jsonl")}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Emit(ctx, []types.ProductRecord{record("1")}), context.Canceled)
	assert.Equal(t, 0, s.Count())
}

func TestNewFileSink_RequiresPath(t *testing.T) {
	_, err := NewFileSink(configtypes.SinkFileConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestNoopSink(t *testing.T) {
	var s Sink = NoopSink{}
	assert.NoError(t, s.Emit(context.Background(), []types.ProductRecord{record("1")}))
	assert.NoError(t, s.Close())
}

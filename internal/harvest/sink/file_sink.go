package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/edgecomet/harvester/internal/common/configtypes"
	"github.com/edgecomet/harvester/internal/common/logger"
	"github.com/edgecomet/harvester/pkg/types"
)

const (
	DefaultMaxSize    = 100 // MB
	DefaultMaxAge     = 30  // days
	DefaultMaxBackups = 10  // files
)

// FileSink writes one JSON object per line to a rotating file
type FileSink struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
	logger *zap.Logger
	count  int
}

// NewFileSink creates the parent directory and opens the rotating writer
func NewFileSink(cfg configtypes.SinkFileConfig, log *zap.Logger) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sink path is required")
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sink directory %s: %w", dir, err)
	}

	rotation := cfg.Rotation
	if rotation.MaxSize == 0 {
		rotation.MaxSize = DefaultMaxSize
	}
	if rotation.MaxAge == 0 {
		rotation.MaxAge = DefaultMaxAge
	}
	if rotation.MaxBackups == 0 {
		rotation.MaxBackups = DefaultMaxBackups
	}

	return &FileSink{
		writer: logger.NewRotatingWriter(cfg.Path, rotation),
		logger: log,
	}, nil
}

// Emit encodes the batch and writes it with a single write call so a batch
// is never split across rotated files.
func (f *FileSink) Emit(ctx context.Context, batch []types.ProductRecord) error {
	if len(batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range batch {
		if err := enc.Encode(&batch[i]); err != nil {
			return fmt.Errorf("failed to encode record %q: %w", batch[i].ProductID, err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.writer.Write(buf.Bytes()); err != nil {
		f.logger.Error("Failed to write records to sink",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
		return fmt.Errorf("sink write failed: %w", err)
	}
	f.count += len(batch)

	f.logger.Debug("Batch written to sink",
		zap.Int("batch_size", len(batch)),
		zap.Int("total", f.count))
	return nil
}

// Count returns the number of records written so far
func (f *FileSink) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Close closes the underlying file handle.
func (f *FileSink) Close() error {
	return f.writer.Close()
}

package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/edgecomet/harvester/internal/common/configtypes"
	"github.com/edgecomet/harvester/internal/harvest/merge"
)

// Writer stores pages that yielded no candidates so selector drift can be
// diagnosed after the run. A nil Writer is disabled.
type Writer struct {
	dir         string
	compression string
	logger      *zap.Logger
}

// NewWriter returns nil when snapshots are disabled
func NewWriter(cfg configtypes.SnapshotConfig, logger *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory %s: %w", cfg.Dir, err)
	}
	return &Writer{dir: cfg.Dir, compression: cfg.Compression, logger: logger}, nil
}

// FileName builds <runID>-<digest>.html with an optional compression extension.
func FileName(runID, pageURL, ext string) string {
	digest := merge.Key{Kind: merge.KeyProductURL, Value: pageURL}.Digest()
	return fmt.Sprintf("%s-%s.html%s", runID, digest, ext)
}

// Save writes body atomically and returns the final path
func (w *Writer) Save(runID, pageURL string, body []byte) (string, error) {
	if w == nil {
		return "", nil
	}

	data, ext, err := Compress(body, w.compression)
	if err != nil {
		return "", err
	}

	path := filepath.Join(w.dir, FileName(runID, pageURL, ext))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		w.logger.Error("Failed to write snapshot", zap.String("path", tmp), zap.Error(err))
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to rename snapshot: %w", err)
	}

	w.logger.Debug("Snapshot saved",
		zap.String("url", pageURL),
		zap.String("path", path),
		zap.Int("size_bytes", len(data)))
	return path, nil
}

// Load reads a snapshot back, decompressing by extension
func Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	return Decompress(data, path)
}

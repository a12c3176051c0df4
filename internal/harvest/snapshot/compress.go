package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/edgecomet/harvester/internal/common/configtypes"
)

const (
	ExtSnappy = ".snappy"
	ExtLZ4    = ".lz4"

	// CompressionMinSize is the body size below which snapshots stay raw
	CompressionMinSize = 1024
)

// ErrDecompression is returned when a stored snapshot cannot be decoded.
var ErrDecompression = errors.New("decompression failed")

// Compress encodes content with algorithm and returns the file extension to append.
// Small bodies and unknown algorithms are returned unchanged with an empty extension.
func Compress(content []byte, algorithm string) ([]byte, string, error) {
	if len(content) < CompressionMinSize {
		return content, "", nil
	}

	switch algorithm {
	case configtypes.CompressionSnappy:
		return snappy.Encode(nil, content), ExtSnappy, nil

	case configtypes.CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(content); err != nil {
			w.Close()
			return nil, "", fmt.Errorf("lz4 compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("lz4 compression close failed: %w", err)
		}
		return buf.Bytes(), ExtLZ4, nil

	default:
		return content, "", nil
	}
}

// Decompress decodes content according to the extension of filePath
func Decompress(content []byte, filePath string) ([]byte, error) {
	switch DetectAlgorithmFromPath(filePath) {
	case configtypes.CompressionSnappy:
		out, err := snappy.Decode(nil, content)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrDecompression, err)
		}
		return out, nil

	case configtypes.CompressionLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(content)))
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrDecompression, err)
		}
		return out, nil

	default:
		return content, nil
	}
}

// DetectAlgorithmFromPath maps a file extension back to its algorithm
func DetectAlgorithmFromPath(filePath string) string {
	switch {
	case strings.HasSuffix(filePath, ExtSnappy):
		return configtypes.CompressionSnappy
	case strings.HasSuffix(filePath, ExtLZ4):
		return configtypes.CompressionLZ4
	default:
		return configtypes.CompressionNone
	}
}

package merge

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/edgecomet/harvester/pkg/types"
)

// KeyKind names the identity field a dedup key came from
type KeyKind string

const (
	KeyNone       KeyKind = ""
	KeyProductID  KeyKind = "productId"
	KeyProductURL KeyKind = "productUrl"
	KeyName       KeyKind = "name"
)

// Key identifies a logical product: the first non-empty of productId,
// productUrl and name, prefixed with its kind so values from different
// fields never collide.
type Key struct {
	Kind  KeyKind
	Value string
}

// IsZero reports whether the record had no usable identity
func (k Key) IsZero() bool {
	return k.Kind == KeyNone
}

func (k Key) String() string {
	if k.IsZero() {
		return ""
	}
	return string(k.Kind) + ":" + k.Value
}

// Digest is a short stable hash of the key for logs, file names and Redis keys
func (k Key) Digest() string {
	if k.IsZero() {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(k.String()))
}

// KeyOf computes the dedup key of a record
func KeyOf(r *types.ProductRecord) Key {
	if v := strings.TrimSpace(r.ProductID); v != "" {
		return Key{Kind: KeyProductID, Value: v}
	}
	if v := strings.TrimSpace(r.ProductURL); v != "" {
		return Key{Kind: KeyProductURL, Value: v}
	}
	if v := strings.TrimSpace(r.Name); v != "" {
		return Key{Kind: KeyName, Value: strings.ToLower(v)}
	}
	return Key{}
}

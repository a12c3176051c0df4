package session

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxRunIDLength = 36
	runIDPrefixLen = 5
)

var (
	runLabelSanitizer = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
	repeatedHyphens   = regexp.MustCompile(`-+`)
)

// Run carries the state shared by every component for one harvest run:
// its id, a scoped logger, the cookie jar and the render escalation flag.
type Run struct {
	ID        string
	Region    string
	StartedAt time.Time
	Jar       *CookieJar

	logger         *zap.Logger
	escalated      atomic.Bool
	escalateReason atomic.Value // string
}

// NewRun creates a run context. label is an optional human hint for the id.
func NewRun(label string, logger *zap.Logger) *Run {
	id := GenerateRunID(label)
	return &Run{
		ID:        id,
		StartedAt: time.Now().UTC(),
		Jar:       NewCookieJar(),
		logger:    logger.With(zap.String("run_id", id)),
	}
}

// WithRegion records the region and seeds a region cookie when cookieName is set
func (r *Run) WithRegion(region, cookieName, cookieDomain string) *Run {
	r.Region = region
	r.logger = r.logger.With(zap.String("region", region))
	if region != "" && cookieName != "" {
		r.Jar.Set(Cookie{Name: cookieName, Value: region, Domain: cookieDomain, Path: "/"})
	}
	return r
}

// Logger returns the run-scoped logger
func (r *Run) Logger() *zap.Logger {
	return r.logger
}

// Escalate flips the run to render-first mode. It returns true only for the
// call that performed the flip.
func (r *Run) Escalate(reason string) bool {
	if r.escalated.CompareAndSwap(false, true) {
		r.escalateReason.Store(reason)
		r.logger.Warn("Escalating run to browser rendering", zap.String("reason", reason))
		return true
	}
	return false
}

// Escalated reports whether direct HTTP has been abandoned for this run
func (r *Run) Escalated() bool {
	return r.escalated.Load()
}

// EscalationReason returns the reason recorded by the first Escalate call
func (r *Run) EscalationReason() string {
	if v, ok := r.escalateReason.Load().(string); ok {
		return v
	}
	return ""
}

// GenerateRunID builds a run id from an optional label.
// Format: {5-hex}-{sanitized-label}, capped at 36 chars; UUID when label is empty.
func GenerateRunID(label string) string {
	sanitized := strings.ReplaceAll(label, " ", "-")
	sanitized = runLabelSanitizer.ReplaceAllString(sanitized, "")
	sanitized = repeatedHyphens.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")

	if sanitized == "" {
		return uuid.New().String()
	}

	if max := maxRunIDLength - runIDPrefixLen - 1; len(sanitized) > max {
		sanitized = sanitized[:max]
	}
	return randomPrefix() + "-" + sanitized
}

func randomPrefix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return uuid.New().String()[:runIDPrefixLen]
	}
	return hex.EncodeToString(buf)[:runIDPrefixLen]
}

package summary

import (
	"slices"
	"sync"
	"time"

	"github.com/edgecomet/harvester/pkg/types"
)

// Builder accumulates run statistics from concurrent workers
type Builder struct {
	mu      sync.Mutex
	summary types.RunSummary
	methods map[types.ExtractionMethod]int
	now     func() time.Time
}

// NewBuilder starts a summary for runID at the current time
func NewBuilder(runID, region string, startURLs []string, target int) *Builder {
	return newBuilderWithClock(runID, region, startURLs, target, time.Now)
}

func newBuilderWithClock(runID, region string, startURLs []string, target int, now func() time.Time) *Builder {
	return &Builder{
		summary: types.RunSummary{
			RunID:       runID,
			StartedAt:   now().UTC(),
			Region:      region,
			StartURLs:   slices.Clone(startURLs),
			TargetCount: target,
		},
		methods: make(map[types.ExtractionMethod]int),
		now:     now,
	}
}

func (b *Builder) update(fn func(s *types.RunSummary)) {
	b.mu.Lock()
	fn(&b.summary)
	b.mu.Unlock()
}

func (b *Builder) PageProcessed() { b.update(func(s *types.RunSummary) { s.PagesProcessed++ }) }
func (b *Builder) HTTPOK()        { b.update(func(s *types.RunSummary) { s.Fetches.HTTPOK++ }) }
func (b *Builder) HTTPFailed()    { b.update(func(s *types.RunSummary) { s.Fetches.HTTPFailed++ }) }
func (b *Builder) Rendered()      { b.update(func(s *types.RunSummary) { s.Fetches.Rendered++ }) }
func (b *Builder) RenderFailed()  { b.update(func(s *types.RunSummary) { s.Fetches.RenderFailed++ }) }
func (b *Builder) BestEffort()    { b.update(func(s *types.RunSummary) { s.Fetches.BestEffort++ }) }
func (b *Builder) Enriched()      { b.update(func(s *types.RunSummary) { s.EnrichedCount++ }) }

// Retries adds transport backoffs beyond the first attempt
func (b *Builder) Retries(n int) {
	if n <= 0 {
		return
	}
	b.update(func(s *types.RunSummary) { s.Fetches.HTTPRetries += n })
}

// RenderEngaged marks that the run escalated to the browser
func (b *Builder) RenderEngaged() {
	b.update(func(s *types.RunSummary) { s.RenderEngaged = true })
}

// Note appends a free-form diagnostic line
func (b *Builder) Note(msg string) {
	b.update(func(s *types.RunSummary) { s.Notes = append(s.Notes, msg) })
}

// Observe records that method produced n records
func (b *Builder) Observe(method types.ExtractionMethod, n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	b.methods[method] += n
	b.mu.Unlock()
}

// Finish stamps the end time and returns a copy of the summary.
// methods_never_fired lists every known method with no observation, in reporting order.
func (b *Builder) Finish(saved int) types.RunSummary {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.summary
	s.FinishedAt = b.now().UTC()
	s.SavedCount = saved
	s.MethodsObserved = []types.ExtractionMethod{}
	s.MethodsNeverFired = []types.ExtractionMethod{}
	for _, m := range types.ExtractionMethods {
		if b.methods[m] > 0 {
			s.MethodsObserved = append(s.MethodsObserved, m)
		} else {
			s.MethodsNeverFired = append(s.MethodsNeverFired, m)
		}
	}
	s.StartURLs = slices.Clone(b.summary.StartURLs)
	s.Notes = slices.Clone(b.summary.Notes)
	return s
}

package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/edgecomet/harvester/internal/common/configtypes"
	"github.com/edgecomet/harvester/internal/harvest/merge"
	"github.com/edgecomet/harvester/internal/harvest/pipeline"
	"github.com/edgecomet/harvester/internal/harvest/session"
	"github.com/edgecomet/harvester/internal/harvest/snapshot"
	"github.com/edgecomet/harvester/internal/harvest/summary"
	"github.com/edgecomet/harvester/pkg/types"
)

var _ = Describe("Pipeline", func() {
	var (
		o   *origin
		snk *memorySink
		cfg pipeline.Config
		run *session.Run
		ctx context.Context
	)

	BeforeEach(func() {
		o = newOrigin()
		DeferCleanup(o.close)
		snk = &memorySink{}
		cfg = testConfig()
		run = session.NewRun("pipeline-test", zap.NewNop())
		ctx = context.Background()
	})

	harvest := func(deps pipeline.Deps) (types.RunSummary, error) {
		p, err := pipeline.New(cfg, deps, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		return p.Run(ctx, run)
	}

	Describe("listing traversal", func() {
		It("emits exactly the first graph record when the target is one", func() {
			o.serve("/aisle", 200, statePage(twoItemPayload))
			cfg.Target = 1

			result, err := harvest(newDeps(o, snk))
			Expect(err).NotTo(HaveOccurred())

			records := snk.Records()
			Expect(records).To(HaveLen(1))
			rec := records[0]
			Expect(rec.ProductID).To(Equal("1"))
			Expect(rec.Name).To(Equal("Honeycrisp Apples"))
			Expect(rec.Price.Valid).To(BeTrue())
			Expect(rec.Price.Decimal.String()).To(Equal("3.49"))
			Expect(rec.InStock).To(BeTrue())
			Expect(rec.ExtractionMethod).To(Equal(types.ExtractionGraphState))

			Expect(result.SavedCount).To(Equal(1))
			Expect(result.TargetCount).To(Equal(1))
			Expect(result.PagesProcessed).To(Equal(1))
			Expect(o.hitCount("/aisle?page=2")).To(BeZero())
		})

		It("walks pages in order and stops at the first empty page", func() {
			o.serve("/aisle", 200, statePage(twoItemPayload))
			o.serve("/aisle?page=2", 200, statePage(secondPagePayload))
			o.serve("/aisle?page=3", 200, emptyPage)

			result, err := harvest(newDeps(o, snk))
			Expect(err).NotTo(HaveOccurred())

			ids := make([]string, 0, 4)
			for _, r := range snk.Records() {
				ids = append(ids, r.ProductID)
			}
			Expect(ids).To(Equal([]string{"1", "2", "3", "4"}))
			Expect(result.PagesProcessed).To(Equal(3))
			Expect(o.hitCount("/aisle?page=4")).To(BeZero())
		})

		It("folds duplicate products across pages into one record", func() {
			o.serve("/aisle", 200, statePage(twoItemPayload))
			o.serve("/aisle?page=2", 200, statePage(twoItemPayload))
			cfg.MaxPages = 2

			result, err := harvest(newDeps(o, snk))
			Expect(err).NotTo(HaveOccurred())
			Expect(snk.Records()).To(HaveLen(2))
			Expect(result.SavedCount).To(Equal(2))
		})

		It("pauses before every page after the first", func() {
			o.serve("/aisle", 200, statePage(twoItemPayload))
			o.serve("/aisle?page=2", 200, statePage(secondPagePayload))
			cfg.MaxPages = 2
			cfg.PageDelayMin = 20 * time.Millisecond
			cfg.PageDelayMax = 20 * time.Millisecond

			start := time.Now()
			_, err := harvest(newDeps(o, snk))
			Expect(err).NotTo(HaveOccurred())
			Expect(time.Since(start)).To(BeNumerically(">=", 20*time.Millisecond))
		})

		It("snapshots pages that yield no candidates", func() {
			dir := GinkgoT().TempDir()
			o.serve("/aisle", 200, emptyPage)

			deps := newDeps(o, snk)
			w, err := snapshot.NewWriter(configtypes.SnapshotConfig{
				Enabled:     true,
				Dir:         dir,
				Compression: configtypes.CompressionSnappy,
			}, zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			deps.Snapshots = w

			_, err = harvest(deps)
			Expect(err).NotTo(HaveOccurred())

			files, err := filepath.Glob(filepath.Join(dir, run.ID+"-*.html*"))
			Expect(err).NotTo(HaveOccurred())
			Expect(files).To(HaveLen(1))

			body, err := snapshot.Load(files[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal(emptyPage))
		})
	})

	Describe("extraction tiers", func() {
		It("yields markup records and never graph records without a state script", func() {
			o.serve("/aisle", 200, cardsPage)
			cfg.MaxPages = 1

			result, err := harvest(newDeps(o, snk))
			Expect(err).NotTo(HaveOccurred())

			records := snk.Records()
			Expect(records).To(HaveLen(1))
			Expect(records[0].ProductID).To(Equal("sku-7"))
			Expect(records[0].Price.Decimal.String()).To(Equal("5.99"))
			Expect(records[0].ProductURL).To(Equal(shopOrigin + "/products/sku-7"))
			Expect(records[0].ExtractionMethod).To(Equal(types.ExtractionHTMLFallback))

			Expect(result.MethodsObserved).To(Equal([]types.ExtractionMethod{types.ExtractionHTMLFallback}))
			Expect(result.MethodsNeverFired).To(ContainElement(types.ExtractionGraphState))
		})

		It("falls back to markup when the state payload is malformed", func() {
			malformed := `{"Item:1": {"__typename": "Item", "name": "Broken" ` +
				`"price": "$1.00", "description": "missing comma makes this payload invalid json"`
			o.serve("/aisle", 200, `<html><head><script id="node-apollo-state">`+malformed+
				`</script></head><body>`+cardsPage+`</body></html>`)
			cfg.MaxPages = 1

			_, err := harvest(newDeps(o, snk))
			Expect(err).NotTo(HaveOccurred())

			records := snk.Records()
			Expect(records).To(HaveLen(1))
			Expect(records[0].ExtractionMethod).To(Equal(types.ExtractionHTMLFallback))
		})
	})

	Describe("fetch escalation", func() {
		It("renders every later page once direct HTTP fails", func() {
			renderer := newFakeRenderer()
			renderer.pages[shopOrigin+"/aisle"] = statePage(twoItemPayload)
			renderer.pages[shopOrigin+"/aisle?page=2"] = statePage(secondPagePayload)
			cfg.MaxPages = 2

			deps := newDeps(o, snk)
			deps.Renderer = renderer

			result, err := harvest(deps)
			Expect(err).NotTo(HaveOccurred())

			Expect(o.totalHits()).To(Equal(1))
			Expect(renderer.Calls()).To(Equal([]string{shopOrigin + "/aisle", shopOrigin + "/aisle?page=2"}))
			Expect(run.Escalated()).To(BeTrue())
			Expect(result.RenderEngaged).To(BeTrue())
			Expect(result.Fetches.HTTPFailed).To(Equal(1))
			Expect(result.Fetches.Rendered).To(Equal(2))
			Expect(snk.Records()).To(HaveLen(4))
		})

		It("uses the best-effort body when retries run out and rendering fails", func() {
			o.serve("/aisle", 503, cardsPage)
			renderer := newFakeRenderer()
			cfg.MaxPages = 1

			deps := newDeps(o, snk)
			deps.Renderer = renderer

			result, err := harvest(deps)
			Expect(err).NotTo(HaveOccurred())

			Expect(o.hitCount("/aisle")).To(Equal(3))
			Expect(renderer.Calls()).To(HaveLen(1))
			Expect(result.Fetches.HTTPRetries).To(Equal(2))
			Expect(result.Fetches.RenderFailed).To(Equal(1))
			Expect(result.Fetches.BestEffort).To(Equal(1))

			records := snk.Records()
			Expect(records).To(HaveLen(1))
			Expect(records[0].ExtractionMethod).To(Equal(types.ExtractionHTMLFallback))
		})

		It("keeps using direct HTTP when no renderer is configured", func() {
			o.serve("/aisle?page=2", 200, statePage(secondPagePayload))
			cfg.MaxPages = 2

			result, err := harvest(newDeps(o, snk))
			Expect(err).NotTo(HaveOccurred())

			Expect(run.Escalated()).To(BeFalse())
			Expect(o.hitCount("/aisle")).To(Equal(1))
			Expect(o.hitCount("/aisle?page=2")).To(Equal(1))
			Expect(snk.Records()).To(HaveLen(2))
			Expect(result.RenderEngaged).To(BeFalse())
		})

		It("finishes with zero records and a diagnostic summary when nothing is fetchable", func() {
			renderer := newFakeRenderer()
			cfg.MaxPages = 2

			deps := newDeps(o, snk)
			deps.Renderer = renderer

			result, err := harvest(deps)
			Expect(err).NotTo(HaveOccurred())

			Expect(snk.Records()).To(BeEmpty())
			Expect(result.SavedCount).To(BeZero())
			Expect(result.PagesProcessed).To(BeZero())
			Expect(result.MethodsObserved).To(BeEmpty())
			Expect(result.MethodsNeverFired).To(Equal(types.ExtractionMethods))
			Expect(result.Notes).NotTo(BeEmpty())
			Expect(o.totalHits()).To(Equal(1))
			Expect(renderer.Calls()).To(HaveLen(2))
		})
	})

	Describe("detail enrichment", func() {
		BeforeEach(func() {
			cfg.Enrich = true
			cfg.Concurrency = 2
			cfg.MaxPages = 1
		})

		It("replaces a placeholder store from the detail page", func() {
			o.serve("/aisle", 200, statePage(twoItemPayload))
			o.serve("/products/1", 200, statePage(`{
  "Item:1": {"__typename": "Item", "name": "Honeycrisp Apples", "retailerName": "Acme Market",
             "price": "$3.99", "description": "Crisp and sweet apples from local orchards."}
}`))

			result, err := harvest(newDeps(o, snk))
			Expect(err).NotTo(HaveOccurred())

			rec, ok := recordByID(snk.Records(), "1")
			Expect(ok).To(BeTrue())
			Expect(rec.Store).To(Equal("Acme Market"))
			Expect(rec.Price.Decimal.String()).To(Equal("3.99"), "store-context price replaces the generic listing price")
			Expect(rec.Description).To(Equal("Crisp and sweet apples from local orchards."))
			Expect(rec.DetailExtractionMethod).To(Equal(types.ExtractionDetailEnrichment))
			Expect(rec.EnrichedAt).NotTo(BeNil())

			pears, ok := recordByID(snk.Records(), "2")
			Expect(ok).To(BeTrue())
			Expect(pears.Store).To(Equal(types.GenericStore))
			Expect(pears.EnrichedAt).To(BeNil())

			Expect(result.EnrichedCount).To(Equal(1))
			Expect(result.MethodsObserved).To(ContainElement(types.ExtractionDetailEnrichment))
			Expect(o.hitCount("/products/2")).To(Equal(1))
		})

		It("enriches in chunks of at most the configured concurrency with a pause between chunks", func() {
			const items = 5
			o.serve("/aisle", 200, statePage(itemsPayload(items)))
			cfg.Concurrency = 2
			cfg.ChunkPause = 7 * time.Millisecond

			deps := newDeps(o, snk)
			fetcher := &trackingFetcher{inner: deps.Fetcher, hold: 20 * time.Millisecond}
			deps.Fetcher = fetcher

			p, err := pipeline.New(cfg, deps, zap.NewNop())
			Expect(err).NotTo(HaveOccurred())

			var (
				mu          sync.Mutex
				pauses      int
				busyAtPause []int32
			)
			p.SetSleep(func(ctx context.Context, d time.Duration) error {
				mu.Lock()
				defer mu.Unlock()
				if d == cfg.ChunkPause {
					pauses++
					busyAtPause = append(busyAtPause, fetcher.inFlight.Load())
				}
				return ctx.Err()
			})

			_, err = p.Run(ctx, run)
			Expect(err).NotTo(HaveOccurred())

			Expect(fetcher.total.Load()).To(BeEquivalentTo(items))
			Expect(fetcher.peak.Load()).To(BeNumerically("<=", cfg.Concurrency))
			Expect(fetcher.peak.Load()).To(BeNumerically(">=", 1))
			// ceil(5/2) chunks need two pauses
			Expect(pauses).To(Equal(2))
			Expect(busyAtPause).To(HaveEach(BeZero()), "a chunk finishes before the next is dispatched")
		})

		It("routes detail requests through the store context and keeps a known store", func() {
			cfg.StartURLs = []string{shopOrigin + "/store/acme-market/aisle"}
			o.serve("/store/acme-market/aisle", 200, statePage(twoItemPayload))
			o.serve("/store/acme-market/products/1", 200, statePage(`{
  "Item:1": {"__typename": "Item", "name": "Honeycrisp Apples", "retailerName": "Generic",
             "description": "Crisp and sweet apples from local orchards."}
}`))

			_, err := harvest(newDeps(o, snk))
			Expect(err).NotTo(HaveOccurred())

			Expect(o.hitCount("/store/acme-market/products/1")).To(Equal(1))
			Expect(o.hitCount("/products/1")).To(BeZero())

			rec, ok := recordByID(snk.Records(), "1")
			Expect(ok).To(BeTrue())
			Expect(rec.Store).To(Equal("Acme Market"))
			Expect(rec.Description).To(Equal("Crisp and sweet apples from local orchards."))
		})

		It("never follows product links to another site", func() {
			o.serve("/aisle", 200, `<html><body>
<div class="product-card" data-product-id="sku-9">
  <h3 class="product-name">Partner Granola</h3>
  <a href="https://partner.test/p/9">View</a>
</div>
</body></html>`)

			result, err := harvest(newDeps(o, snk))
			Expect(err).NotTo(HaveOccurred())

			Expect(o.hitCount("/p/9")).To(BeZero())
			Expect(result.EnrichedCount).To(BeZero())
			Expect(snk.Records()).To(HaveLen(1))
		})

		It("skips records a recent run already enriched", func() {
			o.serve("/aisle", 200, statePage(twoItemPayload))
			cfg.SkipSeenTTL = time.Hour

			seen := &memorySeenSet{all: true}
			deps := newDeps(o, snk)
			deps.Seen = seen

			result, err := harvest(deps)
			Expect(err).NotTo(HaveOccurred())

			Expect(seen.checked).To(HaveLen(2))
			Expect(seen.Marked()).To(BeEmpty())
			Expect(o.hitCount("/products/1")).To(BeZero())
			Expect(o.hitCount("/products/2")).To(BeZero())
			Expect(result.EnrichedCount).To(BeZero())
			Expect(snk.Records()).To(HaveLen(2))
		})

		It("marks only products whose detail page was merged", func() {
			o.serve("/aisle", 200, statePage(twoItemPayload))
			o.serve("/products/1", 200, statePage(`{
  "Item:1": {"__typename": "Item", "name": "Honeycrisp Apples", "description": "Crisp and sweet apples from local orchards."}
}`))
			cfg.SkipSeenTTL = time.Hour

			seen := &memorySeenSet{}
			deps := newDeps(o, snk)
			deps.Seen = seen

			_, err := harvest(deps)
			Expect(err).NotTo(HaveOccurred())

			Expect(o.hitCount("/products/2")).To(Equal(1))
			Expect(seen.Marked()).To(ConsistOf(merge.Key{Kind: merge.KeyProductID, Value: "1"}.Digest()))
		})
	})

	Describe("emission", func() {
		It("emits records in batches and persists the summary", func() {
			o.serve("/aisle", 200, statePage(twoItemPayload))
			cfg.MaxPages = 1
			cfg.BatchSize = 1

			path := filepath.Join(GinkgoT().TempDir(), "summary.json")
			deps := newDeps(o, snk)
			deps.Summaries = summary.NewFileStore(path)

			_, err := harvest(deps)
			Expect(err).NotTo(HaveOccurred())
			Expect(snk.BatchCount()).To(Equal(2))

			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`"saved_count": 2`))
			Expect(string(data)).To(ContainSubstring(run.ID))
		})

		It("fails the run when the sink rejects a batch", func() {
			o.serve("/aisle", 200, statePage(twoItemPayload))
			cfg.MaxPages = 1
			snk.err = errors.New("disk full")

			result, err := harvest(newDeps(o, snk))
			Expect(err).To(MatchError(pipeline.ErrSinkFailed))
			Expect(result.SavedCount).To(BeZero())
			Expect(result.Notes).To(ContainElement(ContainSubstring("disk full")))
		})

		It("counts batches written before the sink failed as saved", func() {
			o.serve("/aisle", 200, statePage(twoItemPayload))
			cfg.MaxPages = 1
			cfg.BatchSize = 1
			snk.err = errors.New("disk full")
			snk.acceptBefore = 1

			result, err := harvest(newDeps(o, snk))
			Expect(err).To(MatchError(pipeline.ErrSinkFailed))
			Expect(snk.Records()).To(HaveLen(1))
			Expect(result.SavedCount).To(Equal(1))
		})

		It("still emits collected records when the run is cancelled", func() {
			o.serve("/aisle", 200, statePage(twoItemPayload))
			o.serve("/aisle?page=2", 200, statePage(secondPagePayload))
			cfg.MaxPages = 2
			cfg.PageDelayMin = time.Minute
			cfg.PageDelayMax = time.Minute

			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			result, err := harvest(newDeps(o, snk))
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(snk.Records()).To(HaveLen(2))
			Expect(result.SavedCount).To(Equal(2))
		})
	})
})

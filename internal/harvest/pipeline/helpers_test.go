package pipeline_test

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/gomega"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap"

	"github.com/edgecomet/harvester/internal/harvest/htmlfallback"
	"github.com/edgecomet/harvester/internal/harvest/normalize"
	"github.com/edgecomet/harvester/internal/harvest/pipeline"
	"github.com/edgecomet/harvester/internal/harvest/session"
	"github.com/edgecomet/harvester/internal/harvest/stategraph"
	"github.com/edgecomet/harvester/internal/harvest/transport"
	"github.com/edgecomet/harvester/pkg/types"
)

const shopOrigin = "http://shop.test"

// twoItemPayload is a state graph with a priced Item:1 and an unpriced Item:2
const twoItemPayload = `{
  "ROOT_QUERY": {"__typename": "Query", "aisle": {"__ref": "Aisle:produce"}},
  "Aisle:produce": {"__typename": "Aisle", "title": "Produce", "items": [{"__ref": "Item:1"}, {"__ref": "Item:2"}]},
  "Item:1": {"__typename": "Item", "name": "Honeycrisp Apples", "price": "$3.49"},
  "Item:2": {"__typename": "Item", "name": "Bartlett Pears"}
}`

const secondPagePayload = `{
  "ROOT_QUERY": {"__typename": "Query", "aisle": {"__ref": "Aisle:produce"}},
  "Aisle:produce": {"__typename": "Aisle", "title": "Produce", "items": [{"__ref": "Item:3"}, {"__ref": "Item:4"}]},
  "Item:3": {"__typename": "Item", "name": "Navel Oranges", "price": "$1.29"},
  "Item:4": {"__typename": "Item", "name": "Red Grapes", "price": "$2.99"}
}`

const cardsPage = `<html><body>
<div class="product-card" data-product-id="sku-7">
  <h3 class="product-name">Sourdough Loaf</h3>
  <span class="price">$5.99</span>
  <a href="/products/sku-7">View</a>
</div>
</body></html>`

const emptyPage = `<html><body><p>No more items in this aisle.</p></body></html>`

func statePage(payload string) string {
	return `<html><head><script id="node-apollo-state" type="application/json">` + payload +
		`</script></head><body><div id="root"></div></body></html>`
}

type route struct {
	status int
	body   string
}

// origin is an in-memory storefront keyed by request URI
type origin struct {
	ln     *fasthttputil.InmemoryListener
	mu     sync.Mutex
	routes map[string]route
	hits   map[string]int
}

func newOrigin() *origin {
	o := &origin{
		ln:     fasthttputil.NewInmemoryListener(),
		routes: make(map[string]route),
		hits:   make(map[string]int),
	}
	server := &fasthttp.Server{Handler: o.handle}
	go server.Serve(o.ln) //nolint:errcheck
	return o
}

func (o *origin) handle(ctx *fasthttp.RequestCtx) {
	uri := string(ctx.URI().RequestURI())

	o.mu.Lock()
	o.hits[uri]++
	r, ok := o.routes[uri]
	o.mu.Unlock()

	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	ctx.SetContentType("text/html; charset=utf-8")
	ctx.SetStatusCode(r.status)
	ctx.SetBodyString(r.body)
}

func (o *origin) serve(uri string, status int, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes[uri] = route{status: status, body: body}
}

func (o *origin) hitCount(uri string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[uri]
}

func (o *origin) totalHits() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	total := 0
	for _, n := range o.hits {
		total += n
	}
	return total
}

func (o *origin) close() {
	_ = o.ln.Close()
}

func (o *origin) fetcher() *transport.Fetcher {
	cfg := transport.DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.BackoffBase = time.Millisecond

	f, err := transport.NewFetcher(cfg, zap.NewNop(), transport.WithDialer(func(addr string) (net.Conn, error) {
		return o.ln.Dial()
	}))
	Expect(err).NotTo(HaveOccurred())
	return f
}

// fakeRenderer serves canned HTML per URL and fails everything else
type fakeRenderer struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{pages: make(map[string]string)}
}

func (r *fakeRenderer) RenderPage(_ context.Context, _ *session.Run, targetURL string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, targetURL)
	if html, ok := r.pages[targetURL]; ok {
		return html, nil
	}
	return "", fmt.Errorf("navigation timeout: %s", targetURL)
}

func (r *fakeRenderer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// memorySink captures emitted batches. When err is set it rejects every
// batch after the first acceptBefore.
type memorySink struct {
	mu           sync.Mutex
	batches      [][]types.ProductRecord
	err          error
	acceptBefore int
}

func (s *memorySink) Emit(_ context.Context, batch []types.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil && len(s.batches) >= s.acceptBefore {
		return s.err
	}
	s.batches = append(s.batches, append([]types.ProductRecord(nil), batch...))
	return nil
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) Records() []types.ProductRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.ProductRecord
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *memorySink) BatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// trackingFetcher counts detail fetches in flight and keeps the peak
type trackingFetcher struct {
	inner    pipeline.PageFetcher
	hold     time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	total    atomic.Int32
}

func (f *trackingFetcher) FetchPage(ctx context.Context, run *session.Run, targetURL string, profile transport.HeaderProfile) (*transport.Response, error) {
	if !strings.Contains(targetURL, "/products/") {
		return f.inner.FetchPage(ctx, run, targetURL, profile)
	}
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	f.total.Add(1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(f.hold)
	return f.inner.FetchPage(ctx, run, targetURL, profile)
}

// itemsPayload is a state graph of n priced items without descriptions
func itemsPayload(n int) string {
	var b strings.Builder
	b.WriteString(`{"Aisle:bulk": {"__typename": "Aisle", "items": [`)
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, `{"__ref": "Item:%d"}`, i)
	}
	b.WriteString("]}")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `, "Item:%d": {"__typename": "Item", "name": "Bulk item number %d", "price": "$1.%02d"}`, i, i, i)
	}
	b.WriteString("}")
	return b.String()
}

// memorySeenSet reports every digest as seen when all is set and records
// lookups and marks
type memorySeenSet struct {
	mu      sync.Mutex
	all     bool
	checked []string
	marked  []string
}

func (s *memorySeenSet) Seen(_ context.Context, digest string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checked = append(s.checked, digest)
	return s.all, nil
}

func (s *memorySeenSet) MarkSeen(_ context.Context, digest string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, digest)
	return nil
}

func (s *memorySeenSet) Marked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.marked...)
}

func newDeps(o *origin, snk *memorySink) pipeline.Deps {
	html, err := htmlfallback.New(htmlfallback.Selectors{}, zap.NewNop())
	Expect(err).NotTo(HaveOccurred())

	return pipeline.Deps{
		Fetcher:    o.fetcher(),
		Parser:     stategraph.NewParser(stategraph.Options{}, zap.NewNop()),
		HTML:       html,
		Normalizer: normalize.New(normalize.DefaultConfig(), zap.NewNop()),
		Sink:       snk,
	}
}

func testConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.StartURLs = []string{shopOrigin + "/aisle"}
	cfg.PageDelayMin = 0
	cfg.PageDelayMax = 0
	cfg.ChunkPause = 0
	cfg.Enrich = false
	return cfg
}

func recordByID(records []types.ProductRecord, id string) (types.ProductRecord, bool) {
	for _, r := range records {
		if r.ProductID == id {
			return r, true
		}
	}
	return types.ProductRecord{}, false
}

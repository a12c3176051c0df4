package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap"

	"github.com/edgecomet/harvester/internal/harvest/session"
)

const stateBody = `<html><script id="node-apollo-state">{}</script></html>`

// testOrigin serves a scripted sequence of status codes over an in-memory listener
type testOrigin struct {
	ln      *fasthttputil.InmemoryListener
	server  *fasthttp.Server
	calls   atomic.Int32
	mu      sync.Mutex
	seen    []*fasthttp.RequestHeader
	respond func(n int, ctx *fasthttp.RequestCtx)
}

func newTestOrigin(t *testing.T, respond func(n int, ctx *fasthttp.RequestCtx)) *testOrigin {
	t.Helper()
	o := &testOrigin{ln: fasthttputil.NewInmemoryListener(), respond: respond}
	o.server = &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		n := int(o.calls.Add(1))
		h := &fasthttp.RequestHeader{}
		ctx.Request.Header.CopyTo(h)
		o.mu.Lock()
		o.seen = append(o.seen, h)
		o.mu.Unlock()
		o.respond(n, ctx)
	}}
	go o.server.Serve(o.ln) //nolint:errcheck
	t.Cleanup(func() {
		_ = o.ln.Close()
	})
	return o
}

func (o *testOrigin) request(i int) *fasthttp.RequestHeader {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.seen[i]
}

func newTestFetcher(t *testing.T, o *testOrigin, delays *[]time.Duration) *Fetcher {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Timeout = 2 * time.Second

	f, err := NewFetcher(cfg, zap.NewNop(), WithDialer(func(addr string) (net.Conn, error) {
		return o.ln.Dial()
	}))
	require.NoError(t, err)

	var mu sync.Mutex
	f.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*delays = append(*delays, d)
		return nil
	}
	return f
}

func newTestRun() *session.Run {
	return session.NewRun("", zap.NewNop())
}

func TestFetchPage_OKPersistsCookies(t *testing.T) {
	origin := newTestOrigin(t, func(n int, ctx *fasthttp.RequestCtx) {
		if n == 1 {
			c := fasthttp.AcquireCookie()
			c.SetKey("store_ctx")
			c.SetValue("acme-market")
			c.SetPath("/")
			ctx.Response.Header.SetCookie(c)
			fasthttp.ReleaseCookie(c)
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString(stateBody)
	})

	var delays []time.Duration
	f := newTestFetcher(t, origin, &delays)
	run := newTestRun()

	resp, err := f.FetchPage(context.Background(), run, "http://shop.test/store/acme-market/aisle", NavigateProfile())
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, resp.Attempts)
	assert.True(t, resp.HasStateMarker)
	assert.True(t, resp.Usable())
	assert.Empty(t, delays)

	c, ok := run.Jar.Get("store_ctx")
	require.True(t, ok)
	assert.Equal(t, "acme-market", c.Value)

	first := origin.request(0)
	assert.NotEmpty(t, string(first.UserAgent()))
	assert.Equal(t, "navigate", string(first.Peek("Sec-Fetch-Mode")))
	assert.Equal(t, "none", string(first.Peek("Sec-Fetch-Site")))
	assert.NotEmpty(t, string(first.Peek("Accept-Language")))

	_, err = f.FetchPage(context.Background(), run, "http://shop.test/products/1", DetailProfile("http://shop.test/store/acme-market/aisle"))
	require.NoError(t, err)

	second := origin.request(1)
	assert.Equal(t, "acme-market", string(second.Cookie("store_ctx")))
	assert.Equal(t, "same-origin", string(second.Peek("Sec-Fetch-Site")))
	assert.Equal(t, "http://shop.test/store/acme-market/aisle", string(second.Peek("Referer")))
}

func TestFetchPage_AcceptedWithMarkerIsUsable(t *testing.T) {
	origin := newTestOrigin(t, func(n int, ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusAccepted)
		ctx.SetBodyString(stateBody)
	})

	var delays []time.Duration
	f := newTestFetcher(t, origin, &delays)

	resp, err := f.FetchPage(context.Background(), newTestRun(), "http://shop.test/", NavigateProfile())
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, resp.Attempts)
	assert.False(t, resp.Exhausted)
	assert.Empty(t, delays)
}

func TestFetchPage_AcceptedWithoutMarkerRetries(t *testing.T) {
	origin := newTestOrigin(t, func(n int, ctx *fasthttp.RequestCtx) {
		if n == 1 {
			ctx.SetStatusCode(fasthttp.StatusAccepted)
			ctx.SetBodyString("<html>challenge</html>")
			return
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString(stateBody)
	})

	var delays []time.Duration
	f := newTestFetcher(t, origin, &delays)

	resp, err := f.FetchPage(context.Background(), newTestRun(), "http://shop.test/", NavigateProfile())
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, []time.Duration{time.Second}, delays)
}

func TestFetchPage_TransientExhaustsToBestEffort(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantUsable bool
	}{
		{"429 without marker", fasthttp.StatusTooManyRequests, "slow down", false},
		{"403 without marker", fasthttp.StatusForbidden, "blocked", false},
		{"503 with marker", fasthttp.StatusServiceUnavailable, stateBody, true},
		{"202 without marker", fasthttp.StatusAccepted, "queued", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origin := newTestOrigin(t, func(n int, ctx *fasthttp.RequestCtx) {
				ctx.SetStatusCode(tt.status)
				ctx.SetBodyString(tt.body)
			})

			var delays []time.Duration
			f := newTestFetcher(t, origin, &delays)

			resp, err := f.FetchPage(context.Background(), newTestRun(), "http://shop.test/", NavigateProfile())
			require.NoError(t, err)
			assert.True(t, resp.Exhausted)
			assert.Equal(t, 3, resp.Attempts)
			assert.Equal(t, tt.body, string(resp.Body))
			assert.Equal(t, tt.wantUsable, resp.Usable())
			assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
			assert.Equal(t, int32(3), origin.calls.Load())
		})
	}
}

func TestFetchPage_OtherStatusFails(t *testing.T) {
	origin := newTestOrigin(t, func(n int, ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	})

	var delays []time.Duration
	f := newTestFetcher(t, origin, &delays)

	resp, err := f.FetchPage(context.Background(), newTestRun(), "http://shop.test/missing", NavigateProfile())
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, ErrFetchFailed))

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, fasthttp.StatusNotFound, statusErr.StatusCode)
	assert.Empty(t, delays)
	assert.Equal(t, int32(1), origin.calls.Load())
}

func TestFetchPage_NetworkErrorFails(t *testing.T) {
	cfg := DefaultConfig()
	f, err := NewFetcher(cfg, zap.NewNop(), WithDialer(func(addr string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}))
	require.NoError(t, err)

	resp, err := f.FetchPage(context.Background(), newTestRun(), "http://shop.test/", NavigateProfile())
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, ErrFetchFailed))
}

func TestFetchPage_InvalidURL(t *testing.T) {
	f, err := NewFetcher(DefaultConfig(), zap.NewNop())
	require.NoError(t, err)

	_, err = f.FetchPage(context.Background(), newTestRun(), "ftp://shop.test/", NavigateProfile())
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestFetchPage_CancelledDuringBackoff(t *testing.T) {
	origin := newTestOrigin(t, func(n int, ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	})

	var delays []time.Duration
	f := newTestFetcher(t, origin, &delays)
	f.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	_, err := f.FetchPage(context.Background(), newTestRun(), "http://shop.test/", NavigateProfile())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetchFailed))
	assert.Equal(t, int32(1), origin.calls.Load())
}

func TestNewFetcher_Validation(t *testing.T) {
	_, err := NewFetcher(nil, zap.NewNop())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxAttempts = 0
	_, err = NewFetcher(cfg, zap.NewNop())
	assert.Error(t, err)
}

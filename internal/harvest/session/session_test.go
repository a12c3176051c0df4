package session

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCookieJar_SetOverwritesByName(t *testing.T) {
	jar := NewCookieJar()
	jar.Set(Cookie{Name: "zip", Value: "94105"}, Cookie{Name: "sid", Value: "a"})
	jar.Set(Cookie{Name: "sid", Value: "b"})

	c, ok := jar.Get("sid")
	require.True(t, ok)
	assert.Equal(t, "b", c.Value)
	assert.Equal(t, 2, jar.Len())
	assert.Equal(t, "sid=b; zip=94105", jar.Header())
}

func TestCookieJar_SkipsUnnamed(t *testing.T) {
	jar := NewCookieJar()
	jar.Set(Cookie{Value: "orphan"})
	assert.Equal(t, 0, jar.Len())
	assert.Equal(t, "", jar.Header())
}

func TestCookieJar_SetFromHeader(t *testing.T) {
	jar := NewCookieJar()

	ok := jar.SetFromHeader([]byte("store_ctx=acme-market; Domain=.shop.example.com; Path=/; Secure; HttpOnly"))
	require.True(t, ok)

	c, found := jar.Get("store_ctx")
	require.True(t, found)
	assert.Equal(t, "acme-market", c.Value)
	assert.Equal(t, "shop.example.com", c.Domain)
	assert.Equal(t, "/", c.Path)
	assert.True(t, c.Secure)
	assert.True(t, c.HTTPOnly)
	assert.True(t, c.Expires.IsZero())

	assert.False(t, jar.SetFromHeader([]byte("")))
}

func TestCookieJar_ExpiredCookiesHidden(t *testing.T) {
	jar := NewCookieJar()
	jar.Set(
		Cookie{Name: "old", Value: "1", Expires: time.Now().Add(-time.Hour)},
		Cookie{Name: "new", Value: "2", Expires: time.Now().Add(time.Hour)},
	)

	assert.Equal(t, "new=2", jar.Header())
	assert.Len(t, jar.All(), 1)
	assert.Equal(t, 2, jar.Len())
}

func TestCookieJar_ConcurrentWriters(t *testing.T) {
	jar := NewCookieJar()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			jar.Set(Cookie{Name: fmt.Sprintf("c%02d", n), Value: "v"})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, jar.Len())
}

func TestRun_EscalationIsMonotonic(t *testing.T) {
	run := NewRun("", zap.NewNop())
	assert.False(t, run.Escalated())

	var wg sync.WaitGroup
	flips := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			flips <- run.Escalate(fmt.Sprintf("reason-%d", n))
		}(i)
	}
	wg.Wait()
	close(flips)

	flipped := 0
	for f := range flips {
		if f {
			flipped++
		}
	}
	assert.Equal(t, 1, flipped, "exactly one caller performs the flip")
	assert.True(t, run.Escalated())
	assert.True(t, strings.HasPrefix(run.EscalationReason(), "reason-"))
}

func TestRun_WithRegionSeedsCookie(t *testing.T) {
	run := NewRun("nightly", zap.NewNop()).WithRegion("94105", "zip", "shop.example.com")

	assert.Equal(t, "94105", run.Region)
	c, ok := run.Jar.Get("zip")
	require.True(t, ok)
	assert.Equal(t, "94105", c.Value)

	plain := NewRun("", zap.NewNop()).WithRegion("94105", "", "")
	assert.Equal(t, 0, plain.Jar.Len())
}

func TestGenerateRunID(t *testing.T) {
	t.Run("empty label falls back to uuid", func(t *testing.T) {
		id := GenerateRunID("")
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
	})

	t.Run("label is sanitized", func(t *testing.T) {
		id := GenerateRunID("  produce / aisle #7 ")
		assert.Regexp(t, `^[0-9a-f]{5}-produce-aisle-7$`, id)
	})

	t.Run("length is capped", func(t *testing.T) {
		id := GenerateRunID(strings.Repeat("x", 100))
		assert.Len(t, id, maxRunIDLength)
	})

	t.Run("only symbols falls back to uuid", func(t *testing.T) {
		id := GenerateRunID("!!!")
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
	})
}

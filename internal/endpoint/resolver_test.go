package endpoint

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu    sync.Mutex
	down  map[string]bool
	calls []string
	delay time.Duration
}

func (p *fakeProber) Probe(ctx context.Context, origin string) error {
	p.mu.Lock()
	p.calls = append(p.calls, origin)
	down := p.down[origin]
	delay := p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if down {
		return errors.New("connection refused")
	}
	return nil
}

func (p *fakeProber) setDown(origin string, down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down[origin] = down
}

func (p *fakeProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func TestResolver_SkipsFailingCandidateAndCaches(t *testing.T) {
	p := &fakeProber{down: map[string]bool{"http://a": true}}
	r := NewResolver([]string{"http://a", "http://b"}, p, time.Second, nil)

	c := r.Resolve(context.Background())
	assert.Equal(t, "http://b", c.Origin)
	assert.True(t, c.Live)

	// b goes down but nobody invalidated it: the cache still answers.
	p.setDown("http://b", true)
	p.setDown("http://a", false)
	calls := p.callCount()

	c = r.Resolve(context.Background())
	assert.Equal(t, "http://b", c.Origin)
	assert.Equal(t, calls, p.callCount(), "cached resolve must not probe")
}

func TestResolver_InvalidateFallsThroughInOrder(t *testing.T) {
	p := &fakeProber{down: map[string]bool{}}
	r := NewResolver([]string{"http://a", "http://b", "http://c"}, p, time.Second, nil)

	require.Equal(t, "http://a", r.Resolve(context.Background()).Origin)

	r.Invalidate(Candidate{Origin: "http://a"})
	_, ok := r.Cached()
	require.False(t, ok)

	assert.Equal(t, "http://b", r.Resolve(context.Background()).Origin)
}

func TestResolver_AllFailReturnsLastUncached(t *testing.T) {
	p := &fakeProber{down: map[string]bool{"http://a": true, "http://b": true}}
	r := NewResolver([]string{"http://a", "http://b"}, p, time.Second, nil)

	c := r.Resolve(context.Background())
	assert.Equal(t, "http://b", c.Origin)
	assert.False(t, c.Live)
	assert.Equal(t, 2, p.callCount(), "each candidate probed once")

	_, ok := r.Cached()
	assert.False(t, ok)

	// a recovers: the next resolution starts from the top again.
	p.setDown("http://a", false)
	assert.Equal(t, "http://a", r.Resolve(context.Background()).Origin)
}

func TestResolver_ProbeTimeoutBounded(t *testing.T) {
	p := &fakeProber{down: map[string]bool{}, delay: time.Second}
	r := NewResolver([]string{"http://slow"}, p, 20*time.Millisecond, nil)

	start := time.Now()
	c := r.Resolve(context.Background())
	assert.False(t, c.Live)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestResolver_ConcurrentResolveProbesOnce(t *testing.T) {
	p := &fakeProber{down: map[string]bool{}, delay: 50 * time.Millisecond}
	r := NewResolver([]string{"http://a"}, p, time.Second, nil)

	var wg sync.WaitGroup
	var live atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Resolve(context.Background()).Live {
				live.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(8), live.Load())
	assert.Equal(t, 1, p.callCount())
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := HTTPProber{Client: srv.Client()}
	assert.NoError(t, p.Probe(context.Background(), srv.URL))

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()
	assert.Error(t, p.Probe(context.Background(), broken.URL))
}

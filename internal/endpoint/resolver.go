package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/DoyleJ11/seabattle-client/internal/logging"
)

// ErrEndpointUnreachable is logged, never returned: when every candidate fails
// its probe the resolver still hands back the last one.
var ErrEndpointUnreachable = errors.New("no endpoint candidate is reachable")

type Candidate struct {
	Origin    string
	Live      bool
	CheckedAt time.Time
}

type Prober interface {
	Probe(ctx context.Context, origin string) error
}

// HTTPProber checks GET {origin}/health for any 2xx.
type HTTPProber struct {
	Client *http.Client
}

func (p HTTPProber) Probe(ctx context.Context, origin string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/health", nil)
	if err != nil {
		return err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}

type Resolver struct {
	origins []string
	prober  Prober
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time

	group singleflight.Group

	mu     sync.Mutex
	cached *Candidate
	tried  map[string]bool
}

func NewResolver(origins []string, prober Prober, probeTimeout time.Duration, log *zap.Logger) *Resolver {
	if len(origins) == 0 {
		panic("endpoint: resolver needs at least one origin")
	}
	return &Resolver{
		origins: origins,
		prober:  prober,
		timeout: probeTimeout,
		log:     logging.OrNop(log).Named("endpoint"),
		now:     time.Now,
		tried:   make(map[string]bool),
	}
}

func (r *Resolver) Cached() (Candidate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached == nil {
		return Candidate{}, false
	}
	return *r.cached, true
}

// Resolve returns the cached candidate or probes untried candidates in
// priority order. Concurrent callers share one probe run.
func (r *Resolver) Resolve(ctx context.Context) Candidate {
	if c, ok := r.Cached(); ok {
		return c
	}
	// The shared run must not die with whichever caller started it.
	v, _, _ := r.group.Do("resolve", func() (any, error) {
		return r.probeAll(context.WithoutCancel(ctx)), nil
	})
	return v.(Candidate)
}

func (r *Resolver) probeAll(ctx context.Context) Candidate {
	if c, ok := r.Cached(); ok {
		return c
	}

	var errs error
	for _, origin := range r.untried() {
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.prober.Probe(pctx, origin)
		cancel()

		if err == nil {
			c := Candidate{Origin: origin, Live: true, CheckedAt: r.now()}
			r.mu.Lock()
			r.cached = &c
			r.mu.Unlock()
			r.log.Info("endpoint resolved", zap.String("origin", origin))
			return c
		}

		errs = multierr.Append(errs, fmt.Errorf("%s: %w", origin, err))
		r.mu.Lock()
		r.tried[origin] = true
		r.mu.Unlock()
	}

	// Everything failed: forget what was tried so a later call starts over,
	// and let the caller's request surface the real failure.
	r.mu.Lock()
	clear(r.tried)
	r.mu.Unlock()

	last := r.origins[len(r.origins)-1]
	r.log.Warn("falling back to last candidate",
		zap.String("origin", last),
		zap.Error(multierr.Append(ErrEndpointUnreachable, errs)))
	return Candidate{Origin: last, Live: false, CheckedAt: r.now()}
}

func (r *Resolver) untried() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.origins))
	for _, o := range r.origins {
		if !r.tried[o] {
			out = append(out, o)
		}
	}
	return out
}

// Invalidate drops c from the cache and skips it on the next resolution.
func (r *Resolver) Invalidate(c Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != nil && r.cached.Origin == c.Origin {
		r.cached = nil
	}
	r.tried[c.Origin] = true
	r.log.Debug("endpoint invalidated", zap.String("origin", c.Origin))
}

// Package health serves liveness and readiness probes.
//
// Checks run periodically in the background. A check flips to unhealthy only
// after FailureThreshold consecutive failures and back after
// SuccessThreshold consecutive successes.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"golang.org/x/sync/errgroup"
)

// Check reports a component problem as an error.
type Check func(ctx context.Context) error

// Kind selects the probe a check contributes to.
type Kind int

const (
	Liveness Kind = iota
	Readiness
)

// Probe configures one registered check.
type Probe struct {
	Name             string
	Kind             Kind
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int
	Check            Check
}

type state struct {
	healthy bool
	err     string
	since   time.Time
}

type probe struct {
	Probe

	// fails and oks are touched only by the goroutine running the probe.
	fails int
	oks   int

	state atomic.Pointer[state]
}

func (p *probe) run(ctx context.Context, now func() time.Time) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	err := p.Check(ctx)
	cur := p.state.Load()
	next := *cur
	if err != nil {
		p.oks = 0
		p.fails++
		next.err = err.Error()
		if cur.healthy && p.fails >= p.FailureThreshold {
			next.healthy = false
			next.since = now()
		}
	} else {
		p.fails = 0
		p.oks++
		next.err = ""
		if !cur.healthy && p.oks >= p.SuccessThreshold {
			next.healthy = true
			next.since = now()
		}
	}
	p.state.Store(&next)
}

// Registry holds probes and the manual readiness flag.
type Registry struct {
	ready  atomic.Bool
	now    func() time.Time
	mu     sync.RWMutex
	probes []*probe
}

// New returns a registry that is not ready until MarkReady.
func New() *Registry {
	return &Registry{now: time.Now}
}

// Register adds a probe. Checks start healthy. Zero thresholds default to
// 3 failures and 1 success, a zero timeout to 2s.
func (r *Registry) Register(p Probe) {
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 3
	}
	if p.SuccessThreshold <= 0 {
		p.SuccessThreshold = 1
	}
	if p.Timeout <= 0 {
		p.Timeout = 2 * time.Second
	}
	pr := &probe{Probe: p}
	pr.state.Store(&state{healthy: true, since: r.now()})

	r.mu.Lock()
	r.probes = append(r.probes, pr)
	r.mu.Unlock()
}

// Run executes every probe immediately and then each interval until ctx is
// done. It always returns nil after ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range r.snapshot(nil) {
		g.Go(func() error {
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				p.run(ctx, r.now)
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
				}
			}
		})
	}
	return g.Wait()
}

// MarkReady toggles the manual readiness flag. Flip it off when draining.
func (r *Registry) MarkReady(ready bool) {
	r.ready.Store(ready)
}

// Ready reports whether the flag is set and every readiness probe passes.
func (r *Registry) Ready() bool {
	if !r.ready.Load() {
		return false
	}
	for _, p := range r.snapshot(func(p *probe) bool { return p.Kind == Readiness }) {
		if !p.state.Load().healthy {
			return false
		}
	}
	return true
}

func (r *Registry) snapshot(keep func(*probe) bool) []*probe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*probe, 0, len(r.probes))
	for _, p := range r.probes {
		if keep == nil || keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// LiveHandler serves liveness probes.
func (r *Registry) LiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		probes := r.snapshot(func(p *probe) bool { return p.Kind == Liveness })
		write(w, true, probes)
	})
}

// ReadyHandler serves readiness probes.
func (r *Registry) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		probes := r.snapshot(func(p *probe) bool { return p.Kind == Readiness })
		write(w, r.ready.Load(), probes)
	})
}

// write responds 200 {"status":"ok",...} or 503 {"status":"unhealthy",...}
// with per-check detail.
func write(w http.ResponseWriter, flag bool, probes []*probe) {
	healthy := flag
	states := make([]*state, len(probes))
	for i, p := range probes {
		states[i] = p.state.Load()
		healthy = healthy && states[i].healthy
	}

	e := &jx.Encoder{}
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) {
			if healthy {
				e.Str("ok")
			} else {
				e.Str("unhealthy")
			}
		})
		if !flag {
			e.Field("ready", func(e *jx.Encoder) { e.Bool(false) })
		}
		if len(probes) == 0 {
			return
		}
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for i, p := range probes {
					s := states[i]
					e.Field(p.Name, func(e *jx.Encoder) {
						e.Obj(func(e *jx.Encoder) {
							e.Field("healthy", func(e *jx.Encoder) { e.Bool(s.healthy) })
							if s.err != "" {
								e.Field("error", func(e *jx.Encoder) { e.Str(s.err) })
							}
							e.Field("since", func(e *jx.Encoder) { e.Str(s.since.UTC().Format(time.RFC3339)) })
						})
					})
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = w.Write(e.Bytes())
}

// Package poller implements REST poller: the periodic,
// per-symbol fallback path for derivatives data (open interest)
// that a venue doesn't push over its WS feed. Every poller shares one
// failure-backed-off loop — venue.PollBackoff governs the delay after
// consecutive failures, the same way the WS reconnect policy backs off
// connection attempts.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/logx"
	"github.com/aspenmd/ingestd/venue"
)

// PollFunc performs one poll of symbol, publishing whatever canonical_raw
// event(s) it derived. An error triggers the next backoff step; success
// resets it.
type PollFunc func(ctx context.Context, symbol string) error

// Runner drives one PollFunc across a fixed symbol set, one goroutine per
// symbol, until its context is cancelled.
type Runner struct {
	Label    string
	Interval time.Duration
	Backoff  venue.PollBackoff
	Fn       PollFunc
	Clock    clock.Clock
}

// Run starts one polling loop per symbol and blocks until ctx is done and
// every loop has returned.
func (r *Runner) Run(ctx context.Context, symbols []string) {
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			r.loop(ctx, sym)
		}(symbol)
	}
	wg.Wait()
}

func (r *Runner) loop(ctx context.Context, symbol string) {
	log := logx.Component("poller").With().Str("poller", r.Label).Str("symbol", symbol).Logger()
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if err := r.Fn(ctx, symbol); err != nil {
			failures++
			log.Warn().Err(err).Int("failures", failures).Msg("poll failed")
		} else {
			failures = 0
		}

		delay := r.Interval
		if failures > 0 {
			delay = r.Backoff.Delay(failures)
		}
		select {
		case <-ctx.Done():
			return
		case <-r.Clock.After(delay):
		}
	}
}

package voiceagent

import (
	"context"
	"log/slog"
	"time"

	"roofline/pkg/metrics"
)

// DefaultPollInterval is the nominal cadence for mirroring server call state.
const DefaultPollInterval = 2500 * time.Millisecond

// PollerHooks receive poll results. Both callbacks run on the poller
// goroutine; subscribers hand events off to their own loop.
type PollerHooks struct {
	// OnUpdate fires for each poll that reports an active call.
	OnUpdate func(call *ActiveCall)

	// OnEnded fires exactly once when a poll reports no call after a previous
	// poll reported one. Subsequent empty polls are silent.
	OnEnded func()
}

// Poller mirrors the server's active-call truth at a fixed interval.
//
// Cancellation wins over emission: once ctx is done, results of in-flight
// fetches are dropped and no hook fires again.
type Poller struct {
	gw       Gateway
	interval time.Duration
	hooks    PollerHooks
	log      *slog.Logger
}

func NewPoller(gw Gateway, interval time.Duration, hooks PollerHooks, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{gw: gw, interval: interval, hooks: hooks, log: log}
}

// Run polls until ctx is cancelled. It blocks; callers run it on its own
// goroutine and cancel ctx to stop. A slow fetch simply delays the next tick.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	sawCall := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		metrics.PollTicks.Inc()
		call, err := p.gw.FetchActiveCall(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			metrics.PollErrors.Inc()
			p.log.Debug("active-call poll failed", "err", err)
			continue
		}

		switch {
		case call != nil:
			sawCall = true
			if p.hooks.OnUpdate != nil {
				p.hooks.OnUpdate(call)
			}
		case sawCall:
			sawCall = false
			if p.hooks.OnEnded != nil {
				p.hooks.OnEnded()
			}
		}
	}
}

package voiceagent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubGateway struct {
	mu    sync.Mutex
	call  *ActiveCall
	err   error
	block chan struct{} // when set, FetchActiveCall waits on it
}

func (g *stubGateway) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResponse, error) {
	return PlaceCallResponse{}, errors.New("not used")
}

func (g *stubGateway) EndCall(ctx context.Context, callID string) error { return nil }

func (g *stubGateway) FetchActiveCall(ctx context.Context) (*ActiveCall, error) {
	g.mu.Lock()
	block := g.block
	call, err := g.call, g.err
	g.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	return call, err
}

func (g *stubGateway) set(call *ActiveCall, err error) {
	g.mu.Lock()
	g.call, g.err = call, err
	g.mu.Unlock()
}

func TestPoller_EmitsUpdatesAndOneEndedPerCall(t *testing.T) {
	gw := &stubGateway{}
	gw.set(&ActiveCall{CallID: "call-1", Status: StatusInProgress}, nil)

	var mu sync.Mutex
	updates := 0
	ended := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPoller(gw, 5*time.Millisecond, PollerHooks{
		OnUpdate: func(call *ActiveCall) {
			mu.Lock()
			updates++
			mu.Unlock()
		},
		OnEnded: func() {
			mu.Lock()
			ended++
			mu.Unlock()
		},
	}, nil)
	go p.Run(ctx)

	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return updates > 2 })

	gw.set(nil, nil)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return ended == 1 })

	// Further empty polls stay silent.
	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	if ended != 1 {
		t.Fatalf("ended fired %d times", ended)
	}
	mu.Unlock()

	// A new call re-arms the ended edge.
	gw.set(&ActiveCall{CallID: "call-2", Status: StatusRinging}, nil)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return updates > 5 })
	gw.set(nil, nil)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return ended == 2 })
}

func TestPoller_ErrorsDoNotFireEnded(t *testing.T) {
	gw := &stubGateway{}
	gw.set(&ActiveCall{CallID: "call-1", Status: StatusInProgress}, nil)

	var mu sync.Mutex
	ended := 0
	sawUpdate := false
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPoller(gw, 5*time.Millisecond, PollerHooks{
		OnUpdate: func(*ActiveCall) { mu.Lock(); sawUpdate = true; mu.Unlock() },
		OnEnded:  func() { mu.Lock(); ended++; mu.Unlock() },
	}, nil)
	go p.Run(ctx)

	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return sawUpdate })

	// A fetch failure is not evidence the call ended.
	gw.set(nil, errors.New("upstream flake"))
	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	if ended != 0 {
		t.Fatalf("ended fired on fetch error")
	}
	mu.Unlock()
}

func TestPoller_CancellationWinsOverInFlightResult(t *testing.T) {
	block := make(chan struct{})
	gw := &stubGateway{block: block}
	gw.set(&ActiveCall{CallID: "call-1", Status: StatusInProgress}, nil)

	var mu sync.Mutex
	fired := false
	ctx, cancel := context.WithCancel(context.Background())

	p := NewPoller(gw, 5*time.Millisecond, PollerHooks{
		OnUpdate: func(*ActiveCall) { mu.Lock(); fired = true; mu.Unlock() },
		OnEnded:  func() { mu.Lock(); fired = true; mu.Unlock() },
	}, nil)

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// Let the poller enter a fetch, then cancel while it is in flight.
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(block)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("poller did not stop after cancel")
	}
	mu.Lock()
	if fired {
		t.Fatalf("hook fired for a result that resolved after cancellation")
	}
	mu.Unlock()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached")
}

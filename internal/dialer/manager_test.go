package dialer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"roofline/internal/journal"
)

func newTestManager() *Manager {
	// Hour-long poll interval keeps the placeholder base URLs untouched.
	return NewManager(ManagerConfig{PollInterval: time.Hour}, nil, nil,
		journal.NewMemoryRepo(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestConcurrentSessionRequestsShareOneSession(t *testing.T) {
	m := newTestManager()
	t.Cleanup(m.CloseAll)

	// In-memory session lock with the same first-owner-wins semantics as the
	// shared one. A second owner must never show up while the first holds it.
	var lmu sync.Mutex
	holder := ""
	m.lockAcquire = func(ctx context.Context, userID, owner string) error {
		lmu.Lock()
		defer lmu.Unlock()
		if holder != "" && holder != owner {
			return ErrSessionElsewhere
		}
		holder = owner
		return nil
	}
	m.lockRelease = func(userID, owner string) {
		lmu.Lock()
		defer lmu.Unlock()
		if holder == owner {
			holder = ""
		}
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]*Session, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Session(context.Background(), "u1", "t1", "tok")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("request %d got a different session", i)
		}
	}
}

func TestStopReleasesSessionOnceIdle(t *testing.T) {
	m := newTestManager()
	t.Cleanup(m.CloseAll)

	s1, err := m.Session(context.Background(), "u1", "t1", "tok")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	s1.StopDialer()

	select {
	case <-s1.done:
	case <-time.After(3 * time.Second):
		t.Fatalf("stopped session never torn down")
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		s2, err := m.Session(context.Background(), "u1", "t1", "tok")
		if err != nil {
			t.Fatalf("session after release: %v", err)
		}
		if s2 != s1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("manager still hands out the stopped session")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

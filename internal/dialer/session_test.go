package dialer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"roofline/internal/calllist"
	"roofline/internal/journal"
	"roofline/internal/projects"
	"roofline/internal/voiceagent"
	"roofline/pkg/clock"
)

// fakeGateway is a scriptable voice-AI server. The `active` field is the
// server-side active-call record the poller mirrors.
type fakeGateway struct {
	mu      sync.Mutex
	active  *voiceagent.ActiveCall
	placed  []voiceagent.PlaceCallRequest
	ended   []string
	nextID  int
	placeFn func(req voiceagent.PlaceCallRequest) (voiceagent.PlaceCallResponse, error)
	endFn   func(callID string) error
}

func (g *fakeGateway) PlaceCall(ctx context.Context, req voiceagent.PlaceCallRequest) (voiceagent.PlaceCallResponse, error) {
	g.mu.Lock()
	g.placed = append(g.placed, req)
	fn := g.placeFn
	g.mu.Unlock()
	if fn != nil {
		return fn(req)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := fmt.Sprintf("call-%d", g.nextID)
	g.active = &voiceagent.ActiveCall{
		CallID:    id,
		ProjectID: req.JobID,
		Status:    voiceagent.StatusInProgress,
		Provider:  voiceagent.ProviderTwilio,
	}
	return voiceagent.PlaceCallResponse{
		CallID:   id,
		Status:   voiceagent.StatusInProgress,
		Provider: voiceagent.ProviderTwilio,
	}, nil
}

func (g *fakeGateway) EndCall(ctx context.Context, callID string) error {
	g.mu.Lock()
	g.ended = append(g.ended, callID)
	fn := g.endFn
	g.mu.Unlock()
	if fn != nil {
		return fn(callID)
	}
	g.clearActive()
	return nil
}

func (g *fakeGateway) FetchActiveCall(ctx context.Context) (*voiceagent.ActiveCall, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return nil, nil
	}
	cp := *g.active
	return &cp, nil
}

func (g *fakeGateway) setActive(call *voiceagent.ActiveCall) {
	g.mu.Lock()
	g.active = call
	g.mu.Unlock()
}

func (g *fakeGateway) setStatus(st voiceagent.CallStatus) {
	g.mu.Lock()
	if g.active != nil {
		g.active.Status = st
	}
	g.mu.Unlock()
}

func (g *fakeGateway) clearActive() {
	g.mu.Lock()
	g.active = nil
	g.mu.Unlock()
}

func (g *fakeGateway) placedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.placed)
}

func (g *fakeGateway) placedReq(i int) voiceagent.PlaceCallRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.placed[i]
}

func (g *fakeGateway) endedCalls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.ended...)
}

type fakeList struct {
	mu        sync.Mutex
	items     []calllist.Item
	removed   []string
	completed map[string]bool
}

func newFakeList(projectIDs ...string) *fakeList {
	l := &fakeList{completed: make(map[string]bool)}
	for i, id := range projectIDs {
		l.items = append(l.items, calllist.Item{ID: "item-" + id, ProjectID: id, Position: i})
	}
	return l
}

func (l *fakeList) List(ctx context.Context) ([]calllist.Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]calllist.Item(nil), l.items...), nil
}

func (l *fakeList) Add(ctx context.Context, projectIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range projectIDs {
		l.items = append(l.items, calllist.Item{ID: "item-" + id, ProjectID: id, Position: len(l.items)})
	}
	return nil
}

func (l *fakeList) Remove(ctx context.Context, projectID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, projectID)
	out := l.items[:0]
	for _, it := range l.items {
		if it.ProjectID != projectID {
			out = append(out, it)
		}
	}
	l.items = out
	return nil
}

func (l *fakeList) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = nil
	return nil
}

func (l *fakeList) MarkCompleted(ctx context.Context, projectID string, completed bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed[projectID] = completed
	return nil
}

func (l *fakeList) Invalidate() {}

func (l *fakeList) removedIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.removed...)
}

func (l *fakeList) completedFor(projectID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.completed[projectID]
}

type fakeProjects struct {
	mu   sync.Mutex
	byID map[string]projects.Project
}

func newFakeProjects(ps ...projects.Project) *fakeProjects {
	f := &fakeProjects{byID: make(map[string]projects.Project)}
	for _, p := range ps {
		f.byID[p.ID] = p
	}
	return f
}

func (f *fakeProjects) List(ctx context.Context) ([]projects.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]projects.Project, 0, len(f.byID))
	for _, p := range f.byID {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeProjects) Get(ctx context.Context, id string) (*projects.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("project %s not found", id)
	}
	return &p, nil
}

func (f *fakeProjects) Invalidate(id string) {}
func (f *fakeProjects) InvalidateAll()       {}

type fakeAudio struct {
	mu          sync.Mutex
	url         string
	connects    []string
	disconnects int
}

func (a *fakeAudio) EnsureConnected(ctx context.Context, url string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.url == url {
		return nil
	}
	a.url = url
	a.connects = append(a.connects, url)
	return nil
}

func (a *fakeAudio) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.url != "" {
		a.url = ""
		a.disconnects++
	}
}

func (a *fakeAudio) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.url != ""
}

func (a *fakeAudio) VolumeLevel() float64 { return 0 }

func (a *fakeAudio) connectedURL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.url
}

func (a *fakeAudio) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.connects)
}

func project(id, phone string) projects.Project {
	return projects.Project{ID: id, CustomerName: "Customer " + id, AdjusterPhone: phone}
}

type testEnv struct {
	session *Session
	gw      *fakeGateway
	list    *fakeList
	audio   *fakeAudio
	clk     *clock.Manual
	repo    *journal.MemoryRepo
}

func newTestEnv(t *testing.T, gw *fakeGateway, list *fakeList, projs *fakeProjects) *testEnv {
	t.Helper()
	audio := &fakeAudio{}
	clk := clock.NewManual(time.Time{})
	repo := journal.NewMemoryRepo()
	s := NewSession("user-1", "tenant-1", Deps{
		Gateway:      gw,
		List:         list,
		Projects:     projs,
		Audio:        audio,
		Journal:      repo,
		Clock:        clk,
		Log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		PollInterval: 10 * time.Millisecond,
	})
	t.Cleanup(s.Close)
	return &testEnv{session: s, gw: gw, list: list, audio: audio, clk: clk, repo: repo}
}

func waitState(t *testing.T, s *Session, desc string, cond func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st := s.Snapshot()
		if cond(st) {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; state: %+v", desc, s.Snapshot())
	return State{}
}

func TestDialerSequencesListInOrder(t *testing.T) {
	gw := &fakeGateway{}
	list := newFakeList("p1", "p2")
	projs := newFakeProjects(project("p1", "+14155551001"), project("p2", "+14155551002"))
	env := newTestEnv(t, gw, list, projs)

	if err := env.session.StartDialer(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitState(t, env.session, "first call on p1", func(s State) bool {
		return s.ActiveProjectID == "p1" && s.CallStatus == voiceagent.StatusInProgress
	})
	if got := gw.placedReq(0).PhoneNumber; got != "+14155551001" {
		t.Fatalf("dialed %q", got)
	}

	// Server ends the call; the poller notices and the dialer advances.
	gw.clearActive()
	waitState(t, env.session, "advance armed", func(s State) bool {
		return s.Phase == PhaseAdvancing && s.Cursor == 1
	})
	env.clk.Advance(DefaultAdvanceDelay)

	waitState(t, env.session, "second call on p2", func(s State) bool {
		return s.ActiveProjectID == "p2" && s.CallStatus == voiceagent.StatusInProgress
	})

	gw.clearActive()
	waitState(t, env.session, "dialer idle after last item", func(s State) bool {
		return !s.Active && s.Phase == PhaseIdle && !s.HasActiveCall()
	})

	if got := gw.placedCount(); got != 2 {
		t.Fatalf("placed %d calls, want 2", got)
	}
	waitState(t, env.session, "p1 marked completed", func(State) bool {
		return env.list.completedFor("p1")
	})
}

func TestManualEndAdvancesAndStopEndsCurrentCall(t *testing.T) {
	gw := &fakeGateway{}
	list := newFakeList("p1", "p2", "p3")
	projs := newFakeProjects(
		project("p1", "+14155551001"),
		project("p2", "+14155551002"),
		project("p3", "+14155551003"),
	)
	env := newTestEnv(t, gw, list, projs)

	if err := env.session.StartDialer(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, env.session, "call on p1", func(s State) bool {
		return s.ActiveProjectID == "p1" && s.CallStatus == voiceagent.StatusInProgress
	})

	// User taps end-call: request succeeds, server record clears, poller
	// confirms, dialer advances.
	env.session.EndCurrentCall()
	waitState(t, env.session, "advance to p2 armed", func(s State) bool {
		return s.Phase == PhaseAdvancing && s.Cursor == 1
	})
	env.clk.Advance(DefaultAdvanceDelay)
	waitState(t, env.session, "call on p2", func(s State) bool {
		return s.ActiveProjectID == "p2" && s.CallStatus == voiceagent.StatusInProgress
	})

	// User stops the dialer mid-call: the in-progress call is ended and no
	// further dialing happens.
	env.session.StopDialer()
	waitState(t, env.session, "stopped with no call", func(s State) bool {
		return !s.Active && s.UserStopped && !s.HasActiveCall()
	})

	env.clk.Advance(10 * DefaultAdvanceDelay)
	time.Sleep(50 * time.Millisecond)
	if got := gw.placedCount(); got != 2 {
		t.Fatalf("placed %d calls after stop, want 2", got)
	}
	ended := gw.endedCalls()
	if len(ended) != 2 {
		t.Fatalf("ended calls = %v, want the manual end and the stop end", ended)
	}
}

// The user's end-call request is slow; the server meanwhile ends the call on
// its own and the dialer moves to the next item. The late end-call response
// must not clobber the new call.
func TestSlowEndCallResponseDoesNotClobberNextCall(t *testing.T) {
	gw := &fakeGateway{}
	release := make(chan struct{})
	gw.endFn = func(callID string) error {
		gw.clearActive() // server ends the call immediately
		<-release        // the HTTP response straggles
		return nil
	}
	list := newFakeList("p1", "p2")
	projs := newFakeProjects(project("p1", "+14155551001"), project("p2", "+14155551002"))
	env := newTestEnv(t, gw, list, projs)

	if err := env.session.StartDialer(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, env.session, "call on p1", func(s State) bool {
		return s.ActiveProjectID == "p1" && s.CallStatus == voiceagent.StatusInProgress
	})

	env.session.EndCurrentCall()
	waitState(t, env.session, "advance to p2 armed", func(s State) bool {
		return s.Phase == PhaseAdvancing && s.Cursor == 1
	})
	env.clk.Advance(DefaultAdvanceDelay)
	st := waitState(t, env.session, "call on p2", func(s State) bool {
		return s.ActiveProjectID == "p2" && s.CallStatus == voiceagent.StatusInProgress
	})
	secondCall := st.ActiveCallID

	// The stale end-call response lands now.
	close(release)
	time.Sleep(50 * time.Millisecond)

	st = env.session.Snapshot()
	if st.ActiveCallID != secondCall || st.CallStatus != voiceagent.StatusInProgress {
		t.Fatalf("stale end-call response clobbered the new call: %+v", st)
	}
	if st.EndingCallID != "" {
		t.Fatalf("ending ref not released: %+v", st)
	}
}

func TestInvalidPhoneSkipsWithoutPlacingCall(t *testing.T) {
	gw := &fakeGateway{}
	list := newFakeList("p1", "p2")
	projs := newFakeProjects(project("p1", "banana"), project("p2", "+14155551002"))
	env := newTestEnv(t, gw, list, projs)

	if err := env.session.StartDialer(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, env.session, "skip armed", func(s State) bool {
		return s.Phase == PhaseAdvancing && s.Cursor == 1
	})
	env.clk.Advance(DefaultSkipDelay)
	waitState(t, env.session, "call on p2", func(s State) bool {
		return s.ActiveProjectID == "p2" && s.CallStatus == voiceagent.StatusInProgress
	})

	if got := gw.placedCount(); got != 1 {
		t.Fatalf("placed %d calls, want 1 (p1 skipped)", got)
	}
	if got := gw.placedReq(0); got.CustomerID != "p2" {
		t.Fatalf("dialed wrong project: %+v", got)
	}

	// The journal append runs off the loop goroutine.
	deadline := time.Now().Add(time.Second)
	for {
		entries, err := env.repo.ListByUser(context.Background(), "user-1", 50)
		if err != nil {
			t.Fatalf("journal: %v", err)
		}
		found := false
		for _, e := range entries {
			if e.Outcome == journal.OutcomeSkippedPhone && e.ProjectID == "p1" {
				found = true
			}
		}
		if found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no skipped-phone journal entry for p1: %+v", entries)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRefreshRemovesOrphanedListEntries(t *testing.T) {
	gw := &fakeGateway{}
	list := newFakeList("p1", "p-gone")
	projs := newFakeProjects(project("p1", "+14155551001"))
	env := newTestEnv(t, gw, list, projs)

	if err := env.session.RefreshList(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	st := waitState(t, env.session, "orphan removed from snapshot", func(s State) bool {
		return len(s.List) == 1
	})
	if st.List[0].ProjectID != "p1" {
		t.Fatalf("surviving item = %+v", st.List[0])
	}
	if removed := env.list.removedIDs(); len(removed) != 1 || removed[0] != "p-gone" {
		t.Fatalf("removed = %v", removed)
	}

	// A second refresh must not attempt the removal again.
	if err := env.session.RefreshList(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if removed := env.list.removedIDs(); len(removed) != 1 {
		t.Fatalf("orphan removed twice: %v", removed)
	}
}

func TestLiveListenFollowsCallAndToggle(t *testing.T) {
	gw := &fakeGateway{}
	gw.placeFn = func(req voiceagent.PlaceCallRequest) (voiceagent.PlaceCallResponse, error) {
		resp := voiceagent.PlaceCallResponse{
			CallID:   "call-vapi",
			Status:   voiceagent.StatusQueued,
			Provider: voiceagent.ProviderVapi,
			ProviderData: voiceagent.ProviderData{Monitor: &voiceagent.Monitor{
				ListenURL:  "wss://listen/call-vapi",
				ControlURL: "https://control/call-vapi",
			}},
		}
		gw.setActive(&voiceagent.ActiveCall{
			CallID:    "call-vapi",
			ProjectID: req.JobID,
			Status:    voiceagent.StatusQueued,
			Provider:  voiceagent.ProviderVapi,
			ProviderData: voiceagent.ProviderData{Monitor: &voiceagent.Monitor{
				ListenURL:  "wss://listen/call-vapi",
				ControlURL: "https://control/call-vapi",
			}},
		})
		return resp, nil
	}
	list := newFakeList("p1")
	projs := newFakeProjects(project("p1", "+14155551001"))
	env := newTestEnv(t, gw, list, projs)

	if err := env.session.StartDialer(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, env.session, "queued call", func(s State) bool {
		return s.ActiveCallID == "call-vapi" && s.CallStatus == voiceagent.StatusQueued
	})
	if env.audio.IsConnected() {
		t.Fatalf("audio must stay down before in_progress")
	}

	gw.setStatus(voiceagent.StatusInProgress)
	waitState(t, env.session, "audio connected", func(State) bool {
		return env.audio.connectedURL() == "wss://listen/call-vapi"
	})

	env.session.SetListen(false)
	waitState(t, env.session, "audio down after listen off", func(State) bool {
		return !env.audio.IsConnected()
	})

	env.session.SetListen(true)
	waitState(t, env.session, "audio back after listen on", func(State) bool {
		return env.audio.connectedURL() == "wss://listen/call-vapi"
	})
	if got := env.audio.connectCount(); got < 2 {
		t.Fatalf("connect count = %d, want a reconnect after listen on", got)
	}

	gw.clearActive()
	waitState(t, env.session, "audio released at call end", func(State) bool {
		return !env.audio.IsConnected()
	})
}

func TestCloseDropsLateResultsAndReleasesAudio(t *testing.T) {
	gw := &fakeGateway{}
	list := newFakeList("p1")
	projs := newFakeProjects(project("p1", "+14155551001"))
	env := newTestEnv(t, gw, list, projs)

	if err := env.session.StartDialer(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, env.session, "call on p1", func(s State) bool {
		return s.ActiveProjectID == "p1"
	})

	env.session.Close()
	before := env.session.Snapshot()

	// Poller results and server-side changes after close change nothing.
	gw.clearActive()
	time.Sleep(60 * time.Millisecond)
	after := env.session.Snapshot()
	if after.ActiveCallID != before.ActiveCallID || after.Phase != before.Phase {
		t.Fatalf("state moved after close: before=%+v after=%+v", before, after)
	}
	if env.audio.IsConnected() {
		t.Fatalf("audio must be released on close")
	}
}

func TestIdleSignalWaitsForStoppedCallToEnd(t *testing.T) {
	gw := &fakeGateway{}
	release := make(chan struct{})
	gw.endFn = func(callID string) error {
		<-release
		gw.clearActive()
		return nil
	}
	list := newFakeList("p1")
	projs := newFakeProjects(project("p1", "+14155551001"))
	env := newTestEnv(t, gw, list, projs)

	if err := env.session.StartDialer(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, env.session, "call on p1", func(s State) bool {
		return s.ActiveProjectID == "p1" && s.CallStatus == voiceagent.StatusInProgress
	})

	env.session.StopDialer()
	waitState(t, env.session, "end request captured", func(s State) bool {
		return s.UserStopped && s.EndingCallID != ""
	})
	select {
	case <-env.session.Idle():
		t.Fatalf("idle signalled while the call was still being torn down")
	default:
	}

	close(release)
	select {
	case <-env.session.Idle():
	case <-time.After(3 * time.Second):
		t.Fatalf("idle never signalled after the stopped call ended")
	}
}

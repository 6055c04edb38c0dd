// Package dialer hosts the power-dialer coordinator: a per-user state machine
// that walks the call list, places one call at a time, reconciles optimistic
// mutation results with polled server truth, and keeps the live-listen stream
// tied to call status.
package dialer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"roofline/internal/calllist"
	"roofline/internal/journal"
	"roofline/internal/projects"
	"roofline/internal/voiceagent"
	"roofline/pkg/clock"
	"roofline/pkg/metrics"
	"roofline/pkg/phone"
)

// ListStore is what the coordinator needs from the call-list surface.
type ListStore interface {
	List(ctx context.Context) ([]calllist.Item, error)
	Add(ctx context.Context, projectIDs []string) error
	Remove(ctx context.Context, projectID string) error
	Clear(ctx context.Context) error
	MarkCompleted(ctx context.Context, projectID string, completed bool) error
	Invalidate()
}

// ProjectReader is what the coordinator needs from the CRM surface.
type ProjectReader interface {
	List(ctx context.Context) ([]projects.Project, error)
	Get(ctx context.Context, id string) (*projects.Project, error)
	Invalidate(id string)
	InvalidateAll()
}

// Audio is the live-listen controller surface.
type Audio interface {
	EnsureConnected(ctx context.Context, url string) error
	Disconnect()
	IsConnected() bool
	VolumeLevel() float64
}

// TenantHints resolves the best-effort company name for place-call context.
type TenantHints interface {
	CompanyName(ctx context.Context, tenantID string) string
}

// Deps are the session's collaborators.
type Deps struct {
	Gateway  voiceagent.Gateway
	List     ListStore
	Projects ProjectReader
	Audio    Audio
	Journal  journal.Repo
	Tenants  TenantHints
	Clock    clock.Clock
	Log      *slog.Logger

	PollInterval time.Duration
	Rules        Rules
}

// Session is one user's running coordinator. All state mutation happens on
// the loop goroutine; user-facing methods post events and return.
type Session struct {
	id       string
	userID   string
	tenantID string
	deps     Deps
	rules    Rules

	ctx    context.Context
	cancel context.CancelFunc

	events chan Event
	done   chan struct{}

	idle     chan struct{}
	idleOnce sync.Once

	mu        sync.Mutex
	state     State
	dialTimer clock.Timer
	cleaned   map[string]struct{}

	closeOnce sync.Once
}

// NewSession starts the loop and the active-call poller.
func NewSession(userID, tenantID string, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = clock.NewReal()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:       uuid.NewString(),
		userID:   userID,
		tenantID: tenantID,
		deps:     deps,
		rules:    deps.Rules.withDefaults(),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
		idle:     make(chan struct{}),
		state:    NewState(),
		cleaned:  make(map[string]struct{}),
	}
	s.deps.Log = deps.Log.With("session_id", s.id, "user_id", userID)

	go s.loop()

	poller := voiceagent.NewPoller(deps.Gateway, deps.PollInterval, voiceagent.PollerHooks{
		OnUpdate: func(call *voiceagent.ActiveCall) { s.post(EvActiveCallUpdate{Call: call}) },
		OnEnded:  func() { s.post(EvCallEnded{}) },
	}, s.deps.Log)
	go poller.Run(ctx)

	metrics.ActiveSessions.Inc()
	return s
}

// ID is the session identifier used in journal entries.
func (s *Session) ID() string { return s.id }

// Idle is closed once the user has stopped the dialer and all call activity
// has drained. The manager watches it to release stopped sessions.
func (s *Session) Idle() <-chan struct{} { return s.idle }

// Snapshot returns a copy of the coordinator state plus the audio view.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.state
	out.List = append([]calllist.Item(nil), s.state.List...)
	return out
}

// AudioConnected reports the live-listen stream state.
func (s *Session) AudioConnected() bool { return s.deps.Audio.IsConnected() }

// AudioVolume reports the current live-listen volume level.
func (s *Session) AudioVolume() float64 { return s.deps.Audio.VolumeLevel() }

// StartDialer refreshes the list and starts sequencing from the top.
func (s *Session) StartDialer(ctx context.Context) error {
	if err := s.RefreshList(ctx); err != nil {
		return err
	}
	s.post(EvStartDialer{})
	return nil
}

// StopDialer halts sequencing and, when the current call is end-eligible,
// ends it. The stop flag holds until the next start.
func (s *Session) StopDialer() { s.post(EvStopDialer{}) }

// EndCurrentCall requests termination of the active call.
func (s *Session) EndCurrentCall() { s.post(EvEndCurrentCall{}) }

// SetListen toggles live listen for this session.
func (s *Session) SetListen(enabled bool) { s.post(EvSetListen{Enabled: enabled}) }

// RefreshList refetches the call list, runs auto-cleanup of orphaned project
// ids, and hands the coordinator the new snapshot.
func (s *Session) RefreshList(ctx context.Context) error {
	items, err := s.deps.List.List(ctx)
	if err != nil {
		return err
	}

	if removed := s.autoClean(ctx, items); removed {
		items, err = s.deps.List.List(ctx)
		if err != nil {
			return err
		}
	}

	s.post(EvListChanged{Items: items})
	return nil
}

// ListItems reads the ordered call list.
func (s *Session) ListItems(ctx context.Context) ([]calllist.Item, error) {
	return s.deps.List.List(ctx)
}

// AddToList queues projects and hands the coordinator the new snapshot.
// A partial-failure *calllist.AddError still refreshes: the server applied
// the valid ids.
func (s *Session) AddToList(ctx context.Context, projectIDs []string) error {
	err := s.deps.List.Add(ctx, projectIDs)
	if refreshErr := s.RefreshList(ctx); refreshErr != nil && err == nil {
		err = refreshErr
	}
	return err
}

// RemoveFromList removes one project and refreshes the coordinator snapshot.
func (s *Session) RemoveFromList(ctx context.Context, projectID string) error {
	if err := s.deps.List.Remove(ctx, projectID); err != nil {
		return err
	}
	return s.RefreshList(ctx)
}

// ClearList empties the list and refreshes the coordinator snapshot.
func (s *Session) ClearList(ctx context.Context) error {
	if err := s.deps.List.Clear(ctx); err != nil {
		return err
	}
	return s.RefreshList(ctx)
}

// MarkCompleted flips an item's completion flag and refreshes the snapshot.
func (s *Session) MarkCompleted(ctx context.Context, projectID string, completed bool) error {
	if err := s.deps.List.MarkCompleted(ctx, projectID, completed); err != nil {
		return err
	}
	return s.RefreshList(ctx)
}

// Projects reads the CRM project set through the session cache.
func (s *Session) Projects(ctx context.Context) ([]projects.Project, error) {
	return s.deps.Projects.List(ctx)
}

// Project reads one CRM project through the session cache.
func (s *Session) Project(ctx context.Context, id string) (*projects.Project, error) {
	return s.deps.Projects.Get(ctx, id)
}

// autoClean removes list entries whose project no longer exists in the CRM.
// Each orphan is removed at most once per session; the cleaned set does not
// survive the session.
func (s *Session) autoClean(ctx context.Context, items []calllist.Item) bool {
	projs, err := s.deps.Projects.List(ctx)
	if err != nil {
		s.deps.Log.Debug("auto-clean skipped, projects fetch failed", "err", err)
		return false
	}
	known := make(map[string]struct{}, len(projs))
	for _, p := range projs {
		known[p.ID] = struct{}{}
	}

	removed := false
	for _, it := range items {
		if _, ok := known[it.ProjectID]; ok {
			continue
		}
		s.mu.Lock()
		_, already := s.cleaned[it.ProjectID]
		if !already {
			s.cleaned[it.ProjectID] = struct{}{}
		}
		s.mu.Unlock()
		if already {
			continue
		}
		if err := s.deps.List.Remove(ctx, it.ProjectID); err != nil {
			s.deps.Log.Warn("auto-clean remove failed", "project_id", it.ProjectID, "err", err)
			continue
		}
		s.deps.Log.Info("removed orphaned call-list entry", "project_id", it.ProjectID)
		removed = true
	}
	return removed
}

// Close tears the session down: the poller stops, in-flight results are
// dropped, pending timers are cancelled and the audio stream disconnects.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.done)
		s.mu.Lock()
		if s.dialTimer != nil {
			s.dialTimer.Stop()
			s.dialTimer = nil
		}
		s.mu.Unlock()
		s.deps.Audio.Disconnect()
		metrics.ActiveSessions.Dec()
	})
}

// post hands an event to the loop; events after Close are dropped so late
// mutation results cannot touch state.
func (s *Session) post(ev Event) {
	select {
	case <-s.done:
	case s.events <- ev:
	}
}

func (s *Session) loop() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			if _, ended := ev.(EvCallEnded); ended {
				metrics.CallsEnded.Inc()
			}
			s.mu.Lock()
			next, cmds := s.rules.Reduce(s.state, ev)
			s.state = next
			s.mu.Unlock()
			for _, cmd := range cmds {
				s.execute(cmd, next)
			}
			if next.UserStopped && !next.Active && !next.HasActiveCall() && next.EndingCallID == "" {
				s.idleOnce.Do(func() { close(s.idle) })
			}
		}
	}
}

func (s *Session) execute(cmd Command, st State) {
	switch cmd := cmd.(type) {
	case CmdDialCursor:
		go s.execDial(st)

	case CmdScheduleDial:
		s.mu.Lock()
		if s.dialTimer != nil {
			s.dialTimer.Stop()
		}
		s.dialTimer = s.deps.Clock.AfterFunc(cmd.After, func() { s.post(EvDialDue{}) })
		s.mu.Unlock()

	case CmdCancelDialTimer:
		s.mu.Lock()
		if s.dialTimer != nil {
			s.dialTimer.Stop()
			s.dialTimer = nil
		}
		s.mu.Unlock()

	case CmdEndCall:
		go func() {
			if err := s.deps.Gateway.EndCall(s.ctx, cmd.CallID); err != nil {
				s.deps.Log.Warn("end-call failed", "call_id", cmd.CallID, "err", err)
				s.post(EvEndCallError{CallID: cmd.CallID, Err: err})
				return
			}
			s.post(EvEndCallSuccess{CallID: cmd.CallID})
		}()

	case CmdConnectAudio:
		go func() {
			if err := s.deps.Audio.EnsureConnected(s.ctx, cmd.URL); err != nil {
				s.deps.Log.Warn("live-listen connect failed", "err", err)
				return
			}
			// The stream may have stopped being desirable while the dial was
			// in flight; tear it back down rather than leak a live socket.
			s.mu.Lock()
			want := wantAudio(s.state) && s.state.ListenURL == cmd.URL
			s.mu.Unlock()
			if !want {
				s.deps.Audio.Disconnect()
			}
		}()

	case CmdDisconnectAudio:
		s.deps.Audio.Disconnect()

	case CmdInvalidate:
		if cmd.ProjectID != "" {
			s.deps.Projects.Invalidate(cmd.ProjectID)
		}
		s.deps.Projects.InvalidateAll()

	case CmdMarkCompleted:
		go func() {
			if err := s.deps.List.MarkCompleted(s.ctx, cmd.ProjectID, true); err != nil {
				s.deps.Log.Warn("mark-completed failed", "project_id", cmd.ProjectID, "err", err)
			}
		}()

	case CmdJournal:
		if s.deps.Journal == nil {
			return
		}
		e := journal.Entry{
			UserID:    s.userID,
			TenantID:  s.tenantID,
			SessionID: s.id,
			ProjectID: cmd.ProjectID,
			CallID:    cmd.CallID,
			Outcome:   cmd.Outcome,
			Status:    string(cmd.Status),
			Detail:    cmd.Detail,
			CreatedAt: s.deps.Clock.Now().UTC(),
		}
		go func() {
			// Entries record what already happened; they outlive session
			// teardown rather than riding the session context.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.deps.Journal.Append(ctx, e); err != nil {
				s.deps.Log.Warn("journal append failed", "err", err)
			}
		}()
	}
}

// execDial resolves the item under the cursor and places the call. Runs off
// the loop goroutine; outcomes come back as events.
func (s *Session) execDial(st State) {
	if !st.cursorInRange() {
		s.post(EvDialDue{}) // reducer resolves the out-of-range cursor
		return
	}
	item := st.List[st.Cursor]

	proj, err := s.deps.Projects.Get(s.ctx, item.ProjectID)
	if err != nil {
		metrics.PlaceCallErrors.Inc()
		s.post(EvPlaceCallError{ProjectID: item.ProjectID, Err: err})
		return
	}

	normalized, err := phone.Normalize(proj.AdjusterPhone)
	if err != nil {
		metrics.CallsSkipped.WithLabelValues("invalid_phone").Inc()
		s.deps.Log.Info("skipping item without dialable adjuster phone",
			"project_id", item.ProjectID, "raw", proj.AdjusterPhone)
		s.post(EvPlaceCallSkipped{ProjectID: item.ProjectID, Reason: "no valid adjuster phone"})
		return
	}

	req := voiceagent.PlaceCallRequest{
		PhoneNumber:     normalized,
		CustomerID:      proj.ID,
		CustomerName:    proj.CustomerName,
		CustomerAddress: proj.Address(),
		ClaimNumber:     proj.ClaimNumber,
		DateOfLoss:      proj.DateOfLoss,
		InsuranceAgency: proj.InsuranceCompany,
		AdjusterName:    proj.AdjusterName,
		AdjusterPhone:   normalized,
		Tenant:          s.tenantID,
		JobID:           item.ProjectID,
	}
	if s.deps.Tenants != nil {
		req.CompanyName = s.deps.Tenants.CompanyName(s.ctx, s.tenantID)
	}

	resp, err := s.deps.Gateway.PlaceCall(s.ctx, req)
	if err != nil {
		metrics.PlaceCallErrors.Inc()
		s.deps.Log.Warn("place-call failed", "project_id", item.ProjectID, "err", err)
		s.post(EvPlaceCallError{ProjectID: item.ProjectID, Err: err})
		return
	}

	metrics.CallsPlaced.WithLabelValues(string(resp.Provider)).Inc()
	s.post(EvPlaceCallSuccess{ProjectID: item.ProjectID, Resp: resp})
}

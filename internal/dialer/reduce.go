package dialer

import (
	"time"

	"roofline/internal/journal"
	"roofline/internal/voiceagent"
)

// Rules carries the scheduling policy. The delays let the UI render the
// transition before the next call goes out; they are policy, not correctness.
type Rules struct {
	// AdvanceDelay runs between a call ending and the next dial.
	AdvanceDelay time.Duration
	// SkipDelay runs between a failed/skipped item and the next dial.
	SkipDelay time.Duration
}

const (
	DefaultAdvanceDelay = time.Second
	DefaultSkipDelay    = 500 * time.Millisecond
)

func (r Rules) withDefaults() Rules {
	out := r
	if out.AdvanceDelay <= 0 {
		out.AdvanceDelay = DefaultAdvanceDelay
	}
	if out.SkipDelay <= 0 {
		out.SkipDelay = DefaultSkipDelay
	}
	return out
}

// Reduce is the pure next-state function. It never performs I/O; effects are
// returned as commands for the session to execute after the state commits.
func (r Rules) Reduce(s State, ev Event) (State, []Command) {
	r = r.withDefaults()
	prev := s
	var cmds []Command

	switch ev := ev.(type) {
	case EvListChanged:
		s.List = ev.Items

	case EvStartDialer:
		if s.Active || len(s.List) == 0 {
			break
		}
		s.Active = true
		s.UserStopped = false
		s.EndingCallID = ""
		s.Cursor = 0
		s.Phase = PhaseAwaitingCallStart
		cmds = append(cmds, CmdDialCursor{})

	case EvStopDialer:
		s.UserStopped = true
		s.Active = false
		cmds = append(cmds, CmdCancelDialTimer{})
		cmds = append(cmds, CmdJournal{Outcome: journal.OutcomeStopped, ProjectID: s.ActiveProjectID, CallID: s.ActiveCallID, Status: s.CallStatus})
		if s.HasActiveCall() && s.CanEndCall() {
			// Internal end-current-call: same capture discipline as the
			// user-initiated path.
			s.EndingCallID = s.ActiveCallID
			s.Phase = PhaseEndingCall
			cmds = append(cmds, CmdEndCall{CallID: s.ActiveCallID})
		} else if !s.HasActiveCall() {
			s.Phase = PhaseIdle
		}

	case EvEndCurrentCall:
		if !s.HasActiveCall() {
			break
		}
		s.EndingCallID = s.ActiveCallID
		s.Phase = PhaseEndingCall
		cmds = append(cmds,
			CmdEndCall{CallID: s.ActiveCallID},
			CmdJournal{Outcome: journal.OutcomeManualEnd, ProjectID: s.ActiveProjectID, CallID: s.ActiveCallID, Status: s.CallStatus},
		)

	case EvSetListen:
		s.ListenEnabled = ev.Enabled

	case EvDialDue:
		if !s.Active || s.UserStopped {
			break
		}
		if !s.cursorInRange() {
			s.Active = false
			s.Cursor = 0
			s.Phase = PhaseIdle
			break
		}
		s.Phase = PhaseAwaitingCallStart
		cmds = append(cmds, CmdDialCursor{})

	case EvPlaceCallSuccess:
		s.ActiveCallID = ev.Resp.CallID
		s.ActiveProjectID = ev.ProjectID
		s.CallStatus = ev.Resp.Status
		s.Provider = ev.Resp.Provider
		s.ListenURL = ev.Resp.ListenURL()
		s.ControlURL = ev.Resp.ControlURL()
		// A new call unconditionally invalidates any captured end-call ref;
		// a stale end-call success must not clobber this call's state.
		s.EndingCallID = ""
		s.Phase = PhaseOnCall
		cmds = append(cmds,
			CmdInvalidate{ProjectID: ev.ProjectID},
			CmdJournal{Outcome: journal.OutcomePlaced, ProjectID: ev.ProjectID, CallID: ev.Resp.CallID, Status: ev.Resp.Status},
		)
		if s.UserStopped && s.CanEndCall() {
			// The user stopped while this place-call was in flight; end it
			// as soon as it is end-eligible.
			s.EndingCallID = s.ActiveCallID
			s.Phase = PhaseEndingCall
			cmds = append(cmds, CmdEndCall{CallID: s.ActiveCallID})
		}

	case EvPlaceCallError:
		cmds = append(cmds, CmdJournal{Outcome: journal.OutcomeSkippedError, ProjectID: ev.ProjectID, Detail: errText(ev.Err)})
		s, cmds = r.skip(s, cmds)

	case EvPlaceCallSkipped:
		cmds = append(cmds, CmdJournal{Outcome: journal.OutcomeSkippedPhone, ProjectID: ev.ProjectID, Detail: ev.Reason})
		s, cmds = r.skip(s, cmds)

	case EvEndCallSuccess:
		if s.ActiveCallID == ev.CallID && s.EndingCallID == ev.CallID {
			s = clearActiveCall(s)
			if !s.Active {
				s.Phase = PhaseIdle
			} else {
				// Advance waits for the poller to confirm the end.
				s.Phase = PhaseOnCall
			}
		}
		// A call that started after the end-call went out keeps its state
		// untouched; only the stale ref is released.
		if s.EndingCallID == ev.CallID {
			s.EndingCallID = ""
		}

	case EvEndCallError:
		if s.EndingCallID == ev.CallID {
			s.EndingCallID = ""
			if s.HasActiveCall() {
				s.Phase = PhaseOnCall
			}
		}

	case EvActiveCallUpdate:
		if ev.Call == nil {
			break
		}
		s.ActiveCallID = ev.Call.CallID
		if ev.Call.ProjectID != "" {
			s.ActiveProjectID = ev.Call.ProjectID
		}
		// Poller wins for status; most-recent non-empty wins for URLs (the
		// server omits them around call end, at which point they clear with
		// the rest of the record, not here).
		s.CallStatus = ev.Call.Status
		if ev.Call.Provider != "" {
			s.Provider = ev.Call.Provider
		}
		if u := ev.Call.MonitorListenURL(); u != "" {
			s.ListenURL = u
		}
		if u := ev.Call.MonitorControlURL(); u != "" {
			s.ControlURL = u
		}
		// A poll can report a call from a list position the coordinator did
		// not expect (reload, other tab). Re-anchor the cursor when the
		// project is queued; a call outside the list is displayed but never
		// advances the dialer.
		if idx := s.listIndexOf(ev.Call.ProjectID); idx >= 0 {
			s.Cursor = idx
		}

	case EvCallEnded:
		endedProject := s.ActiveProjectID
		endedCall := s.ActiveCallID
		hadCall := s.HasActiveCall()
		s = clearActiveCall(s)
		if hadCall {
			cmds = append(cmds,
				CmdInvalidate{ProjectID: endedProject},
				CmdJournal{Outcome: journal.OutcomeEnded, ProjectID: endedProject, CallID: endedCall},
			)
			if s.listIndexOf(endedProject) >= 0 {
				cmds = append(cmds, CmdMarkCompleted{ProjectID: endedProject})
			}
		}
		if s.Active && !s.UserStopped {
			s.Cursor++
			if s.cursorInRange() {
				s.Phase = PhaseAdvancing
				cmds = append(cmds, CmdScheduleDial{After: r.AdvanceDelay})
			} else {
				s.Active = false
				s.Cursor = 0
				s.Phase = PhaseIdle
			}
		} else {
			s.Phase = PhaseIdle
		}
	}

	cmds = appendAudioCommands(prev, s, cmds)
	return s, cmds
}

// skip advances past the current item after a failed or skipped dial.
func (r Rules) skip(s State, cmds []Command) (State, []Command) {
	if !s.Active || s.UserStopped {
		if !s.HasActiveCall() {
			s.Phase = PhaseIdle
		}
		return s, cmds
	}
	s.Cursor++
	if s.cursorInRange() {
		s.Phase = PhaseAdvancing
		cmds = append(cmds, CmdScheduleDial{After: r.SkipDelay})
	} else {
		s.Active = false
		s.Cursor = 0
		s.Phase = PhaseIdle
	}
	return s, cmds
}

// appendAudioCommands reconciles the live-listen stream with the new state:
// connected exactly while an in-progress call exposes a listen URL and the
// user has listen enabled.
func appendAudioCommands(prev, next State, cmds []Command) []Command {
	if wantAudio(next) {
		// Connect is idempotent for an unchanged URL, so emitting on every
		// event that keeps the stream desirable is safe.
		return append(cmds, CmdConnectAudio{URL: next.ListenURL})
	}
	if wantAudio(prev) {
		return append(cmds, CmdDisconnectAudio{})
	}
	return cmds
}

func wantAudio(s State) bool {
	return s.ListenEnabled && s.CallStatus == voiceagent.StatusInProgress && s.ListenURL != ""
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

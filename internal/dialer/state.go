package dialer

import (
	"roofline/internal/calllist"
	"roofline/internal/voiceagent"
)

// Phase is the coordinator's position in the dialing cycle.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseAwaitingCallStart Phase = "awaiting_call_start"
	PhaseOnCall            Phase = "on_call"
	PhaseEndingCall        Phase = "ending_call"
	PhaseAdvancing         Phase = "advancing"
)

// State is the coordinator's full view. A single owner (the session loop)
// mutates it through the reducer; everyone else reads snapshots.
//
// Field coupling: ActiveCallID, CallStatus, ListenURL and ControlURL
// transition together; clearActiveCall is the only way they empty.
type State struct {
	Phase  Phase
	Active bool

	// Cursor indexes List. Valid (0 <= Cursor < len(List)) at the moment a
	// call is initiated; it may go stale between calls as the list changes.
	Cursor int
	List   []calllist.Item

	ActiveCallID    string
	ActiveProjectID string
	CallStatus      voiceagent.CallStatus
	Provider        voiceagent.Provider
	ListenURL       string
	ControlURL      string

	// UserStopped blocks every path that would set Active; only a fresh
	// user start clears it.
	UserStopped bool

	// EndingCallID is the id captured when an end-call request went out.
	// Cleared when that request resolves or when a new call starts,
	// whichever comes first.
	EndingCallID string

	// ListenEnabled is the user's live-listen toggle for this session.
	ListenEnabled bool
}

// NewState is the idle state of a fresh session. Live listen starts enabled.
func NewState() State {
	return State{Phase: PhaseIdle, ListenEnabled: true}
}

// HasActiveCall reports whether the coordinator is mirroring a call.
func (s State) HasActiveCall() bool { return s.ActiveCallID != "" }

// CanEndCall is the end-eligibility predicate. Twilio calls end on status
// alone; vapi calls additionally need a captured control URL.
func (s State) CanEndCall() bool {
	if s.CallStatus != voiceagent.StatusInProgress {
		return false
	}
	if s.Provider == voiceagent.ProviderVapi {
		return s.ControlURL != ""
	}
	return true
}

// cursorInRange reports whether Cursor points at a list item.
func (s State) cursorInRange() bool {
	return s.Cursor >= 0 && s.Cursor < len(s.List)
}

// listIndexOf returns the list index of a project id, or -1.
func (s State) listIndexOf(projectID string) int {
	if projectID == "" {
		return -1
	}
	for i, it := range s.List {
		if it.ProjectID == projectID {
			return i
		}
	}
	return -1
}

// clearActiveCall empties the coupled active-call fields.
func clearActiveCall(s State) State {
	s.ActiveCallID = ""
	s.ActiveProjectID = ""
	s.CallStatus = ""
	s.Provider = ""
	s.ListenURL = ""
	s.ControlURL = ""
	return s
}

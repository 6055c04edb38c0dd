package dialer

import (
	"time"

	"roofline/internal/calllist"
	"roofline/internal/journal"
	"roofline/internal/voiceagent"
)

// Event is the discriminated input to the reducer. Events arrive from three
// sources: user actions, mutation results, and the poller, all funnelled
// through the session loop so the coordinator never observes two transitions
// at once.
type Event interface{ isEvent() }

// User actions.

type EvStartDialer struct{}
type EvStopDialer struct{}
type EvEndCurrentCall struct{}
type EvSetListen struct{ Enabled bool }

// Mutation results.

type EvPlaceCallSuccess struct {
	ProjectID string
	Resp      voiceagent.PlaceCallResponse
}

type EvPlaceCallError struct {
	ProjectID string
	Err       error
}

// EvPlaceCallSkipped means no call was attempted for the item (no valid
// adjuster phone). The reducer treats it like a place-call failure: skip and
// advance after the skip delay.
type EvPlaceCallSkipped struct {
	ProjectID string
	Reason    string
}

type EvEndCallSuccess struct{ CallID string }

type EvEndCallError struct {
	CallID string
	Err    error
}

// Poller truth.

type EvActiveCallUpdate struct{ Call *voiceagent.ActiveCall }
type EvCallEnded struct{}

// Housekeeping.

// EvListChanged replaces the coordinator's list snapshot.
type EvListChanged struct{ Items []calllist.Item }

// EvDialDue fires when a scheduled advance or skip delay elapses.
type EvDialDue struct{}

func (EvStartDialer) isEvent()      {}
func (EvStopDialer) isEvent()       {}
func (EvEndCurrentCall) isEvent()   {}
func (EvSetListen) isEvent()        {}
func (EvPlaceCallSuccess) isEvent() {}
func (EvPlaceCallError) isEvent()   {}
func (EvPlaceCallSkipped) isEvent() {}
func (EvEndCallSuccess) isEvent()   {}
func (EvEndCallError) isEvent()     {}
func (EvActiveCallUpdate) isEvent() {}
func (EvCallEnded) isEvent()        {}
func (EvListChanged) isEvent()      {}
func (EvDialDue) isEvent()          {}

// Command is an effect the reducer requests. The session executes commands
// after committing the new state; completions come back as events.
type Command interface{ isCommand() }

// CmdDialCursor resolves the item under State.Cursor, validates its phone,
// and issues place-call.
type CmdDialCursor struct{}

// CmdScheduleDial arms the dial timer; EvDialDue follows after the delay.
// Any previously armed timer is replaced.
type CmdScheduleDial struct{ After time.Duration }

// CmdCancelDialTimer disarms a pending dial, if any.
type CmdCancelDialTimer struct{}

// CmdEndCall issues end-call for the captured id.
type CmdEndCall struct{ CallID string }

// CmdConnectAudio brings the live-listen stream up on url.
type CmdConnectAudio struct{ URL string }

// CmdDisconnectAudio tears the live-listen stream down.
type CmdDisconnectAudio struct{}

// CmdInvalidate refetches the active-call mirror, the project record and the
// projects list, propagating CRM-written results back to the UI.
type CmdInvalidate struct{ ProjectID string }

// CmdMarkCompleted flags the list item after its call ends.
type CmdMarkCompleted struct{ ProjectID string }

// CmdJournal appends a dial-journal observation.
type CmdJournal struct {
	Outcome   journal.Outcome
	ProjectID string
	CallID    string
	Status    voiceagent.CallStatus
	Detail    string
}

func (CmdDialCursor) isCommand()      {}
func (CmdScheduleDial) isCommand()    {}
func (CmdCancelDialTimer) isCommand() {}
func (CmdEndCall) isCommand()         {}
func (CmdConnectAudio) isCommand()    {}
func (CmdDisconnectAudio) isCommand() {}
func (CmdInvalidate) isCommand()      {}
func (CmdMarkCompleted) isCommand()   {}
func (CmdJournal) isCommand()         {}

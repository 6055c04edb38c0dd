package journal

import "time"

// Outcome classifies one dialer observation. The journal is a client-side
// history for operators; the server's call records stay authoritative.
type Outcome string

const (
	OutcomePlaced       Outcome = "placed"
	OutcomeSkippedPhone Outcome = "skipped_invalid_phone"
	OutcomeSkippedError Outcome = "skipped_place_error"
	OutcomeEnded        Outcome = "ended"
	OutcomeManualEnd    Outcome = "manual_end"
	OutcomeStopped      Outcome = "stopped"
)

// Entry is one appended dialer observation.
type Entry struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	SessionID string    `json:"session_id" db:"session_id"`
	ProjectID string    `json:"project_id,omitempty" db:"project_id"`
	CallID    string    `json:"call_id,omitempty" db:"call_id"`
	Outcome   Outcome   `json:"outcome" db:"outcome"`

	// Status is the call status at the time of the observation, when known.
	Status string `json:"status,omitempty" db:"status"`

	// Detail carries a short free-form note (error text, skip reason).
	Detail string `json:"detail,omitempty" db:"detail"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

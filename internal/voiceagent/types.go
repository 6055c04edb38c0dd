package voiceagent

import "time"

// Provider identifies which voice backend is carrying a call. It only affects
// end-eligibility and whether a live-listen stream is available.
type Provider string

const (
	ProviderTwilio Provider = "twilio"
	ProviderVapi   Provider = "vapi"
)

type CallStatus string

const (
	StatusQueued     CallStatus = "queued"
	StatusRinging    CallStatus = "ringing"
	StatusInProgress CallStatus = "in_progress"
	StatusForwarding CallStatus = "forwarding"
	StatusEnded      CallStatus = "ended"
	StatusBusy       CallStatus = "busy"
	StatusNoAnswer   CallStatus = "no_answer"
	StatusFailed     CallStatus = "failed"
	StatusCanceled   CallStatus = "canceled"
)

// Terminal reports whether the call has reached a final status. The dialer
// treats arrival at any terminal status as "call ended" and evaluates advance.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusEnded, StatusFailed, StatusCanceled, StatusBusy, StatusNoAnswer:
		return true
	default:
		return false
	}
}

// Monitor carries the vapi live-listen endpoints. ControlURL authorises
// programmatic termination; it is absent for twilio.
type Monitor struct {
	ListenURL  string `json:"listenUrl,omitempty"`
	ControlURL string `json:"controlUrl,omitempty"`
}

// ProviderData is the provider-specific payload returned verbatim by the
// server. Only the vapi monitor block is interpreted client-side.
type ProviderData struct {
	Monitor *Monitor `json:"monitor,omitempty"`
}

// ActiveCall is the server's authoritative record of the user's current call.
// At most one exists per user at any time.
type ActiveCall struct {
	UserID       string       `json:"user_id"`
	CallID       string       `json:"call_id"`
	ProjectID    string       `json:"project_id,omitempty"`
	Status       CallStatus   `json:"status"`
	Provider     Provider     `json:"provider"`
	PhoneNumber  string       `json:"phone_number"`
	ListenURL    string       `json:"listen_url,omitempty"`
	ControlURL   string       `json:"control_url,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	ProviderData ProviderData `json:"provider_data,omitempty"`
}

// MonitorListenURL resolves the listen URL, preferring the vapi monitor block
// over the top-level field.
func (c *ActiveCall) MonitorListenURL() string {
	if c.ProviderData.Monitor != nil && c.ProviderData.Monitor.ListenURL != "" {
		return c.ProviderData.Monitor.ListenURL
	}
	return c.ListenURL
}

// MonitorControlURL resolves the control URL, preferring the vapi monitor block.
func (c *ActiveCall) MonitorControlURL() string {
	if c.ProviderData.Monitor != nil && c.ProviderData.Monitor.ControlURL != "" {
		return c.ProviderData.Monitor.ControlURL
	}
	return c.ControlURL
}

// PlaceCallRequest is the outbound call order sent to the voice-AI server.
// PhoneNumber must be E.164; the remaining fields are customer context handed
// to the voice agent so it can reference the claim during the conversation.
type PlaceCallRequest struct {
	PhoneNumber     string `json:"phoneNumber"`
	CustomerID      string `json:"customerId,omitempty"`
	CustomerName    string `json:"customerName,omitempty"`
	CompanyName     string `json:"companyName,omitempty"`
	CustomerAddress string `json:"customerAddress,omitempty"`
	ClaimNumber     string `json:"claimNumber,omitempty"`
	DateOfLoss      string `json:"dateOfLoss,omitempty"`
	InsuranceAgency string `json:"insuranceAgency,omitempty"`
	AdjusterName    string `json:"adjusterName,omitempty"`
	AdjusterPhone   string `json:"adjusterPhone,omitempty"`
	Tenant          string `json:"tenant,omitempty"`
	JobID           string `json:"jobId,omitempty"`
}

// PlaceCallResponse is the server's acknowledgement of a placed call.
type PlaceCallResponse struct {
	CallID       string       `json:"call_id"`
	Status       CallStatus   `json:"status"`
	Provider     Provider     `json:"provider"`
	ProviderData ProviderData `json:"provider_data,omitempty"`
}

// ListenURL resolves the early listen URL surfaced by the place-call response.
func (r *PlaceCallResponse) ListenURL() string {
	if r.ProviderData.Monitor != nil {
		return r.ProviderData.Monitor.ListenURL
	}
	return ""
}

// ControlURL resolves the early control URL surfaced by the place-call response.
func (r *PlaceCallResponse) ControlURL() string {
	if r.ProviderData.Monitor != nil {
		return r.ProviderData.Monitor.ControlURL
	}
	return ""
}

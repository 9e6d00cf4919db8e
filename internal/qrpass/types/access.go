package types

// Outcome is the terminal state of one capture evaluation.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeRejected  Outcome = "rejected"
	OutcomeNoPayload Outcome = "no-payload"
)

// Reject reasons.  They are recorded in the audit log only and never
// returned to the capture source.
const (
	ReasonNotFound = "not_found"
	ReasonExpired  = "expired"
	ReasonConsumed = "consumed"
	ReasonNoCode   = "no_code"
	ReasonMatched  = "matched"
	ReasonError    = "error"
)

// AccessDecision is the ephemeral result of evaluating a decoded payload.
type AccessDecision struct {
	Outcome     Outcome
	MatchedUser string // set only when Outcome is accepted
	Reason      string
}

func (d AccessDecision) Accepted() bool { return d.Outcome == OutcomeAccepted }

// CaptureResponse is what the capture source gets back.  It never carries a
// reject reason.
type CaptureResponse struct {
	OK         bool   `json:"ok"`
	Granted    bool   `json:"granted"`
	Pending    bool   `json:"pending,omitempty"`
	ServerTime string `json:"server_time"`
}

// IssueResponse is returned to an authenticated user requesting a code.
type IssueResponse struct {
	QRCode    string `json:"qr_code"`
	ExpiresAt string `json:"expires_at"`
}

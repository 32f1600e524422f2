package protocol

// Intent is the closed set of classifier outcomes. Unknown or malformed
// classifier output maps to IntentError, never to raw text.
type Intent string

const (
	IntentNone          Intent = "non_intent"
	IntentSummary       Intent = "request_summary"
	IntentGeneral       Intent = "general_it_request"
	IntentAccessRequest Intent = "access_request"
	IntentAccessRevoke  Intent = "access_revoke"
	IntentError         Intent = "error"
)

// Valid reports whether i is one of the actionable classifier outcomes.
func (i Intent) Valid() bool {
	switch i {
	case IntentNone, IntentSummary, IntentGeneral, IntentAccessRequest, IntentAccessRevoke:
		return true
	}
	return false
}

// AccessFields are the validated fields extracted from an access request or
// revocation. Level is empty for revocations.
type AccessFields struct {
	Repository string `json:"repository"`
	Principal  string `json:"principal"`
	Level      string `json:"level,omitempty"`
}

// Verdict is the structured result of intent classification.
type Verdict struct {
	Intent         Intent        `json:"intent"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	Access         *AccessFields `json:"access,omitempty"`
	PendingActions bool          `json:"pending_actions,omitempty"`
}

package types

// Call lifecycle reported by the voice provider.
type CallState string

const (
	CallQueued     CallState = "queued"
	CallInProgress CallState = "in_progress"
	CallCompleted  CallState = "completed"
	CallFailed     CallState = "failed"
)

type CallStatus struct {
	State      CallState
	Transcript string
	// Raw is the provider's own status string, kept for logs.
	Raw string
}

// CallContext is passed to the voice assistant as template variables.
type CallContext struct {
	DisasterType DisasterType
	Location     string
}

type OutcomeStatus string

const (
	OutcomeSuccess      OutcomeStatus = "success"
	OutcomeFailed       OutcomeStatus = "failed"
	OutcomeTimeout      OutcomeStatus = "timeout"
	OutcomeNoTranscript OutcomeStatus = "no_transcript"
	OutcomeSimulated    OutcomeStatus = "simulated"
)

// Intents are the preferences read out of a finished call. An empty
// ShelterLocation means none was mentioned; a nil WantsEmergencyContacts
// means the caller gave no clear answer.
type Intents struct {
	ShelterLocation        string `json:"shelter_location,omitempty"`
	WantsEmergencyContacts *bool  `json:"wants_emergency_contacts"`
}

func (i Intents) WantsShelterDirections() bool {
	return i.ShelterLocation != ""
}

// EmergencyCallOutcome lives for one notification cycle and is not persisted.
type EmergencyCallOutcome struct {
	CallID                 string        `json:"call_id,omitempty"`
	Status                 OutcomeStatus `json:"status"`
	ShelterLocation        string        `json:"shelter_location,omitempty"`
	WantsEmergencyContacts *bool         `json:"wants_emergency_contacts"`
	WantsShelterDirections bool          `json:"wants_shelter_directions"`
	MapLink                string        `json:"map_link,omitempty"`
	SMSSent                int           `json:"sms_sent"`
	Error                  string        `json:"error,omitempty"`
}

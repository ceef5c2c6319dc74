package domain

type ParticipantStatus string

const (
	StatusPending  ParticipantStatus = "pending"
	StatusApproved ParticipantStatus = "approved"
	StatusRejected ParticipantStatus = "rejected"
)

func (s ParticipantStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether s may move to next. Status only moves forward:
// pending → approved | rejected.
func (s ParticipantStatus) CanTransition(next ParticipantStatus) bool {
	return s == StatusPending && (next == StatusApproved || next == StatusRejected)
}

// Participant represents a user's admission entry in a room.
type Participant struct {
	UserID  UserID            `json:"userId"`
	Status  ParticipantStatus `json:"status"`
	IsAdmin bool              `json:"isAdmin"`
}

// Decision is the admin's outcome for a pending participant.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Status returns the participant status the decision leads to.
func (d Decision) Status() (ParticipantStatus, bool) {
	switch d {
	case DecisionApprove:
		return StatusApproved, true
	case DecisionReject:
		return StatusRejected, true
	}
	return "", false
}

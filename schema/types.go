package schema

import (
	"strconv"
	"time"
)

// Row identifies a patient row in the roster. The first data row is 1.
type Row int

// String formats the row number.
func (r Row) String() string {
	return strconv.Itoa(int(r))
}

// Valid reports whether the row can address a roster entry.
func (r Row) Valid() bool {
	return r >= 1
}

// Email identifies a reviewer. Compare with EqualEmail.
type Email string

// User is the reviewer attached to a session.
type User struct {
	Name  string `json:"name"`
	Email Email  `json:"email"`
}

// Outcome is the predicted binary treatment outcome.
type Outcome int

const (
	// OutcomeUnsuccessful predicts an unsuccessful treatment.
	OutcomeUnsuccessful Outcome = 0
	// OutcomeSuccessful predicts a successful treatment.
	OutcomeSuccessful Outcome = 1
)

// Label returns the display label used by the survey form.
func (o Outcome) Label() string {
	switch o {
	case OutcomeUnsuccessful:
		return "0 - Unsuccessful"
	case OutcomeSuccessful:
		return "1 - Successful"
	default:
		return strconv.Itoa(int(o))
	}
}

// Confidence is one of the fixed confidence labels.
type Confidence string

const (
	ConfidenceVery     Confidence = "Very confident"
	ConfidenceSomewhat Confidence = "Somewhat confident"
	ConfidenceNeutral  Confidence = "Neutral"
	ConfidenceUnsure   Confidence = "Somewhat unsure"
	ConfidenceNotAtAll Confidence = "Not at all confident"
)

// ConfidenceLevels lists the accepted confidence labels in display order.
var ConfidenceLevels = []Confidence{
	ConfidenceVery,
	ConfidenceSomewhat,
	ConfidenceNeutral,
	ConfidenceUnsure,
	ConfidenceNotAtAll,
}

// SNOT-22 score bounds.
const (
	MinSNOT22     = 0
	MaxSNOT22     = 110
	DefaultSNOT22 = 24
)

// Prediction is the structured answer a reviewer submits for one row.
type Prediction struct {
	Row        Row        `json:"row"`
	Outcome    Outcome    `json:"outcome"`
	Confidence Confidence `json:"confidence"`
	SNOT22     int        `json:"snot22"`
}

// Submission is a stored prediction with reviewer attribution.
type Submission struct {
	Row           Row        `json:"row"`
	Outcome       Outcome    `json:"outcome"`
	Confidence    Confidence `json:"confidence"`
	SNOT22        int        `json:"snot22"`
	ReviewerName  string     `json:"reviewer_name"`
	ReviewerEmail Email      `json:"reviewer_email"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	EditCount     int        `json:"edit_count"`
	LastEditedAt  *time.Time `json:"last_edited_at,omitempty"`
}

// Prediction returns the prediction part of the submission.
func (s Submission) Prediction() Prediction {
	return Prediction{Row: s.Row, Outcome: s.Outcome, Confidence: s.Confidence, SNOT22: s.SNOT22}
}

// PatientSummary is one roster entry as seen by a particular reviewer.
type PatientSummary struct {
	Row         Row    `json:"row"`
	Submitted   bool   `json:"submitted"`
	Available   bool   `json:"available"`
	LockedByYou bool   `json:"locked_by_you"`
	ClaimedBy   Email  `json:"claimed_by"`
	ClaimedAt   string `json:"claimed_at"`
	CanEdit     bool   `json:"can_edit"`
}

// Selectable reports whether the reviewer may open the row from the menu.
// Submitted rows open only for their author; others open when unclaimed or
// claimed by the reviewer.
func (p PatientSummary) Selectable(email Email) bool {
	if p.Submitted {
		return p.CanEdit
	}
	return p.ClaimedBy == "" || EqualEmail(p.ClaimedBy, email)
}

// PatientRecord is a full row with the caller's own submission, if any.
type PatientRecord struct {
	Row          Row         `json:"row"`
	Record       Record      `json:"record"`
	MySubmission *Submission `json:"my_submission"`
}

// Progress reports how many rows a reviewer has completed.
type Progress struct {
	Completed int  `json:"completed"`
	Total     int  `json:"total"`
	NextRow   *Row `json:"next_row"`
}

// NextPatient is the auto-advance answer. Complete is set when no row is left.
type NextPatient struct {
	Complete     bool        `json:"complete,omitempty"`
	Row          Row         `json:"row,omitempty"`
	Record       *Record     `json:"record,omitempty"`
	MySubmission *Submission `json:"my_submission,omitempty"`
}

// ReviewerCount is a per-reviewer submission tally.
type ReviewerCount struct {
	Email     Email `json:"email"`
	Submitted int   `json:"submitted"`
}

// Metrics aggregates survey progress across all reviewers.
type Metrics struct {
	Total     int             `json:"total"`
	Submitted int             `json:"submitted"`
	Claimed   int             `json:"claimed"`
	Available int             `json:"available"`
	Reviewers []ReviewerCount `json:"reviewers"`
}

// EventType names a survey state change.
type EventType string

const (
	EventClaimed   EventType = "claimed"
	EventReleased  EventType = "released"
	EventSubmitted EventType = "submitted"
	EventUpdated   EventType = "updated"
	EventImported  EventType = "imported"
)

// SurveyEvent describes a state change for downstream consumers.
type SurveyEvent struct {
	Type  EventType `json:"type"`
	Row   Row       `json:"row,omitempty"`
	Email Email     `json:"email,omitempty"`
	At    time.Time `json:"at"`
	// Rows is set on import events.
	Rows int `json:"rows,omitempty"`
}

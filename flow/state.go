package flow

import (
	"fmt"

	"github.com/samber/lo"

	"pkt.systems/expertsurvey/schema"
)

// View is the screen the controller is on.
type View string

const (
	ViewMenu    View = "menu"
	ViewPredict View = "predict"
)

// Inline messages surfaced through State.Error and State.Notice.
const (
	MsgSignIn           = "Please sign in first."
	MsgUserRequired     = "Please enter your name and email."
	MsgInvalidEmail     = "Please enter a valid email address."
	MsgSaveUser         = "Could not save user."
	MsgChooseRow        = "Please choose a patient."
	MsgChooseOutcome    = "Please choose an outcome."
	MsgChooseConfidence = "Please choose a confidence level."
	MsgInvalidOutcome   = "Outcome must be 0 or 1."
	MsgCompleted        = "This patient has already been completed."
	MsgPatients         = "Failed to load patients."
	MsgLoad             = "Failed to load patient data."
	MsgClaim            = "Unable to claim this patient."
	MsgRelease          = "Unable to release this patient."
	MsgSubmit           = "Submit failed."
	MsgUpdate           = "Update failed."
	MsgNext             = "Could not load the next patient."
)

// Form holds the prediction inputs. Outcome and Confidence start unset.
type Form struct {
	Outcome    *schema.Outcome
	Confidence schema.Confidence
	SNOT22     int
}

func newForm() Form {
	return Form{SNOT22: schema.DefaultSNOT22}
}

// Ready reports whether the form can be submitted.
func (f Form) Ready() bool {
	return f.Outcome != nil && f.Confidence != ""
}

// Active is the row loaded in the predict view.
type Active struct {
	Row          schema.Row
	Record       schema.Record
	MySubmission *schema.Submission
	// Resumed is set when the row was reopened from an earlier session.
	Resumed bool
}

// State is the full client view-model. Callers get copies.
type State struct {
	View     View
	Healthy  bool
	User     *schema.User
	Patients []schema.PatientSummary
	Progress *schema.Progress
	// Selected is the row picked in the menu, 0 when none.
	Selected schema.Row
	Active   *Active
	Form     Form
	Error    string
	Notice   string
	// Complete is set when no workable rows remain.
	Complete bool
	// Done marks rows this user has submitted during the session.
	Done map[schema.Row]bool
	// LastClaimed is released server-side on the next claim.
	LastClaimed schema.Row
}

func newState() State {
	return State{View: ViewMenu, Form: newForm(), Done: map[schema.Row]bool{}}
}

// Email returns the signed-in reviewer, or "".
func (s State) Email() schema.Email {
	if s.User == nil {
		return ""
	}
	return s.User.Email
}

// Summary returns the roster entry for row.
func (s State) Summary(row schema.Row) (schema.PatientSummary, bool) {
	return lo.Find(s.Patients, func(p schema.PatientSummary) bool { return p.Row == row })
}

// Selectable returns the rows the user may pick from the menu.
func (s State) Selectable() []schema.PatientSummary {
	if s.User == nil {
		return nil
	}
	email := s.Email()
	return lo.Filter(s.Patients, func(p schema.PatientSummary, _ int) bool { return p.Selectable(email) })
}

// CanEdit reports whether the active row holds the user's own submission.
func (s State) CanEdit() bool {
	if s.Active == nil {
		return false
	}
	if s.Active.MySubmission != nil {
		return true
	}
	sum, ok := s.Summary(s.Active.Row)
	return ok && sum.Submitted && sum.CanEdit
}

// ReadOnly reports whether the active row is someone else's finished work.
func (s State) ReadOnly() bool {
	return s.Active != nil && s.Active.Record.Submitted && !s.CanEdit()
}

// RowLabel describes a roster entry for menus.
func (s State) RowLabel(p schema.PatientSummary) string {
	switch {
	case p.Submitted:
		if s.User != nil && p.CanEdit {
			return fmt.Sprintf("Row %d • submitted (yours, editable)", int(p.Row))
		}
		return fmt.Sprintf("Row %d • submitted", int(p.Row))
	case p.ClaimedBy != "":
		label := fmt.Sprintf("Row %d • claimed by %s", int(p.Row), p.ClaimedBy)
		if p.ClaimedAt != "" {
			label += " at " + p.ClaimedAt
		}
		return label
	default:
		return fmt.Sprintf("Row %d • available", int(p.Row))
	}
}

func (s State) clone() State {
	out := s
	out.Patients = append([]schema.PatientSummary(nil), s.Patients...)
	out.Done = make(map[schema.Row]bool, len(s.Done))
	for row, done := range s.Done {
		out.Done[row] = done
	}
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	if s.Progress != nil {
		p := *s.Progress
		out.Progress = &p
	}
	if s.Active != nil {
		a := *s.Active
		a.Record = schema.Record{Fields: schema.CloneCells(s.Active.Record.Fields), Submitted: s.Active.Record.Submitted}
		out.Active = &a
	}
	if s.Form.Outcome != nil {
		o := *s.Form.Outcome
		out.Form.Outcome = &o
	}
	return out
}

// preselect keeps a still-selectable pick or falls back to the first
// unclaimed, unsubmitted row.
func (s *State) preselect() {
	if s.User == nil {
		return
	}
	email := s.Email()
	if sum, ok := s.Summary(s.Selected); ok && sum.Selectable(email) {
		return
	}
	first, ok := lo.Find(s.Patients, func(p schema.PatientSummary) bool {
		return !p.Submitted && p.Selectable(email)
	})
	if ok {
		s.Selected = first.Row
		return
	}
	s.Selected = 0
}

// load makes rec the active row and prefills the form from the user's own
// submission when there is one.
func (s *State) load(rec schema.PatientRecord) {
	mine := rec.MySubmission
	if mine == nil && s.User != nil {
		if sub := schema.SubmissionFrom(rec.Row, rec.Record); sub != nil && schema.EqualEmail(sub.ReviewerEmail, s.User.Email) {
			mine = sub
		}
	}
	s.Active = &Active{Row: rec.Row, Record: rec.Record, MySubmission: mine}
	s.View = ViewPredict
	s.Selected = rec.Row
	s.Complete = false
	s.Error = ""
	s.Notice = ""
	s.Form = newForm()
	if mine != nil {
		outcome := mine.Outcome
		s.Form = Form{Outcome: &outcome, Confidence: mine.Confidence, SNOT22: mine.SNOT22}
		s.Done[rec.Row] = true
	}
}

func (s *State) toMenu() {
	s.View = ViewMenu
	s.Active = nil
	s.Selected = 0
	s.Form = newForm()
	s.Notice = ""
	s.preselect()
}

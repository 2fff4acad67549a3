package format

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"pkt.systems/expertsurvey/flow"
	"pkt.systems/expertsurvey/schema"
)

// PlainRenderer formats survey state as plain text lines.
type PlainRenderer struct{}

// NewPlainRenderer returns a default plain-text renderer.
func NewPlainRenderer() *PlainRenderer {
	return &PlainRenderer{}
}

// FormatState renders the whole client view.
func (p *PlainRenderer) FormatState(st flow.State) []string {
	lines := []string{p.formatUser(st)}
	if st.Error != "" {
		lines = append(lines, "error: "+st.Error)
	}
	if st.Notice != "" {
		lines = append(lines, st.Notice)
	}
	if st.Complete {
		lines = append(lines, "All patients are complete. Thank you!")
	}
	if st.Progress != nil {
		lines = append(lines, p.FormatProgress(*st.Progress)...)
	}
	switch st.View {
	case flow.ViewPredict:
		lines = append(lines, p.FormatActive(st)...)
	default:
		lines = append(lines, p.FormatRoster(st)...)
	}
	return lines
}

func (p *PlainRenderer) formatUser(st flow.State) string {
	health := "available"
	if !st.Healthy {
		health = "unavailable"
	}
	if st.User == nil {
		return fmt.Sprintf("not signed in (server %s)", health)
	}
	return fmt.Sprintf("signed in as %s (%s) (server %s)", st.User.Name, st.User.Email, health)
}

// FormatRoster lists the roster with the menu's selection marker.
func (p *PlainRenderer) FormatRoster(st flow.State) []string {
	if len(st.Patients) == 0 {
		return []string{"(no patients loaded)"}
	}
	lines := []string{fmt.Sprintf("patients: selectable %d / total %d", len(st.Selectable()), len(st.Patients))}
	email := st.Email()
	for _, sum := range st.Patients {
		marker := "  "
		if sum.Row == st.Selected {
			marker = "> "
		}
		line := marker + st.RowLabel(sum)
		if st.User != nil && !sum.Selectable(email) {
			line += " (disabled)"
		}
		if st.Done[sum.Row] {
			line += " [done]"
		}
		lines = append(lines, line)
	}
	return lines
}

// FormatPatients lists roster summaries for one-shot commands.
func (p *PlainRenderer) FormatPatients(patients []schema.PatientSummary, email schema.Email) []string {
	submitted := lo.CountBy(patients, func(s schema.PatientSummary) bool { return s.Submitted })
	lines := []string{fmt.Sprintf("patients: %d total, %d submitted", len(patients), submitted)}
	for _, s := range patients {
		status := "available"
		switch {
		case s.Submitted && s.CanEdit:
			status = "submitted (yours)"
		case s.Submitted:
			status = "submitted"
		case s.LockedByYou:
			status = "claimed by you"
		case s.ClaimedBy != "":
			status = "claimed by " + string(s.ClaimedBy)
		}
		line := fmt.Sprintf("row %d: %s", int(s.Row), status)
		if email != "" && !s.Selectable(email) {
			line += " (locked)"
		}
		lines = append(lines, line)
	}
	return lines
}

// FormatActive renders the predict view.
func (p *PlainRenderer) FormatActive(st flow.State) []string {
	if st.Active == nil {
		return []string{"no patient loaded"}
	}
	lines := []string{fmt.Sprintf("Patient (row %d)", int(st.Active.Row))}
	switch {
	case st.Active.Record.Submitted && st.CanEdit():
		lines = append(lines, "You previously submitted this patient. You can update your submission below.")
	case st.ReadOnly():
		lines = append(lines, "This patient has already been completed.")
	}
	lines = append(lines, p.FormatRecord(st.Active.Record)...)
	lines = append(lines, p.FormatForm(st.Form)...)
	return lines
}

// FormatRecord renders the clinical fields of a record.
func (p *PlainRenderer) FormatRecord(rec schema.Record) []string {
	return formatFields(flow.CardFields(rec))
}

// FormatDetails renders the picker's details view.
func (p *PlainRenderer) FormatDetails(d *flow.Details) []string {
	if d == nil {
		return nil
	}
	lines := []string{fmt.Sprintf("Patient (row %d)", int(d.Row))}
	lines = append(lines, formatFields(d.Fields())...)
	outcome := d.Outcome
	lines = append(lines, p.FormatForm(flow.Form{Outcome: &outcome, Confidence: d.Confidence, SNOT22: d.SNOT22})...)
	if d.Message != "" {
		lines = append(lines, d.Message)
	}
	return lines
}

// FormatForm renders the prediction inputs.
func (p *PlainRenderer) FormatForm(f flow.Form) []string {
	outcome := "(unset)"
	if f.Outcome != nil {
		outcome = f.Outcome.Label()
	}
	confidence := "(unset)"
	if f.Confidence != "" {
		confidence = string(f.Confidence)
	}
	return []string{
		"Your prediction",
		"  outcome:    " + outcome,
		"  confidence: " + confidence,
		fmt.Sprintf("  snot-22:    %d (0 = no symptoms, 110 = worst)", f.SNOT22),
	}
}

// FormatProgress renders the reviewer's progress.
func (p *PlainRenderer) FormatProgress(pr schema.Progress) []string {
	line := fmt.Sprintf("progress: %d/%d", pr.Completed, pr.Total)
	if pr.NextRow != nil {
		line += fmt.Sprintf(" (next row %d)", int(*pr.NextRow))
	}
	return []string{line}
}

// FormatMetrics renders roster-wide counts.
func (p *PlainRenderer) FormatMetrics(m schema.Metrics) []string {
	lines := []string{fmt.Sprintf("total %d, submitted %d, claimed %d, available %d", m.Total, m.Submitted, m.Claimed, m.Available)}
	for _, r := range m.Reviewers {
		lines = append(lines, fmt.Sprintf("  %s: %d", r.Email, r.Submitted))
	}
	return lines
}

// FormatSubmission renders a stored prediction.
func (p *PlainRenderer) FormatSubmission(s schema.Submission) []string {
	lines := []string{
		fmt.Sprintf("row %d: outcome %s, %s, snot-22 %d", int(s.Row), s.Outcome.Label(), s.Confidence, s.SNOT22),
		fmt.Sprintf("  by %s <%s> at %s", s.ReviewerName, s.ReviewerEmail, schema.FormatTimestamp(s.SubmittedAt)),
	}
	if s.EditCount > 0 {
		edited := fmt.Sprintf("  edited %d time(s)", s.EditCount)
		if s.LastEditedAt != nil {
			edited += ", last at " + schema.FormatTimestamp(*s.LastEditedAt)
		}
		lines = append(lines, edited)
	}
	return lines
}

func formatFields(fields []flow.Field) []string {
	if len(fields) == 0 {
		return []string{"(no clinical fields)"}
	}
	width := 0
	for _, f := range fields {
		if len(f.Label) > width {
			width = len(f.Label)
		}
	}
	return lo.Map(fields, func(f flow.Field, _ int) string {
		return "  " + f.Label + ":" + strings.Repeat(" ", width-len(f.Label)+1) + f.Value
	})
}

package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Administrative columns managed by the survey service.
const (
	ColPrediction       = "expert_prediction"
	ColConfidence       = "expert_confidence"
	ColSNOT22Prediction = "expert_SNOT22score_prediction"
	ColReviewerName     = "reviewer_name"
	ColReviewerEmail    = "reviewer_email"
	ColSubmissionStatus = "submission_status"
	ColClaimedBy        = "claimed_by"
	ColClaimedAt        = "claimed_at"
	ColEditCount        = "edit_count"
	ColLastEditedAt     = "last_edited_at"
	ColSubmittedAt      = "submitted_at"
)

// AdminColumns lists the columns every roster carries after import, in order.
var AdminColumns = []string{
	ColPrediction,
	ColConfidence,
	ColSNOT22Prediction,
	ColReviewerName,
	ColReviewerEmail,
	ColSubmissionStatus,
	ColClaimedBy,
	ColClaimedAt,
	ColEditCount,
	ColLastEditedAt,
	ColSubmittedAt,
}

var adminSet = func() map[string]struct{} {
	out := make(map[string]struct{}, len(AdminColumns))
	for _, col := range AdminColumns {
		out[col] = struct{}{}
	}
	return out
}()

// IsAdminColumn reports whether key is managed by the service rather than clinical data.
func IsAdminColumn(key string) bool {
	_, ok := adminSet[key]
	return ok || key == "submitted"
}

// Record is one patient row. It encodes as a flat JSON object of its
// non-empty fields plus a boolean "submitted" key.
type Record struct {
	Fields    map[string]string
	Submitted bool
}

// Get returns a field value or "".
func (r Record) Get(key string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[key]
}

// Keys returns the non-empty field keys in lexical order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r.Fields))
	for k, v := range r.Fields {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON encodes the record as a flat object.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		if v == "" || k == "submitted" {
			continue
		}
		out[k] = v
	}
	out["submitted"] = r.Submitted
	return json.Marshal(out)
}

// UnmarshalJSON decodes a flat object. Non-string scalars are kept in their
// JSON text form.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Fields = make(map[string]string, len(raw))
	r.Submitted = false
	for k, v := range raw {
		if k == "submitted" {
			var b bool
			if err := json.Unmarshal(v, &b); err != nil {
				return fmt.Errorf("record submitted: %w", err)
			}
			r.Submitted = b
			continue
		}
		value, err := scalarString(v)
		if err != nil {
			return fmt.Errorf("record field %q: %w", k, err)
		}
		if value != "" {
			r.Fields[k] = value
		}
	}
	return nil
}

func scalarString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return "", fmt.Errorf("unsupported value %s", trimmed)
	}
	return string(trimmed), nil
}

// SubmittedValue reports whether a submission_status cell counts as submitted.
func SubmittedValue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "submitted", "done":
		return true
	default:
		return false
	}
}

// SubmissionFrom extracts the stored prediction from a submitted record.
// It returns nil when the record carries no readable prediction.
func SubmissionFrom(row Row, rec Record) *Submission {
	if !rec.Submitted && !SubmittedValue(rec.Get(ColSubmissionStatus)) {
		return nil
	}
	outcome, err := strconv.Atoi(strings.TrimSpace(rec.Get(ColPrediction)))
	if err != nil {
		return nil
	}
	snot, err := strconv.Atoi(strings.TrimSpace(rec.Get(ColSNOT22Prediction)))
	if err != nil {
		snot = DefaultSNOT22
	}
	edits, _ := strconv.Atoi(strings.TrimSpace(rec.Get(ColEditCount)))
	sub := &Submission{
		Row:           row,
		Outcome:       Outcome(outcome),
		Confidence:    Confidence(rec.Get(ColConfidence)),
		SNOT22:        snot,
		ReviewerName:  rec.Get(ColReviewerName),
		ReviewerEmail: Email(rec.Get(ColReviewerEmail)),
		EditCount:     edits,
	}
	if ts, ok := ParseTimestamp(rec.Get(ColSubmittedAt)); ok {
		sub.SubmittedAt = ts
	}
	if ts, ok := ParseTimestamp(rec.Get(ColLastEditedAt)); ok {
		sub.LastEditedAt = &ts
	}
	return sub
}

package flow

import (
	"context"

	"pkt.systems/expertsurvey/internal/logx"
	"pkt.systems/expertsurvey/schema"
)

// Submitter sends a first prediction.
type Submitter interface {
	SubmitPrediction(ctx context.Context, p schema.Prediction) (schema.Submission, error)
}

// Details messages.
const (
	MsgSaved           = "Submission saved."
	MsgSubmissionError = "Submission error."
)

// Details is a claimed row with a prediction form that starts filled in.
type Details struct {
	Row        schema.Row
	Record     schema.Record
	Outcome    schema.Outcome
	Confidence schema.Confidence
	SNOT22     int
	Message    string
	Saved      bool
}

// NewDetails returns details with the default form values.
func NewDetails(row schema.Row, rec schema.Record) *Details {
	return &Details{
		Row:        row,
		Record:     rec,
		Outcome:    schema.OutcomeSuccessful,
		Confidence: schema.ConfidenceNeutral,
		SNOT22:     schema.DefaultSNOT22,
	}
}

// Fields lists the display-order fields with friendly labels.
func (d *Details) Fields() []Field {
	return DetailFields(d.Record)
}

// SetOutcome sets the outcome. Values other than 0 and 1 are rejected.
func (d *Details) SetOutcome(o schema.Outcome) error {
	if o != schema.OutcomeUnsuccessful && o != schema.OutcomeSuccessful {
		return schema.ErrInvalidOutcome
	}
	d.Outcome = o
	return nil
}

// SetConfidence sets the confidence level.
func (d *Details) SetConfidence(value string) error {
	conf, err := schema.NormalizeConfidence(value)
	if err != nil {
		return err
	}
	d.Confidence = conf
	return nil
}

// SetSNOT22 sets the clamped symptom score.
func (d *Details) SetSNOT22(score int) {
	d.SNOT22 = schema.ClampSNOT22(score)
}

// Prediction returns the form as a prediction.
func (d *Details) Prediction() schema.Prediction {
	return schema.Prediction{Row: d.Row, Outcome: d.Outcome, Confidence: d.Confidence, SNOT22: d.SNOT22}
}

// Submit sends the prediction and records the outcome in Message.
func (d *Details) Submit(ctx context.Context, api Submitter) error {
	d.Message = ""
	_, err := api.SubmitPrediction(ctx, d.Prediction())
	if err != nil {
		logx.Ctx(ctx).Info("details submit failed", "row", int(d.Row), "err", err)
		d.Message = errorText(err, MsgSubmissionError)
		return err
	}
	d.Saved = true
	d.Message = MsgSaved
	return nil
}

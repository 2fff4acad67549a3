package flow

import (
	"context"
	"sync"

	"github.com/samber/lo"

	"pkt.systems/expertsurvey/internal/logx"
	"pkt.systems/expertsurvey/schema"
)

// PickerAPI is what Picker needs from the survey API.
type PickerAPI interface {
	ListPatients(ctx context.Context) ([]schema.PatientSummary, error)
	GetPatient(ctx context.Context, row schema.Row, includeMy bool) (schema.PatientRecord, error)
	Claim(ctx context.Context, row, prevRow schema.Row) error
	Release(ctx context.Context, row schema.Row) error
}

// Picker messages.
const (
	MsgPickerLoad   = "Failed to load patients"
	MsgPickerSelect = "Please select a patient"
	MsgPickerClaim  = "Could not claim patient"
)

// Option is one selectable roster entry.
type Option struct {
	Row      schema.Row
	Text     string
	Disabled bool
}

// Picker is the plain claim/release roster chooser. It never advances on
// its own.
type Picker struct {
	api   PickerAPI
	email schema.Email

	mu       sync.Mutex
	patients []schema.PatientSummary
	selected schema.Row
	err      string
}

// NewPicker returns a picker for the reviewer with the given email.
func NewPicker(api PickerAPI, email schema.Email) *Picker {
	return &Picker{api: api, email: email}
}

// Refresh reloads the roster.
func (p *Picker) Refresh(ctx context.Context) error {
	patients, err := p.api.ListPatients(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.err = MsgPickerLoad
		return err
	}
	p.patients = patients
	p.err = ""
	return nil
}

// Options lists the roster. Entries already submitted or claimed by someone
// else are disabled.
func (p *Picker) Options() []Option {
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo.Map(p.patients, func(s schema.PatientSummary, _ int) Option {
		disabled := s.Submitted || (s.ClaimedBy != "" && !schema.EqualEmail(s.ClaimedBy, p.email))
		text := "Row " + s.Row.String()
		if disabled {
			text += " (locked/submitted)"
		}
		return Option{Row: s.Row, Text: text, Disabled: disabled}
	})
}

// Select records the chosen row.
func (p *Picker) Select(row schema.Row) {
	p.mu.Lock()
	p.selected = row
	p.mu.Unlock()
}

// Selected returns the chosen row, 0 when none.
func (p *Picker) Selected() schema.Row {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

// Error returns the inline error, if any.
func (p *Picker) Error() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Claim claims the selected row and returns its details. A failed claim
// sets the inline error and refreshes the roster.
func (p *Picker) Claim(ctx context.Context) (*Details, error) {
	p.mu.Lock()
	row := p.selected
	p.err = ""
	p.mu.Unlock()
	if !row.Valid() {
		p.setError(MsgPickerSelect)
		return nil, schema.ErrBadRow
	}
	log := logx.WithReviewerRow(ctx, p.email, row)
	if err := p.api.Claim(ctx, row, 0); err != nil {
		log.Info("picker claim rejected", "err", err)
		msg := errorText(err, MsgPickerClaim)
		if rerr := p.Refresh(ctx); rerr != nil {
			log.Warn("picker refresh after claim failed", "err", rerr)
		}
		p.setError(msg)
		return nil, err
	}
	rec, err := p.api.GetPatient(ctx, row, false)
	if err != nil {
		log.Warn("picker patient load failed", "err", err)
		p.setError(MsgPickerClaim)
		return nil, err
	}
	log.Info("picker claim ok")
	return NewDetails(row, rec.Record), nil
}

// Release drops the claim on the selected row and refreshes. Release
// failures are not shown.
func (p *Picker) Release(ctx context.Context) error {
	row := p.Selected()
	if !row.Valid() {
		return nil
	}
	if err := p.api.Release(ctx, row); err != nil {
		logx.WithReviewerRow(ctx, p.email, row).Debug("picker release failed", "err", err)
		return err
	}
	return p.Refresh(ctx)
}

func (p *Picker) setError(msg string) {
	p.mu.Lock()
	p.err = msg
	p.mu.Unlock()
}

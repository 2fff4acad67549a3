package flow

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"pkt.systems/expertsurvey/schema"
	"pkt.systems/pslog"
)

func TestPickerOptionsDisableLockedRows(t *testing.T) {
	svc := newSurvey(t, 3)
	ctx := context.Background()
	if err := svc.Claim(ctx, schema.ClaimRequest{Row: 1, Email: boUser.Email}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	p := schema.Prediction{Row: 2, Outcome: 0, Confidence: schema.ConfidenceNeutral, SNOT22: 5}
	if _, err := svc.Submit(ctx, schema.SubmitRequest{User: anaUser, Prediction: p}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	picker := NewPicker(newFakeAPI(svc, &anaUser), anaUser.Email)
	if err := picker.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	opts := picker.Options()
	want := []bool{true, true, false}
	if len(opts) != len(want) {
		t.Fatalf("expected %d options, got %d", len(want), len(opts))
	}
	for i, opt := range opts {
		if opt.Disabled != want[i] {
			t.Fatalf("option %d disabled=%v, want %v (%+v)", i, opt.Disabled, want[i], opt)
		}
	}
	if opts[0].Text != "Row 1 (locked/submitted)" || opts[2].Text != "Row 3" {
		t.Fatalf("unexpected option text %+v", opts)
	}
}

func TestPickerClaimAndRelease(t *testing.T) {
	svc := newSurvey(t, 2)
	ctx := context.Background()
	api := newFakeAPI(svc, &anaUser)
	picker := NewPicker(api, anaUser.Email)
	if _, err := picker.Claim(ctx); err == nil || picker.Error() != MsgPickerSelect {
		t.Fatalf("expected select prompt, got %q", picker.Error())
	}
	if api.count("claim") != 0 {
		t.Fatalf("expected no claim without selection")
	}
	picker.Select(2)
	details, err := picker.Claim(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if details.Row != 2 || details.Record.Get("Age") != "52" {
		t.Fatalf("unexpected details %+v", details)
	}
	if err := picker.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if opts := picker.Options(); opts[1].Disabled {
		t.Fatalf("expected row 2 free after release")
	}
}

func TestPickerClaimFailureRefreshes(t *testing.T) {
	svc := newSurvey(t, 1)
	ctx := context.Background()
	if err := svc.Claim(ctx, schema.ClaimRequest{Row: 1, Email: boUser.Email}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	api := newFakeAPI(svc, &anaUser)
	picker := NewPicker(api, anaUser.Email)
	picker.Select(1)
	if _, err := picker.Claim(ctx); err == nil {
		t.Fatalf("expected claim failure")
	}
	if picker.Error() != schema.ErrLockedByOther.Error() {
		t.Fatalf("expected server error text, got %q", picker.Error())
	}
	if api.count("patients") != 1 || !picker.Options()[0].Disabled {
		t.Fatalf("expected roster refreshed after failure")
	}

	api.claimErr = errors.New("connection reset")
	if _, err := picker.Claim(ctx); err == nil || picker.Error() != MsgPickerClaim {
		t.Fatalf("expected generic claim message, got %q", picker.Error())
	}
}

func TestPickerLogsRefreshFailureAfterConflict(t *testing.T) {
	svc := newSurvey(t, 1)
	var buf bytes.Buffer
	logger := pslog.NewWithOptions(&buf, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.DebugLevel,
	})
	ctx := pslog.ContextWithLogger(context.Background(), logger)
	if err := svc.Claim(ctx, schema.ClaimRequest{Row: 1, Email: boUser.Email}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	api := newFakeAPI(svc, &anaUser)
	api.listErr = errors.New("roster unavailable")
	picker := NewPicker(api, anaUser.Email)
	picker.Select(1)
	if _, err := picker.Claim(ctx); err == nil {
		t.Fatalf("expected claim failure")
	}
	if picker.Error() != schema.ErrLockedByOther.Error() {
		t.Fatalf("expected claim error to win over refresh error, got %q", picker.Error())
	}
	out := buf.String()
	if !strings.Contains(out, "picker refresh after claim failed") || !strings.Contains(out, "roster unavailable") {
		t.Fatalf("expected refresh failure logged, got %s", out)
	}
}

func TestDetailsDefaultsAndSubmit(t *testing.T) {
	svc := newSurvey(t, 1)
	ctx := context.Background()
	api := newFakeAPI(svc, &anaUser)
	rec, err := svc.GetPatient(ctx, schema.GetPatientRequest{Row: 1})
	if err != nil {
		t.Fatalf("get patient: %v", err)
	}
	d := NewDetails(1, rec.Record)
	if d.Outcome != schema.OutcomeSuccessful || d.Confidence != schema.ConfidenceNeutral || d.SNOT22 != schema.DefaultSNOT22 {
		t.Fatalf("unexpected defaults %+v", d)
	}
	fields := d.Fields()
	if len(fields) != 2 || fields[0].Label != "Age" || fields[1].Label != "Sex" {
		t.Fatalf("unexpected fields %+v", fields)
	}
	if err := d.SetOutcome(3); !errors.Is(err, schema.ErrInvalidOutcome) {
		t.Fatalf("expected invalid outcome, got %v", err)
	}
	if err := d.SetConfidence("VERY CONFIDENT"); err != nil || d.Confidence != schema.ConfidenceVery {
		t.Fatalf("confidence: %v %q", err, d.Confidence)
	}
	d.SetSNOT22(-4)
	if d.SNOT22 != schema.MinSNOT22 {
		t.Fatalf("expected clamped score, got %d", d.SNOT22)
	}
	if err := d.Submit(ctx, api); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.Message != MsgSaved || !d.Saved {
		t.Fatalf("unexpected message %q", d.Message)
	}

	other := NewDetails(1, rec.Record)
	if err := other.Submit(ctx, newFakeAPI(svc, &boUser)); err == nil {
		t.Fatalf("expected conflict")
	}
	if other.Message != schema.ErrAlreadyCompleted.Error() {
		t.Fatalf("expected server message, got %q", other.Message)
	}
}

package core

import (
	"context"
	"io"

	"pkt.systems/expertsurvey/schema"
)

// Service is the transport-agnostic API for the survey roster, claims, and submissions.
type Service interface {
	ListPatients(ctx context.Context, email schema.Email) ([]schema.PatientSummary, error)
	GetPatient(ctx context.Context, req schema.GetPatientRequest) (schema.PatientRecord, error)
	Claim(ctx context.Context, req schema.ClaimRequest) error
	Release(ctx context.Context, req schema.ReleaseRequest) error
	Submit(ctx context.Context, req schema.SubmitRequest) (schema.Submission, error)
	Update(ctx context.Context, req schema.SubmitRequest) (schema.Submission, error)
	Next(ctx context.Context, req schema.NextRequest) (schema.NextPatient, error)
	Progress(ctx context.Context, email schema.Email) (schema.Progress, error)
	Metrics(ctx context.Context) (schema.Metrics, error)
	ExportCSV(ctx context.Context, w io.Writer) error
	Import(ctx context.Context, roster schema.Roster) (schema.ImportResponse, error)
}

// Store persists the roster. SaveRow writes one row after Replace has set the columns.
type Store interface {
	Load(ctx context.Context) (schema.Roster, bool, error)
	Replace(ctx context.Context, roster schema.Roster) error
	SaveRow(ctx context.Context, row schema.Row, cells map[string]string) error
}

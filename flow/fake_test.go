package flow

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"pkt.systems/expertsurvey/apiclient"
	"pkt.systems/expertsurvey/core"
	"pkt.systems/expertsurvey/schema"
)

var (
	anaUser = schema.User{Name: "Ana", Email: "ana@example.org"}
	boUser  = schema.User{Name: "Bo", Email: "bo@example.org"}
)

func newSurvey(t *testing.T, rows int) core.Service {
	t.Helper()
	svc, err := core.NewService(schema.ServiceConfig{}, core.ServiceDeps{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	table := schema.Roster{Columns: []string{"Age", "SEX", "TREATMENT"}}
	for i := 0; i < rows; i++ {
		table.Rows = append(table.Rows, map[string]string{"Age": "52", "SEX": "F", "TREATMENT": "ESS"})
	}
	if _, err := svc.Import(context.Background(), table); err != nil {
		t.Fatalf("import: %v", err)
	}
	return svc
}

// fakeAPI serves a core.Service in process, the way the HTTP layer would,
// while counting calls and injecting failures.
type fakeAPI struct {
	svc core.Service

	mu         sync.Mutex
	user       *schema.User
	calls      map[string]int
	healthErr  error
	claimErr   error
	listErr    error
	patientErr error
	hold       map[schema.Row]chan struct{}
	entered    chan schema.Row
	// claimHold blocks Claim after the server granted it, until closed or
	// the caller's context ends.
	claimHold map[schema.Row]chan struct{}
}

func newFakeAPI(svc core.Service, user *schema.User) *fakeAPI {
	return &fakeAPI{svc: svc, user: user, calls: map[string]int{}, hold: map[schema.Row]chan struct{}{}, claimHold: map[schema.Row]chan struct{}{}}
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) record(name string) *schema.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.user
}

func (f *fakeAPI) email() schema.Email {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.user == nil {
		return ""
	}
	return f.user.Email
}

func asAPIError(err error) error {
	if err == nil {
		return nil
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, schema.ErrNoUser):
		status = http.StatusUnauthorized
	case errors.Is(err, schema.ErrNotFound):
		status = http.StatusNotFound
	case schema.IsConflict(err):
		status = http.StatusConflict
	case schema.IsValidation(err):
		status = http.StatusBadRequest
	}
	return &apiclient.Error{Status: status, Message: err.Error()}
}

func (f *fakeAPI) Health(context.Context) error {
	f.record("health")
	return f.healthErr
}

func (f *fakeAPI) GetUser(context.Context) (*schema.User, error) {
	user := f.record("get_user")
	if user == nil {
		return nil, nil
	}
	u := *user
	return &u, nil
}

func (f *fakeAPI) SetUser(_ context.Context, name, email string) (schema.User, error) {
	f.record("set_user")
	user, err := schema.NormalizeUser(name, email)
	if err != nil {
		return schema.User{}, asAPIError(err)
	}
	f.mu.Lock()
	f.user = &user
	f.mu.Unlock()
	return user, nil
}

func (f *fakeAPI) ListPatients(ctx context.Context) ([]schema.PatientSummary, error) {
	f.record("patients")
	f.mu.Lock()
	listErr := f.listErr
	f.mu.Unlock()
	if listErr != nil {
		return nil, listErr
	}
	out, err := f.svc.ListPatients(ctx, f.email())
	return out, asAPIError(err)
}

func (f *fakeAPI) GetPatient(ctx context.Context, row schema.Row, includeMy bool) (schema.PatientRecord, error) {
	f.record("patient")
	f.mu.Lock()
	ch := f.hold[row]
	entered := f.entered
	patientErr := f.patientErr
	f.mu.Unlock()
	if ch != nil {
		if entered != nil {
			entered <- row
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return schema.PatientRecord{}, ctx.Err()
		}
	}
	if patientErr != nil {
		return schema.PatientRecord{}, patientErr
	}
	rec, err := f.svc.GetPatient(ctx, schema.GetPatientRequest{Row: row, Email: f.email(), IncludeMy: includeMy})
	return rec, asAPIError(err)
}

func (f *fakeAPI) Claim(ctx context.Context, row, prevRow schema.Row) error {
	f.record("claim")
	f.mu.Lock()
	claimErr := f.claimErr
	f.mu.Unlock()
	if claimErr != nil {
		return claimErr
	}
	if f.email() == "" {
		return asAPIError(schema.ErrNoUser)
	}
	if err := f.svc.Claim(ctx, schema.ClaimRequest{Row: row, PrevRow: prevRow, Email: f.email()}); err != nil {
		return asAPIError(err)
	}
	f.mu.Lock()
	ch := f.claimHold[row]
	entered := f.entered
	f.mu.Unlock()
	if ch != nil {
		if entered != nil {
			entered <- row
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeAPI) Release(ctx context.Context, row schema.Row) error {
	f.record("release")
	return asAPIError(f.svc.Release(ctx, schema.ReleaseRequest{Row: row, Email: f.email()}))
}

func (f *fakeAPI) SubmitPrediction(ctx context.Context, p schema.Prediction) (schema.Submission, error) {
	user := f.record("submit")
	if user == nil {
		return schema.Submission{}, asAPIError(schema.ErrNoUser)
	}
	sub, err := f.svc.Submit(ctx, schema.SubmitRequest{User: *user, Prediction: p})
	return sub, asAPIError(err)
}

func (f *fakeAPI) UpdatePrediction(ctx context.Context, p schema.Prediction) (schema.Submission, error) {
	user := f.record("update")
	if user == nil {
		return schema.Submission{}, asAPIError(schema.ErrNoUser)
	}
	sub, err := f.svc.Update(ctx, schema.SubmitRequest{User: *user, Prediction: p})
	return sub, asAPIError(err)
}

func (f *fakeAPI) NextPatient(ctx context.Context, after *schema.Row) (schema.NextPatient, error) {
	f.record("next")
	next, err := f.svc.Next(ctx, schema.NextRequest{Email: f.email(), After: after})
	return next, asAPIError(err)
}

func (f *fakeAPI) UserProgress(ctx context.Context) (schema.Progress, error) {
	f.record("progress")
	p, err := f.svc.Progress(ctx, f.email())
	return p, asAPIError(err)
}

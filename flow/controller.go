// Package flow holds the client-side survey flow: a controller that drives
// the menu and predict views, and a simpler picker/details pair.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samber/lo"

	"pkt.systems/expertsurvey/apiclient"
	"pkt.systems/expertsurvey/internal/logx"
	"pkt.systems/expertsurvey/schema"
)

// API is the subset of the survey API the flow uses. *apiclient.Client
// satisfies it.
type API interface {
	Health(ctx context.Context) error
	GetUser(ctx context.Context) (*schema.User, error)
	SetUser(ctx context.Context, name, email string) (schema.User, error)
	ListPatients(ctx context.Context) ([]schema.PatientSummary, error)
	GetPatient(ctx context.Context, row schema.Row, includeMy bool) (schema.PatientRecord, error)
	Claim(ctx context.Context, row, prevRow schema.Row) error
	Release(ctx context.Context, row schema.Row) error
	SubmitPrediction(ctx context.Context, p schema.Prediction) (schema.Submission, error)
	UpdatePrediction(ctx context.Context, p schema.Prediction) (schema.Submission, error)
	NextPatient(ctx context.Context, after *schema.Row) (schema.NextPatient, error)
	UserProgress(ctx context.Context) (schema.Progress, error)
}

var _ API = (*apiclient.Client)(nil)

// Controller owns the client view-model. Every event method returns a copy
// of the resulting state. Network calls run without the lock held; a newer
// navigation cancels the previous one and its results are dropped.
type Controller struct {
	api API

	mu         sync.Mutex
	state      State
	nav        navigation
	resumeDone bool
}

type navigation struct {
	gen    uint64
	row    schema.Row
	cancel context.CancelFunc
}

// NewController returns a controller in the menu view.
func NewController(api API) *Controller {
	return &Controller{api: api, state: newState()}
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

func (c *Controller) update(fn func(*State)) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
	return c.state.clone()
}

// Init pings the server, loads the user, roster and progress, and reopens a
// row the user still holds from an earlier session.
func (c *Controller) Init(ctx context.Context) State {
	healthy := c.api.Health(ctx) == nil
	if !healthy {
		logx.Ctx(ctx).Warn("flow health check failed")
	}
	c.update(func(s *State) { s.Healthy = healthy })
	c.LoadUser(ctx)
	c.Refresh(ctx)
	return c.resume(ctx)
}

// LoadUser fetches the session user. Failures leave the user signed out.
func (c *Controller) LoadUser(ctx context.Context) State {
	user, err := c.api.GetUser(ctx)
	if err != nil {
		logx.Ctx(ctx).Debug("flow get user failed", "err", err)
		user = nil
	}
	return c.update(func(s *State) { s.User = user })
}

// Refresh reloads the roster, and progress when signed in.
func (c *Controller) Refresh(ctx context.Context) State {
	patients, err := c.api.ListPatients(ctx)
	if err != nil {
		logx.Ctx(ctx).Warn("flow patients load failed", "err", err)
		return c.update(func(s *State) { s.Error = errorText(err, MsgPatients) })
	}
	c.mu.Lock()
	signedIn := c.state.User != nil
	c.mu.Unlock()
	var progress *schema.Progress
	if signedIn {
		if p, err := c.api.UserProgress(ctx); err == nil {
			progress = &p
		} else {
			logx.Ctx(ctx).Debug("flow progress load failed", "err", err)
		}
	}
	return c.update(func(s *State) {
		s.Patients = patients
		if progress != nil {
			s.Progress = progress
		}
		if s.View == ViewMenu {
			s.preselect()
		}
	})
}

func (c *Controller) resume(ctx context.Context) State {
	c.mu.Lock()
	if c.resumeDone || c.state.User == nil || c.state.View != ViewMenu || len(c.state.Patients) == 0 {
		st := c.state.clone()
		c.mu.Unlock()
		return st
	}
	c.resumeDone = true
	mine, ok := lo.Find(c.state.Patients, func(p schema.PatientSummary) bool {
		return p.LockedByYou && !p.Submitted
	})
	c.mu.Unlock()
	if !ok {
		return c.State()
	}
	logx.WithReviewerRow(ctx, c.State().Email(), mine.Row).Info("flow resume claimed row")
	st := c.claimAndLoad(ctx, mine.Row)
	if st.Active == nil || st.Active.Row != mine.Row {
		return st
	}
	return c.update(func(s *State) {
		if s.Active != nil && s.Active.Row == mine.Row {
			s.Active.Resumed = true
			s.Notice = fmt.Sprintf("Resumed your in-progress patient (row %d).", int(mine.Row))
		}
	})
}

// SaveUser signs in and moves straight to the next workable row.
func (c *Controller) SaveUser(ctx context.Context, name, email string) State {
	user, err := schema.NormalizeUser(name, email)
	if err != nil {
		msg := MsgUserRequired
		if errors.Is(err, schema.ErrInvalidEmail) {
			msg = MsgInvalidEmail
		}
		return c.update(func(s *State) { s.Error = msg })
	}
	saved, err := c.api.SetUser(ctx, user.Name, string(user.Email))
	if err != nil {
		logx.Ctx(ctx).Warn("flow set user failed", "err", err)
		return c.update(func(s *State) { s.Error = errorText(err, MsgSaveUser) })
	}
	c.update(func(s *State) {
		s.User = &saved
		s.Error = ""
		s.Complete = false
	})
	c.mu.Lock()
	c.resumeDone = true
	c.mu.Unlock()
	c.Refresh(ctx)
	return c.advance(ctx, nil)
}

// Select picks a row. Rows the user submitted open for editing without a
// claim; other rows go through the claim protocol.
func (c *Controller) Select(ctx context.Context, row schema.Row) State {
	c.mu.Lock()
	signedIn := c.state.User != nil
	email := c.state.Email()
	sum, ok := c.state.Summary(row)
	c.mu.Unlock()
	switch {
	case !signedIn:
		return c.update(func(s *State) { s.Error = MsgSignIn })
	case !ok:
		return c.update(func(s *State) { s.Error = MsgChooseRow })
	case sum.Submitted && sum.CanEdit:
		return c.loadForEdit(ctx, row)
	case sum.Submitted:
		return c.update(func(s *State) { s.Error = MsgCompleted })
	case !sum.Selectable(email):
		return c.update(func(s *State) {
			s.Error = fmt.Sprintf("This patient is currently claimed by %s.", sum.ClaimedBy)
		})
	}
	c.update(func(s *State) { s.Selected = row })
	return c.claimAndLoad(ctx, row)
}

// Back returns to the menu and drops any in-flight load.
func (c *Controller) Back() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supersedeLocked(0)
	c.resumeDone = true
	c.state.Error = ""
	c.state.toMenu()
	return c.state.clone()
}

// Release drops the user's claim on the active or selected row.
func (c *Controller) Release(ctx context.Context) State {
	c.mu.Lock()
	row := c.state.Selected
	if c.state.Active != nil {
		row = c.state.Active.Row
	}
	c.mu.Unlock()
	if !row.Valid() {
		return c.update(func(s *State) { s.Error = MsgChooseRow })
	}
	if err := c.api.Release(ctx, row); err != nil {
		logx.WithReviewerRow(ctx, c.State().Email(), row).Warn("flow release failed", "err", err)
		return c.update(func(s *State) { s.Error = errorText(err, MsgRelease) })
	}
	c.mu.Lock()
	if c.state.Active != nil && c.state.Active.Row == row {
		c.supersedeLocked(0)
		c.state.toMenu()
	}
	if c.state.LastClaimed == row {
		c.state.LastClaimed = 0
	}
	c.state.Error = ""
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Next loads the next workable row after the active one.
func (c *Controller) Next(ctx context.Context) State {
	c.mu.Lock()
	signedIn := c.state.User != nil
	var after *schema.Row
	if c.state.Active != nil {
		row := c.state.Active.Row
		after = &row
	}
	c.mu.Unlock()
	if !signedIn {
		return c.update(func(s *State) { s.Error = MsgSignIn })
	}
	return c.advance(ctx, after)
}

// SetOutcome sets the binary outcome.
func (c *Controller) SetOutcome(o schema.Outcome) State {
	if o != schema.OutcomeUnsuccessful && o != schema.OutcomeSuccessful {
		return c.update(func(s *State) { s.Error = MsgInvalidOutcome })
	}
	return c.editForm(func(f *Form) { f.Outcome = &o })
}

// SetConfidence sets the confidence level from any casing of its label.
func (c *Controller) SetConfidence(value string) State {
	conf, err := schema.NormalizeConfidence(value)
	if err != nil {
		return c.update(func(s *State) { s.Error = err.Error() })
	}
	return c.editForm(func(f *Form) { f.Confidence = conf })
}

// SetSNOT22 sets the symptom score, clamped to its range.
func (c *Controller) SetSNOT22(score int) State {
	return c.editForm(func(f *Form) { f.SNOT22 = schema.ClampSNOT22(score) })
}

func (c *Controller) editForm(fn func(*Form)) State {
	return c.update(func(s *State) {
		switch {
		case s.Active == nil:
			s.Error = MsgChooseRow
		case s.ReadOnly():
			s.Error = MsgCompleted
		default:
			fn(&s.Form)
			s.Error = ""
		}
	})
}

// Submit sends the form. Rows the user already submitted are amended in
// place. On success the controller advances to the next workable row or
// reports completion.
func (c *Controller) Submit(ctx context.Context) State {
	c.mu.Lock()
	active := c.state.Active
	form := c.state.Form
	editing := c.state.CanEdit()
	readOnly := c.state.ReadOnly()
	email := c.state.Email()
	var msg string
	switch {
	case active == nil:
		msg = MsgChooseRow
	case readOnly:
		msg = MsgCompleted
	case form.Outcome == nil:
		msg = MsgChooseOutcome
	case form.Confidence == "":
		msg = MsgChooseConfidence
	}
	if msg != "" {
		c.state.Error = msg
		st := c.state.clone()
		c.mu.Unlock()
		return st
	}
	row := active.Row
	p := schema.Prediction{Row: row, Outcome: *form.Outcome, Confidence: form.Confidence, SNOT22: form.SNOT22}
	c.mu.Unlock()

	log := logx.WithReviewerRow(ctx, email, row)
	call, fallback := c.api.SubmitPrediction, MsgSubmit
	if editing {
		call, fallback = c.api.UpdatePrediction, MsgUpdate
	}
	sub, err := call(ctx, p)
	if err != nil {
		log.Warn("flow submit failed", "edit", editing, "err", err)
		return c.update(func(s *State) { s.Error = errorText(err, fallback) })
	}
	log.Info("flow submit ok", "edit", editing)
	c.update(func(s *State) {
		s.Done[row] = true
		s.Error = ""
		if s.LastClaimed == row {
			s.LastClaimed = 0
		}
		if s.Active != nil && s.Active.Row == row {
			s.Active.MySubmission = &sub
			s.Active.Record.Submitted = true
		}
	})
	c.Refresh(ctx)
	return c.advance(ctx, &row)
}

// advance asks the server for the next row and claims it, or enters the
// completion state.
func (c *Controller) advance(ctx context.Context, after *schema.Row) State {
	next, err := c.api.NextPatient(ctx, after)
	if err != nil {
		logx.Ctx(ctx).Warn("flow next failed", "err", err)
		return c.update(func(s *State) { s.Error = errorText(err, MsgNext) })
	}
	if next.Complete || !next.Row.Valid() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.supersedeLocked(0)
		c.state.Complete = true
		c.state.Error = ""
		c.state.toMenu()
		return c.state.clone()
	}
	return c.claimAndLoad(ctx, next.Row)
}

// claimAndLoad claims row, releasing the last claimed row, then fetches the
// full record. Claim failures show the server's message and refresh the
// roster without changing the view.
func (c *Controller) claimAndLoad(parent context.Context, row schema.Row) State {
	ctx, gen, prev := c.begin(parent, row)
	log := logx.WithReviewerRow(parent, c.State().Email(), row)
	if err := c.api.Claim(ctx, row, prev); err != nil {
		if !c.current(gen) {
			log.Debug("flow claim superseded", "err", err)
			c.releaseOrphan(parent, row)
			return c.State()
		}
		log.Info("flow claim rejected", "err", err)
		msg := errorText(err, MsgClaim)
		c.update(func(s *State) { s.Error = msg })
		return c.Refresh(parent)
	}
	c.update(func(s *State) {
		if s.LastClaimed == prev {
			s.LastClaimed = 0
		}
	})
	rec, err := c.api.GetPatient(ctx, row, true)
	if err != nil {
		if !c.current(gen) {
			c.releaseOrphan(parent, row)
			return c.State()
		}
		log.Warn("flow patient load failed", "err", err)
		return c.update(func(s *State) {
			s.LastClaimed = row
			s.Error = MsgLoad
		})
	}
	if !rec.Row.Valid() {
		rec.Row = row
	}
	applied := c.apply(gen, func(s *State) {
		s.load(rec)
		s.LastClaimed = row
	})
	if !applied {
		log.Debug("flow load superseded")
		c.releaseOrphan(parent, row)
		return c.State()
	}
	log.Info("flow claim ok")
	c.mu.Lock()
	c.resumeDone = true
	c.mu.Unlock()
	return c.Refresh(parent)
}

func (c *Controller) loadForEdit(parent context.Context, row schema.Row) State {
	ctx, gen, _ := c.begin(parent, row)
	rec, err := c.api.GetPatient(ctx, row, true)
	if err != nil {
		if !c.current(gen) {
			return c.State()
		}
		return c.update(func(s *State) { s.Error = MsgLoad })
	}
	if !rec.Row.Valid() {
		rec.Row = row
	}
	c.apply(gen, func(s *State) { s.load(rec) })
	return c.State()
}

// begin starts a navigation to row, cancelling the previous one. It returns
// the row to release alongside the claim.
func (c *Controller) begin(parent context.Context, row schema.Row) (context.Context, uint64, schema.Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supersedeLocked(row)
	ctx, cancel := context.WithCancel(parent)
	c.nav.cancel = cancel
	prev := c.state.LastClaimed
	if prev == row {
		prev = 0
	}
	return ctx, c.nav.gen, prev
}

func (c *Controller) supersedeLocked(row schema.Row) {
	if c.nav.cancel != nil {
		c.nav.cancel()
	}
	c.nav = navigation{gen: c.nav.gen + 1, row: row}
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nav.gen == gen
}

func (c *Controller) apply(gen uint64, fn func(*State)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nav.gen != gen {
		return false
	}
	fn(&c.state)
	return true
}

// releaseOrphan drops a claim won by a navigation that was superseded,
// unless the newer navigation wants the same row.
func (c *Controller) releaseOrphan(ctx context.Context, row schema.Row) {
	c.mu.Lock()
	wanted := c.nav.row == row || (c.state.Active != nil && c.state.Active.Row == row)
	c.mu.Unlock()
	if wanted {
		return
	}
	if err := c.api.Release(context.WithoutCancel(ctx), row); err != nil {
		logx.Ctx(ctx).Debug("flow orphan release failed", "row", int(row), "err", err)
	}
}

// errorText prefers the server's message over the generic fallback.
func errorText(err error, fallback string) string {
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

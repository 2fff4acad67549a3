package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"

	"pkt.systems/expertsurvey/internal/logx"
	"pkt.systems/expertsurvey/internal/roster"
	"pkt.systems/expertsurvey/schema"
	"pkt.systems/pslog"
)

// service implements the core service behavior.
type service struct {
	cfg    schema.ServiceConfig
	store  Store
	sink   EventSink
	logger pslog.Logger
	now    func() time.Time

	mu     sync.Mutex
	loaded bool
	roster schema.Roster
}

// NewService constructs the core service implementation.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Store == nil {
		deps.Store = NewMemoryStore()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &service{
		cfg:    normalized,
		store:  deps.Store,
		sink:   deps.EventSink,
		logger: logger,
		now:    deps.Now,
	}, nil
}

func (s *service) ListPatients(ctx context.Context, email schema.Email) ([]schema.PatientSummary, error) {
	if ctx == nil {
		return nil, errors.New("missing context")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]schema.PatientSummary, 0, s.roster.Len())
	for i := range s.roster.Rows {
		out = append(out, s.summaryLocked(schema.Row(i+1), email, now))
	}
	return out, nil
}

func (s *service) GetPatient(ctx context.Context, req schema.GetPatientRequest) (schema.PatientRecord, error) {
	if ctx == nil {
		return schema.PatientRecord{}, errors.New("missing context")
	}
	if !req.Row.Valid() {
		return schema.PatientRecord{}, schema.ErrBadRow
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return schema.PatientRecord{}, err
	}
	rec, ok := s.roster.Record(req.Row)
	if !ok {
		return schema.PatientRecord{}, schema.ErrNotFound
	}
	resp := schema.PatientRecord{Row: req.Row, Record: rec}
	if req.IncludeMy && req.Email != "" {
		resp.MySubmission = s.mySubmissionLocked(req.Row, req.Email)
	}
	return resp, nil
}

func (s *service) Claim(ctx context.Context, req schema.ClaimRequest) error {
	if ctx == nil {
		return errors.New("missing context")
	}
	if req.Email == "" {
		return schema.ErrNoUser
	}
	log := logx.WithReviewerRow(ctx, req.Email, req.Row)
	if !req.Row.Valid() {
		log.Debug("core claim rejected", "err", schema.ErrBadRow)
		return schema.ErrBadRow
	}
	var events []schema.SurveyEvent
	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.ensureLoadedLocked(ctx); err != nil {
			return err
		}
		if !s.roster.Has(req.Row) {
			return schema.ErrBadRow
		}
		now := s.now()
		if req.PrevRow.Valid() && req.PrevRow != req.Row && s.roster.Has(req.PrevRow) {
			released, err := s.releaseLocked(ctx, req.PrevRow, req.Email)
			if err != nil {
				return err
			}
			if released {
				events = append(events, schema.SurveyEvent{Type: schema.EventReleased, Row: req.PrevRow, Email: req.Email, At: now})
			}
		}
		cells, _ := s.roster.Cells(req.Row)
		if schema.SubmittedValue(cells[schema.ColSubmissionStatus]) {
			return schema.ErrAlreadyCompleted
		}
		if holder := s.activeClaimantLocked(cells, now); holder != "" && !schema.EqualEmail(holder, req.Email) {
			return schema.ErrLockedByOther
		}
		next := schema.CloneCells(cells)
		next[schema.ColClaimedBy] = string(req.Email)
		next[schema.ColClaimedAt] = schema.FormatTimestamp(now)
		if err := s.commitRowLocked(ctx, req.Row, next); err != nil {
			return err
		}
		events = append(events, schema.SurveyEvent{Type: schema.EventClaimed, Row: req.Row, Email: req.Email, At: now})
		return nil
	}()
	s.emit(events)
	if err != nil {
		log.Info("core claim failed", "prev_row", int(req.PrevRow), "err", err)
		return err
	}
	log.Info("core claim ok", "prev_row", int(req.PrevRow))
	return nil
}

func (s *service) Release(ctx context.Context, req schema.ReleaseRequest) error {
	if ctx == nil {
		return errors.New("missing context")
	}
	if req.Email == "" {
		return schema.ErrNoUser
	}
	if !req.Row.Valid() {
		return schema.ErrBadRow
	}
	log := logx.WithReviewerRow(ctx, req.Email, req.Row)
	s.mu.Lock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.roster.Has(req.Row) {
		s.mu.Unlock()
		return schema.ErrNotFound
	}
	released, err := s.releaseLocked(ctx, req.Row, req.Email)
	s.mu.Unlock()
	if err != nil {
		log.Warn("core release failed", "err", err)
		return err
	}
	if released {
		s.emit([]schema.SurveyEvent{{Type: schema.EventReleased, Row: req.Row, Email: req.Email, At: s.now()}})
	}
	log.Info("core release ok", "released", released)
	return nil
}

func (s *service) Submit(ctx context.Context, req schema.SubmitRequest) (schema.Submission, error) {
	if ctx == nil {
		return schema.Submission{}, errors.New("missing context")
	}
	if req.User.Email == "" {
		return schema.Submission{}, schema.ErrNoUser
	}
	prediction, err := schema.NormalizePrediction(req.Prediction)
	if err != nil {
		return schema.Submission{}, err
	}
	req.Prediction = prediction
	row := req.Prediction.Row
	log := logx.WithReviewerRow(ctx, req.User.Email, row)
	var sub schema.Submission
	var event schema.SurveyEvent
	err = func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.ensureLoadedLocked(ctx); err != nil {
			return err
		}
		cells, ok := s.roster.Cells(row)
		if !ok {
			return schema.ErrNotFound
		}
		now := s.now()
		if holder := s.activeClaimantLocked(cells, now); holder != "" && !schema.EqualEmail(holder, req.User.Email) {
			return schema.ErrLockedByOther
		}
		next := schema.CloneCells(cells)
		event = schema.SurveyEvent{Type: schema.EventSubmitted, Row: row, Email: req.User.Email, At: now}
		if schema.SubmittedValue(cells[schema.ColSubmissionStatus]) {
			if !schema.EqualEmail(schema.Email(cells[schema.ColReviewerEmail]), req.User.Email) {
				return schema.ErrAlreadyCompleted
			}
			markEdited(next, now)
			event.Type = schema.EventUpdated
		} else {
			next[schema.ColSubmittedAt] = schema.FormatTimestamp(now)
			next[schema.ColEditCount] = "0"
			next[schema.ColLastEditedAt] = ""
		}
		next[schema.ColReviewerName] = req.User.Name
		next[schema.ColReviewerEmail] = string(req.User.Email)
		writePrediction(next, req.Prediction)
		next[schema.ColSubmissionStatus] = "submitted"
		next[schema.ColClaimedBy] = ""
		next[schema.ColClaimedAt] = ""
		if err := s.commitRowLocked(ctx, row, next); err != nil {
			return err
		}
		sub = *s.mySubmissionLocked(row, req.User.Email)
		return nil
	}()
	if err != nil {
		log.Info("core submit failed", "err", err)
		return schema.Submission{}, err
	}
	s.emit([]schema.SurveyEvent{event})
	log.Info("core submit ok", "outcome", int(sub.Outcome), "confidence", string(sub.Confidence), "snot22", sub.SNOT22, "edit_count", sub.EditCount)
	return sub, nil
}

func (s *service) Update(ctx context.Context, req schema.SubmitRequest) (schema.Submission, error) {
	if ctx == nil {
		return schema.Submission{}, errors.New("missing context")
	}
	if req.User.Email == "" {
		return schema.Submission{}, schema.ErrNoUser
	}
	prediction, err := schema.NormalizePrediction(req.Prediction)
	if err != nil {
		return schema.Submission{}, err
	}
	req.Prediction = prediction
	row := req.Prediction.Row
	log := logx.WithReviewerRow(ctx, req.User.Email, row)
	var sub schema.Submission
	now := s.now()
	err = func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.ensureLoadedLocked(ctx); err != nil {
			return err
		}
		cells, ok := s.roster.Cells(row)
		if !ok {
			return schema.ErrNotFound
		}
		if !schema.SubmittedValue(cells[schema.ColSubmissionStatus]) {
			return schema.ErrNotSubmitted
		}
		if !schema.EqualEmail(schema.Email(cells[schema.ColReviewerEmail]), req.User.Email) {
			return schema.ErrEmailMismatch
		}
		next := schema.CloneCells(cells)
		writePrediction(next, req.Prediction)
		markEdited(next, now)
		if err := s.commitRowLocked(ctx, row, next); err != nil {
			return err
		}
		sub = *s.mySubmissionLocked(row, req.User.Email)
		return nil
	}()
	if err != nil {
		log.Info("core update failed", "err", err)
		return schema.Submission{}, err
	}
	s.emit([]schema.SurveyEvent{{Type: schema.EventUpdated, Row: row, Email: req.User.Email, At: now}})
	log.Info("core update ok", "edit_count", sub.EditCount)
	return sub, nil
}

func (s *service) Next(ctx context.Context, req schema.NextRequest) (schema.NextPatient, error) {
	if ctx == nil {
		return schema.NextPatient{}, errors.New("missing context")
	}
	if req.Email == "" {
		return schema.NextPatient{}, schema.ErrNoUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return schema.NextPatient{}, err
	}
	row, ok := s.nextRowLocked(req.Email, req.After, s.now())
	if !ok {
		logx.WithReviewer(ctx, req.Email).Debug("core next complete")
		return schema.NextPatient{Complete: true}, nil
	}
	rec, _ := s.roster.Record(row)
	return schema.NextPatient{
		Row:          row,
		Record:       &rec,
		MySubmission: s.mySubmissionLocked(row, req.Email),
	}, nil
}

func (s *service) Progress(ctx context.Context, email schema.Email) (schema.Progress, error) {
	if ctx == nil {
		return schema.Progress{}, errors.New("missing context")
	}
	if email == "" {
		return schema.Progress{}, schema.ErrNoUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return schema.Progress{}, err
	}
	completed := lo.CountBy(s.roster.Rows, func(cells map[string]string) bool {
		return schema.SubmittedValue(cells[schema.ColSubmissionStatus]) &&
			schema.EqualEmail(schema.Email(cells[schema.ColReviewerEmail]), email)
	})
	progress := schema.Progress{Completed: completed, Total: s.roster.Len()}
	if row, ok := s.nextRowLocked(email, nil, s.now()); ok {
		progress.NextRow = &row
	}
	return progress, nil
}

func (s *service) Metrics(ctx context.Context) (schema.Metrics, error) {
	if ctx == nil {
		return schema.Metrics{}, errors.New("missing context")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return schema.Metrics{}, err
	}
	now := s.now()
	m := schema.Metrics{Total: s.roster.Len()}
	perReviewer := map[schema.Email]int{}
	for _, cells := range s.roster.Rows {
		if schema.SubmittedValue(cells[schema.ColSubmissionStatus]) {
			m.Submitted++
			email, err := schema.NormalizeEmail(cells[schema.ColReviewerEmail])
			if err == nil {
				perReviewer[email]++
			}
			continue
		}
		if s.activeClaimantLocked(cells, now) != "" {
			m.Claimed++
			continue
		}
		m.Available++
	}
	m.Reviewers = lo.MapToSlice(perReviewer, func(email schema.Email, count int) schema.ReviewerCount {
		return schema.ReviewerCount{Email: email, Submitted: count}
	})
	sort.Slice(m.Reviewers, func(i, j int) bool { return m.Reviewers[i].Email < m.Reviewers[j].Email })
	return m, nil
}

func (s *service) ExportCSV(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		return errors.New("missing context")
	}
	s.mu.Lock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot := s.roster.Clone()
	s.mu.Unlock()
	if err := roster.Write(w, snapshot); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	return nil
}

func (s *service) Import(ctx context.Context, table schema.Roster) (schema.ImportResponse, error) {
	if ctx == nil {
		return schema.ImportResponse{}, errors.New("missing context")
	}
	if table.Len() == 0 {
		return schema.ImportResponse{}, schema.ErrEmptyRoster
	}
	next := table.Clone()
	next.EnsureAdminColumns()
	s.mu.Lock()
	if err := s.store.Replace(ctx, next); err != nil {
		s.mu.Unlock()
		s.logger.Warn("core import failed", "err", err)
		return schema.ImportResponse{}, fmt.Errorf("replace roster: %w", err)
	}
	s.roster = next
	s.loaded = true
	s.mu.Unlock()
	s.emit([]schema.SurveyEvent{{Type: schema.EventImported, Rows: next.Len(), At: s.now()}})
	s.logger.Info("core import ok", "rows", next.Len(), "columns", len(next.Columns))
	return schema.ImportResponse{Rows: next.Len(), Columns: len(next.Columns)}, nil
}

func (s *service) ensureLoadedLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	loaded, ok, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn("core roster load failed", "err", err)
		return fmt.Errorf("load roster: %w", err)
	}
	if ok {
		loaded.EnsureAdminColumns()
		s.roster = loaded
	}
	s.loaded = true
	s.logger.Debug("core roster loaded", "rows", s.roster.Len(), "found", ok)
	return nil
}

func (s *service) commitRowLocked(ctx context.Context, row schema.Row, cells map[string]string) error {
	if err := s.store.SaveRow(ctx, row, cells); err != nil {
		logx.WithReviewerRow(ctx, "", row).Warn("core persist failed", "err", err)
		return fmt.Errorf("save row %d: %w", row, err)
	}
	s.roster.Rows[row-1] = cells
	return nil
}

// releaseLocked clears a claim held by email on an unsubmitted row.
func (s *service) releaseLocked(ctx context.Context, row schema.Row, email schema.Email) (bool, error) {
	cells, ok := s.roster.Cells(row)
	if !ok {
		return false, nil
	}
	if schema.SubmittedValue(cells[schema.ColSubmissionStatus]) {
		return false, nil
	}
	if cells[schema.ColClaimedBy] == "" || !schema.EqualEmail(schema.Email(cells[schema.ColClaimedBy]), email) {
		return false, nil
	}
	next := schema.CloneCells(cells)
	next[schema.ColClaimedBy] = ""
	next[schema.ColClaimedAt] = ""
	if err := s.commitRowLocked(ctx, row, next); err != nil {
		return false, err
	}
	return true, nil
}

// activeClaimantLocked returns the claim holder, or "" when unclaimed or stale.
func (s *service) activeClaimantLocked(cells map[string]string, now time.Time) schema.Email {
	holder := schema.Email(cells[schema.ColClaimedBy])
	if holder == "" {
		return ""
	}
	if s.cfg.ClaimTTL <= 0 {
		return holder
	}
	at, ok := schema.ParseTimestamp(cells[schema.ColClaimedAt])
	if !ok || now.Sub(at) > s.cfg.ClaimTTL {
		return ""
	}
	return holder
}

func (s *service) summaryLocked(row schema.Row, email schema.Email, now time.Time) schema.PatientSummary {
	cells, _ := s.roster.Cells(row)
	submitted := schema.SubmittedValue(cells[schema.ColSubmissionStatus])
	holder := s.activeClaimantLocked(cells, now)
	mine := email != "" && holder != "" && schema.EqualEmail(holder, email)
	summary := schema.PatientSummary{
		Row:         row,
		Submitted:   submitted,
		Available:   !submitted && (holder == "" || mine),
		LockedByYou: mine && !submitted,
		ClaimedBy:   holder,
		CanEdit:     submitted && email != "" && schema.EqualEmail(schema.Email(cells[schema.ColReviewerEmail]), email),
	}
	if holder != "" {
		summary.ClaimedAt = cells[schema.ColClaimedAt]
	}
	return summary
}

// nextRowLocked scans rows after after, wrapping to the start, for the first
// unsubmitted row not held by someone else.
func (s *service) nextRowLocked(email schema.Email, after *schema.Row, now time.Time) (schema.Row, bool) {
	total := s.roster.Len()
	if total == 0 {
		return 0, false
	}
	start := 0
	if after != nil && after.Valid() {
		start = int(*after) % total
	}
	for i := 0; i < total; i++ {
		idx := (start + i) % total
		cells := s.roster.Rows[idx]
		if schema.SubmittedValue(cells[schema.ColSubmissionStatus]) {
			continue
		}
		if holder := s.activeClaimantLocked(cells, now); holder != "" && !schema.EqualEmail(holder, email) {
			continue
		}
		return schema.Row(idx + 1), true
	}
	return 0, false
}

// mySubmissionLocked returns the row's submission when email authored it.
func (s *service) mySubmissionLocked(row schema.Row, email schema.Email) *schema.Submission {
	rec, ok := s.roster.Record(row)
	if !ok {
		return nil
	}
	sub := schema.SubmissionFrom(row, rec)
	if sub == nil || !schema.EqualEmail(sub.ReviewerEmail, email) {
		return nil
	}
	return sub
}

func (s *service) emit(events []schema.SurveyEvent) {
	if s.sink == nil {
		return
	}
	for _, event := range events {
		s.sink.OnSurveyEvent(event)
	}
}

func writePrediction(cells map[string]string, p schema.Prediction) {
	cells[schema.ColPrediction] = strconv.Itoa(int(p.Outcome))
	cells[schema.ColConfidence] = string(p.Confidence)
	cells[schema.ColSNOT22Prediction] = strconv.Itoa(p.SNOT22)
}

func markEdited(cells map[string]string, now time.Time) {
	count, _ := strconv.Atoi(cells[schema.ColEditCount])
	cells[schema.ColEditCount] = strconv.Itoa(count + 1)
	cells[schema.ColLastEditedAt] = schema.FormatTimestamp(now)
}

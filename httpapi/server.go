package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"pkt.systems/expertsurvey/core"
	"pkt.systems/expertsurvey/internal/logx"
	"pkt.systems/expertsurvey/schema"
)

// DefaultSessionCookie is the cookie name used when none is configured.
const DefaultSessionCookie = "expertsurvey_session"

// CSVFilename is the download name of the roster export.
const CSVFilename = "expert_predictions.csv"

const maxBodyBytes = 1 << 20

// Server serves the survey HTTP API.
type Server struct {
	cfg      Config
	service  core.Service
	sessions *sessionStore
	basePath string
	cors     *cors.Cors
	sameSite http.SameSite
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service core.Service) *Server {
	ttl := time.Duration(cfg.SessionTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	if strings.TrimSpace(cfg.SessionCookie) == "" {
		cfg.SessionCookie = DefaultSessionCookie
	}
	sameSite := parseSameSite(cfg.CookieSameSite)
	if sameSite == http.SameSiteNoneMode && !cfg.CookieSecure {
		logx.Ctx(context.Background()).Warn("http cookie samesite none without secure", "cookie", cfg.SessionCookie)
	}
	return &Server{
		cfg:      cfg,
		service:  service,
		sessions: newSessionStore(ttl, cfg.SessionFile),
		basePath: normalizeBasePath(cfg.BasePath),
		cors:     newCORS(cfg.AllowedOrigins),
		sameSite: sameSite,
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})
	r.HandleFunc("/", s.handleLanding).Methods(http.MethodGet)

	api := r
	if s.basePath != "" {
		api = r.PathPrefix(s.basePath).Subrouter()
		api.HandleFunc("", s.handleLanding).Methods(http.MethodGet)
		api.HandleFunc("/", s.handleLanding).Methods(http.MethodGet)
	}
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/get_user", s.handleGetUser).Methods(http.MethodGet)
	api.HandleFunc("/set_user", s.handleSetUser).Methods(http.MethodPost)
	api.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/patients", s.handlePatients).Methods(http.MethodGet)
	api.HandleFunc("/patient", s.handlePatient).Methods(http.MethodGet)
	api.HandleFunc("/claim", s.requireUser(s.handleClaim)).Methods(http.MethodPost)
	api.HandleFunc("/release", s.requireUser(s.handleRelease)).Methods(http.MethodPost)
	api.HandleFunc("/submit_prediction", s.requireUser(s.handleSubmit)).Methods(http.MethodPost)
	api.HandleFunc("/update_prediction", s.requireUser(s.handleUpdate)).Methods(http.MethodPost)
	api.HandleFunc("/next_patient", s.requireUser(s.handleNext)).Methods(http.MethodGet)
	api.HandleFunc("/user_progress", s.requireUser(s.handleProgress)).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	api.HandleFunc("/csv", s.handleCSV).Methods(http.MethodGet)

	return withRequestLogging(withCORS(r, s.cors), s.lookupSession)
}

func (s *Server) handleLanding(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"service":   "expertsurvey",
		"base_path": s.basePath,
		"endpoints": describeEndpoints(s.basePath),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	var user *schema.User
	if entry, ok := s.currentSession(r); ok {
		u := entry.user
		user = &u
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": user})
}

func (s *Server) handleSetUser(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	var payload struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http set_user decode failed", "err", err)
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err))
		return
	}
	user, err := schema.NormalizeUser(payload.Name, payload.Email)
	if err != nil {
		log.Info("http set_user rejected", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var entry session
	token := s.sessionToken(r)
	updated := false
	if token != "" {
		entry, updated = s.sessions.update(token, user)
	}
	if !updated {
		token, entry = s.sessions.create(user)
	}
	http.SetCookie(w, s.sessionCookie(token, entry.expiresAt))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": user})
	logx.WithSession(log.With("reviewer", string(user.Email)), entry.id).Info("http set_user ok", "renewed", updated)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := s.sessionToken(r); token != "" {
		s.sessions.delete(token)
	}
	expired := s.sessionCookie("", time.Unix(0, 0))
	expired.MaxAge = -1
	http.SetCookie(w, expired)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePatients(w http.ResponseWriter, r *http.Request) {
	var email schema.Email
	if entry, ok := s.currentSession(r); ok {
		email = entry.user.Email
	}
	patients, err := s.service.ListPatients(r.Context(), email)
	if err != nil {
		s.fail(w, r, "patients", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": patients})
}

func (s *Server) handlePatient(w http.ResponseWriter, r *http.Request) {
	row, err := parseRow(r.URL.Query().Get("row"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	includeMy := parseBool(r.URL.Query().Get("include_my"))
	req := schema.GetPatientRequest{Row: row, IncludeMy: includeMy}
	if entry, ok := s.currentSession(r); ok {
		req.Email = entry.user.Email
	}
	rec, err := s.service.GetPatient(r.Context(), req)
	if err != nil {
		s.fail(w, r, "patient", err)
		return
	}
	if includeMy {
		writeJSON(w, http.StatusOK, rec)
		return
	}
	writeJSON(w, http.StatusOK, rec.Record)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request, user schema.User) {
	var payload struct {
		Row     *int `json:"row"`
		PrevRow *int `json:"prev_row"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err))
		return
	}
	if payload.Row == nil {
		writeError(w, http.StatusBadRequest, schema.ErrBadRow)
		return
	}
	req := schema.ClaimRequest{Row: schema.Row(*payload.Row), Email: user.Email}
	if payload.PrevRow != nil {
		req.PrevRow = schema.Row(*payload.PrevRow)
	}
	if err := s.service.Claim(r.Context(), req); err != nil {
		s.fail(w, r, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request, user schema.User) {
	var payload struct {
		Row *int `json:"row"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err))
		return
	}
	if payload.Row == nil {
		writeError(w, http.StatusBadRequest, schema.ErrBadRow)
		return
	}
	if err := s.service.Release(r.Context(), schema.ReleaseRequest{Row: schema.Row(*payload.Row), Email: user.Email}); err != nil {
		s.fail(w, r, "release", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, user schema.User) {
	s.handlePrediction(w, r, user, "submit", s.service.Submit)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, user schema.User) {
	s.handlePrediction(w, r, user, "update", s.service.Update)
}

type predictionFunc func(context.Context, schema.SubmitRequest) (schema.Submission, error)

type predictionPayload struct {
	Row        *int    `json:"row"`
	Outcome    *int    `json:"outcome"`
	Confidence *string `json:"confidence"`
	SNOT22     *int    `json:"snot22"`
}

func (p predictionPayload) prediction() (schema.Prediction, error) {
	switch {
	case p.Row == nil:
		return schema.Prediction{}, schema.ErrBadRow
	case p.Outcome == nil:
		return schema.Prediction{}, schema.ErrMissingOutcome
	case p.Confidence == nil || strings.TrimSpace(*p.Confidence) == "":
		return schema.Prediction{}, schema.ErrMissingConfidence
	case p.SNOT22 == nil:
		return schema.Prediction{}, schema.ErrInvalidSNOT22
	}
	return schema.Prediction{
		Row:        schema.Row(*p.Row),
		Outcome:    schema.Outcome(*p.Outcome),
		Confidence: schema.Confidence(*p.Confidence),
		SNOT22:     *p.SNOT22,
	}, nil
}

func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request, user schema.User, op string, call predictionFunc) {
	var payload predictionPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err))
		return
	}
	prediction, err := payload.prediction()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sub, err := call(r.Context(), schema.SubmitRequest{User: user, Prediction: prediction})
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "submission": sub})
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request, user schema.User) {
	req := schema.NextRequest{Email: user.Email}
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		if after, err := strconv.Atoi(raw); err == nil {
			row := schema.Row(after)
			req.After = &row
		}
	}
	next, err := s.service.Next(r.Context(), req)
	if err != nil {
		s.fail(w, r, "next", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		schema.NextPatient
	}{OK: true, NextPatient: next})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, user schema.User) {
	progress, err := s.service.Progress(r.Context(), user.Email)
	if err != nil {
		s.fail(w, r, "progress", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		schema.Progress
	}{OK: true, Progress: progress})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.service.Metrics(r.Context())
	if err != nil {
		s.fail(w, r, "metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		schema.Metrics
	}{OK: true, Metrics: m})
}

func (s *Server) handleCSV(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.service.ExportCSV(r.Context(), &buf); err != nil {
		s.fail(w, r, "csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", CSVFilename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	log := logx.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("http "+op+" failed", "err", err)
		writeError(w, status, errors.New("internal error"))
		return
	}
	log.Info("http "+op+" rejected", "status", status, "err", err)
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, schema.ErrNoUser):
		return http.StatusUnauthorized
	case errors.Is(err, schema.ErrNotFound):
		return http.StatusNotFound
	case schema.IsConflict(err):
		return http.StatusConflict
	case schema.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requireUser(next func(http.ResponseWriter, *http.Request, schema.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, ok := s.currentSession(r)
		if !ok {
			logx.Ctx(r.Context()).Info("http session missing", "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, schema.ErrNoUser)
			return
		}
		log := logx.WithSession(logx.Ctx(r.Context()).With("reviewer", string(entry.user.Email)), entry.id)
		ctx := logx.ContextWithReviewerLogger(r.Context(), log, entry.user.Email)
		next(w, r.WithContext(ctx), entry.user)
	}
}

func (s *Server) currentSession(r *http.Request) (session, bool) {
	token := s.sessionToken(r)
	if token == "" {
		return session{}, false
	}
	return s.sessions.get(token)
}

func (s *Server) sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(s.cfg.SessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *Server) sessionCookie(token string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: s.sameSite,
		Expires:  expires,
	}
}

func (s *Server) lookupSession(r *http.Request) (schema.Email, string) {
	if s == nil || r == nil {
		return "", ""
	}
	entry, ok := s.currentSession(r)
	if !ok {
		return "", ""
	}
	return entry.user.Email, entry.id
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func parseRow(value string) (schema.Row, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 1 {
		return 0, schema.ErrBadRow
	}
	return schema.Row(n), nil
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"ok": false, "error": err.Error()})
}

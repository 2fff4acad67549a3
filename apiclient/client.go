// Package apiclient talks to the survey HTTP API. Every operation is a single
// HTTP request carrying the session cookie from the client's jar.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"

	"pkt.systems/expertsurvey/internal/logx"
	"pkt.systems/expertsurvey/internal/version"
	"pkt.systems/expertsurvey/schema"
)

// Error is returned for non-2xx responses and for 200 responses carrying
// {"ok":false}.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return e.Message
}

// StatusOf returns the HTTP status of an *Error, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Jar carries the
// session; a nil Jar is replaced with an in-memory one.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithJar sets the cookie jar used for session credentials.
func WithJar(jar http.CookieJar) Option {
	return func(c *Client) {
		c.jar = jar
	}
}

// Client is a survey API client.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	jar     http.CookieJar
}

// New returns a Client for baseURL, e.g. http://localhost:5001/api.
func New(baseURL string, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return nil, errors.New("api base url is required")
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api base url %q: scheme must be http or https", raw)
	}
	c := &Client{baseURL: u}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{}
	} else {
		copied := *c.http
		c.http = &copied
	}
	if c.jar != nil {
		c.http.Jar = c.jar
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.http.Jar = jar
	}
	c.jar = c.http.Jar
	return c, nil
}

// BaseURL returns the resolved API base.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// GetUser returns the session user, or nil when none is set.
func (c *Client) GetUser(ctx context.Context) (*schema.User, error) {
	var resp struct {
		User *schema.User `json:"user"`
	}
	if err := c.call(ctx, http.MethodGet, "/get_user", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// SetUser upserts the session user.
func (c *Client) SetUser(ctx context.Context, name, email string) (schema.User, error) {
	var resp struct {
		User schema.User `json:"user"`
	}
	body := map[string]string{"name": name, "email": email}
	if err := c.call(ctx, http.MethodPost, "/set_user", nil, body, &resp); err != nil {
		return schema.User{}, err
	}
	return resp.User, nil
}

// Logout drops the session.
func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/logout", nil, struct{}{}, nil)
}

// ListPatients returns the roster summaries.
func (c *Client) ListPatients(ctx context.Context) ([]schema.PatientSummary, error) {
	var resp struct {
		Patients []schema.PatientSummary `json:"patients"`
	}
	if err := c.call(ctx, http.MethodGet, "/patients", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Patients, nil
}

// GetPatient fetches one record. With includeMy the caller's own submission
// is attached when present.
func (c *Client) GetPatient(ctx context.Context, row schema.Row, includeMy bool) (schema.PatientRecord, error) {
	query := url.Values{"row": {row.String()}}
	if !includeMy {
		var rec schema.Record
		if err := c.call(ctx, http.MethodGet, "/patient", query, nil, &rec); err != nil {
			return schema.PatientRecord{}, err
		}
		return schema.PatientRecord{Row: row, Record: rec}, nil
	}
	query.Set("include_my", "1")
	var resp schema.PatientRecord
	if err := c.call(ctx, http.MethodGet, "/patient", query, nil, &resp); err != nil {
		return schema.PatientRecord{}, err
	}
	if resp.Row == 0 {
		resp.Row = row
	}
	return resp, nil
}

// Claim locks row for the session user. A valid prevRow is released first
// when the same user holds it.
func (c *Client) Claim(ctx context.Context, row, prevRow schema.Row) error {
	body := map[string]int{"row": int(row)}
	if prevRow.Valid() {
		body["prev_row"] = int(prevRow)
	}
	return c.call(ctx, http.MethodPost, "/claim", nil, body, nil)
}

// Release drops the session user's claim on row.
func (c *Client) Release(ctx context.Context, row schema.Row) error {
	return c.call(ctx, http.MethodPost, "/release", nil, map[string]int{"row": int(row)}, nil)
}

// SubmitPrediction records a first prediction for a row.
func (c *Client) SubmitPrediction(ctx context.Context, p schema.Prediction) (schema.Submission, error) {
	return c.prediction(ctx, "/submit_prediction", p)
}

// UpdatePrediction amends the session user's existing submission.
func (c *Client) UpdatePrediction(ctx context.Context, p schema.Prediction) (schema.Submission, error) {
	return c.prediction(ctx, "/update_prediction", p)
}

func (c *Client) prediction(ctx context.Context, endpoint string, p schema.Prediction) (schema.Submission, error) {
	var resp struct {
		Submission schema.Submission `json:"submission"`
	}
	if err := c.call(ctx, http.MethodPost, endpoint, nil, p, &resp); err != nil {
		return schema.Submission{}, err
	}
	return resp.Submission, nil
}

// NextPatient asks for the next workable row after the given one.
func (c *Client) NextPatient(ctx context.Context, after *schema.Row) (schema.NextPatient, error) {
	var query url.Values
	if after != nil {
		query = url.Values{"after": {strconv.Itoa(int(*after))}}
	}
	var resp schema.NextPatient
	if err := c.call(ctx, http.MethodGet, "/next_patient", query, nil, &resp); err != nil {
		return schema.NextPatient{}, err
	}
	return resp, nil
}

// UserProgress returns the session user's progress.
func (c *Client) UserProgress(ctx context.Context) (schema.Progress, error) {
	var resp schema.Progress
	if err := c.call(ctx, http.MethodGet, "/user_progress", nil, nil, &resp); err != nil {
		return schema.Progress{}, err
	}
	return resp, nil
}

// Metrics returns roster-wide counts.
func (c *Client) Metrics(ctx context.Context) (schema.Metrics, error) {
	var resp schema.Metrics
	if err := c.call(ctx, http.MethodGet, "/metrics", nil, nil, &resp); err != nil {
		return schema.Metrics{}, err
	}
	return resp, nil
}

// DownloadCSV copies the server's CSV export to w.
func (c *Client) DownloadCSV(ctx context.Context, w io.Writer) (int64, error) {
	res, err := c.do(ctx, http.MethodGet, "/csv", nil, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 300 {
		return 0, readAPIError(res)
	}
	n, err := io.Copy(w, res.Body)
	if err != nil {
		return n, fmt.Errorf("copy csv: %w", err)
	}
	return n, nil
}

func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	res, err := c.do(ctx, method, endpoint, query, body)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 300 {
		return readAPIError(res)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", endpoint, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var status struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &status); err == nil && status.OK != nil && !*status.OK {
		return &Error{Status: http.StatusConflict, Message: status.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body any) (*http.Response, error) {
	if c == nil || c.http == nil || c.baseURL == nil {
		return nil, errors.New("api client not initialized")
	}
	reqURL := *c.baseURL
	reqURL.Path = strings.TrimRight(reqURL.Path, "/") + endpoint
	reqURL.RawQuery = query.Encode()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", endpoint, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	res, err := c.http.Do(req)
	if err != nil {
		logx.Ctx(ctx).Debug("apiclient request failed", "method", method, "endpoint", endpoint, "err", err)
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	logx.Ctx(ctx).Debug("apiclient request", "method", method, "endpoint", endpoint, "status", res.StatusCode)
	return res, nil
}

func readAPIError(res *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(data, &body); err == nil {
		msg = strings.TrimSpace(body.Error)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	if msg == "" {
		msg = res.Status
	}
	return &Error{Status: res.StatusCode, Message: msg}
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"

	"pkt.systems/expertsurvey/core"
	"pkt.systems/expertsurvey/schema"
)

func newTestServer(t *testing.T, cfg Config, rows int) *httptest.Server {
	t.Helper()
	svc, err := core.NewService(schema.ServiceConfig{ClaimTTL: schema.DefaultClaimTTL}, core.ServiceDeps{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	table := schema.Roster{Columns: []string{"Age", "SEX"}}
	for i := 0; i < rows; i++ {
		table.Rows = append(table.Rows, map[string]string{"Age": "40", "SEX": "M"})
	}
	if _, err := svc.Import(context.Background(), table); err != nil {
		t.Fatalf("import: %v", err)
	}
	ts := httptest.NewServer(NewServer(cfg, svc).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("decode %s: %v (%s)", url, err, data)
		}
	}
	return resp.StatusCode, out
}

func login(t *testing.T, client *http.Client, base, name, email string) {
	t.Helper()
	status, body := doJSON(t, client, http.MethodPost, base+"/set_user", map[string]string{"name": name, "email": email})
	if status != http.StatusOK || body["ok"] != true {
		t.Fatalf("set_user: %d %v", status, body)
	}
}

func TestHealthAndLanding(t *testing.T) {
	ts := newTestServer(t, Config{BasePath: "/api"}, 1)
	client := newClient(t)
	status, body := doJSON(t, client, http.MethodGet, ts.URL+"/api/health", nil)
	if status != http.StatusOK || body["ok"] != true {
		t.Fatalf("health: %d %v", status, body)
	}
	status, body = doJSON(t, client, http.MethodGet, ts.URL+"/", nil)
	if status != http.StatusOK || body["base_path"] != "/api" {
		t.Fatalf("landing: %d %v", status, body)
	}
	status, _ = doJSON(t, client, http.MethodGet, ts.URL+"/api/nope", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestSessionCookieRoundTrip(t *testing.T) {
	ts := newTestServer(t, Config{}, 1)
	client := newClient(t)
	status, body := doJSON(t, client, http.MethodGet, ts.URL+"/get_user", nil)
	if status != http.StatusOK || body["user"] != nil {
		t.Fatalf("expected no user, got %d %v", status, body)
	}
	login(t, client, ts.URL, "Ana", "Ana@Example.org")
	_, body = doJSON(t, client, http.MethodGet, ts.URL+"/get_user", nil)
	user, _ := body["user"].(map[string]any)
	if user["email"] != "ana@example.org" || user["name"] != "Ana" {
		t.Fatalf("unexpected user: %v", body)
	}

	login(t, client, ts.URL, "Ana B", "ana@example.org")
	_, body = doJSON(t, client, http.MethodGet, ts.URL+"/get_user", nil)
	user, _ = body["user"].(map[string]any)
	if user["name"] != "Ana B" {
		t.Fatalf("expected renamed user, got %v", body)
	}

	status, _ = doJSON(t, client, http.MethodPost, ts.URL+"/logout", nil)
	if status != http.StatusOK {
		t.Fatalf("logout: %d", status)
	}
	_, body = doJSON(t, client, http.MethodGet, ts.URL+"/get_user", nil)
	if body["user"] != nil {
		t.Fatalf("expected user cleared, got %v", body)
	}
}

func TestSetUserValidation(t *testing.T) {
	ts := newTestServer(t, Config{}, 1)
	client := newClient(t)
	cases := []struct {
		name string
		body any
	}{
		{name: "missing email", body: map[string]string{"name": "Ana"}},
		{name: "bad email", body: map[string]string{"name": "Ana", "email": "nope"}},
		{name: "unknown field", body: map[string]string{"name": "Ana", "email": "a@b.c", "role": "x"}},
	}
	for _, tc := range cases {
		status, body := doJSON(t, client, http.MethodPost, ts.URL+"/set_user", tc.body)
		if status != http.StatusBadRequest || body["ok"] != false {
			t.Fatalf("%s: expected 400, got %d %v", tc.name, status, body)
		}
	}
}

func TestEndpointsRequireUser(t *testing.T) {
	ts := newTestServer(t, Config{}, 1)
	client := newClient(t)
	cases := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodPost, "/claim", map[string]int{"row": 1}},
		{http.MethodPost, "/release", map[string]int{"row": 1}},
		{http.MethodPost, "/submit_prediction", map[string]any{"row": 1}},
		{http.MethodPost, "/update_prediction", map[string]any{"row": 1}},
		{http.MethodGet, "/next_patient", nil},
		{http.MethodGet, "/user_progress", nil},
	}
	for _, tc := range cases {
		status, body := doJSON(t, client, tc.method, ts.URL+tc.path, tc.body)
		if status != http.StatusUnauthorized || body["error"] != "no user" {
			t.Fatalf("%s %s: expected 401 no user, got %d %v", tc.method, tc.path, status, body)
		}
	}
}

func TestClaimSubmitFlow(t *testing.T) {
	ts := newTestServer(t, Config{}, 2)
	ana := newClient(t)
	bo := newClient(t)
	login(t, ana, ts.URL, "Ana", "ana@example.org")
	login(t, bo, ts.URL, "Bo", "bo@example.org")

	status, _ := doJSON(t, ana, http.MethodPost, ts.URL+"/claim", map[string]int{"row": 1})
	if status != http.StatusOK {
		t.Fatalf("claim: %d", status)
	}
	status, body := doJSON(t, bo, http.MethodPost, ts.URL+"/claim", map[string]int{"row": 1})
	if status != http.StatusConflict || body["error"] != schema.ErrLockedByOther.Error() {
		t.Fatalf("expected 409 locked, got %d %v", status, body)
	}

	sub := map[string]any{"row": 1, "outcome": 1, "confidence": "very confident", "snot22": 30}
	status, body = doJSON(t, ana, http.MethodPost, ts.URL+"/submit_prediction", sub)
	if status != http.StatusOK || body["ok"] != true {
		t.Fatalf("submit: %d %v", status, body)
	}
	submission, _ := body["submission"].(map[string]any)
	if submission["confidence"] != string(schema.ConfidenceVery) {
		t.Fatalf("expected canonical confidence, got %v", submission)
	}

	status, _ = doJSON(t, bo, http.MethodPost, ts.URL+"/update_prediction", sub)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 on foreign update, got %d", status)
	}

	status, body = doJSON(t, ana, http.MethodGet, ts.URL+"/patient?row=1&include_my=1", nil)
	if status != http.StatusOK || body["my_submission"] == nil {
		t.Fatalf("expected my_submission, got %d %v", status, body)
	}
	status, body = doJSON(t, ana, http.MethodGet, ts.URL+"/patient?row=1", nil)
	if status != http.StatusOK || body["Age"] != "40" || body["submitted"] != true {
		t.Fatalf("expected flat record, got %d %v", status, body)
	}

	status, body = doJSON(t, ana, http.MethodGet, ts.URL+"/user_progress", nil)
	if status != http.StatusOK || body["completed"] != float64(1) || body["total"] != float64(2) {
		t.Fatalf("progress: %d %v", status, body)
	}
	status, body = doJSON(t, ana, http.MethodGet, ts.URL+"/next_patient?after=1", nil)
	if status != http.StatusOK || body["row"] != float64(2) {
		t.Fatalf("next: %d %v", status, body)
	}
	status, body = doJSON(t, ana, http.MethodGet, ts.URL+"/metrics", nil)
	if status != http.StatusOK || body["submitted"] != float64(1) {
		t.Fatalf("metrics: %d %v", status, body)
	}
}

func TestPredictionPayloadValidation(t *testing.T) {
	ts := newTestServer(t, Config{}, 1)
	client := newClient(t)
	login(t, client, ts.URL, "Ana", "ana@example.org")
	cases := []struct {
		name string
		body map[string]any
		want error
	}{
		{name: "missing row", body: map[string]any{"outcome": 1, "confidence": "Neutral", "snot22": 10}, want: schema.ErrBadRow},
		{name: "missing outcome", body: map[string]any{"row": 1, "confidence": "Neutral", "snot22": 10}, want: schema.ErrMissingOutcome},
		{name: "missing confidence", body: map[string]any{"row": 1, "outcome": 0, "snot22": 10}, want: schema.ErrMissingConfidence},
		{name: "snot22 range", body: map[string]any{"row": 1, "outcome": 0, "confidence": "Neutral", "snot22": 111}, want: schema.ErrInvalidSNOT22},
		{name: "outcome range", body: map[string]any{"row": 1, "outcome": 2, "confidence": "Neutral", "snot22": 10}, want: schema.ErrInvalidOutcome},
	}
	for _, tc := range cases {
		status, body := doJSON(t, client, http.MethodPost, ts.URL+"/submit_prediction", tc.body)
		if status != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d %v", tc.name, status, body)
		}
		if msg, _ := body["error"].(string); !strings.Contains(msg, tc.want.Error()) {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, msg)
		}
	}
}

func TestPatientErrors(t *testing.T) {
	ts := newTestServer(t, Config{}, 1)
	client := newClient(t)
	status, _ := doJSON(t, client, http.MethodGet, ts.URL+"/patient?row=x", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad row, got %d", status)
	}
	status, _ = doJSON(t, client, http.MethodGet, ts.URL+"/patient?row=9", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	status, body := doJSON(t, client, http.MethodGet, ts.URL+"/patients", nil)
	patients, _ := body["patients"].([]any)
	if status != http.StatusOK || len(patients) != 1 {
		t.Fatalf("patients: %d %v", status, body)
	}
}

func TestCSVDownload(t *testing.T) {
	ts := newTestServer(t, Config{}, 2)
	resp, err := http.Get(ts.URL + "/csv")
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, CSVFilename) {
		t.Fatalf("unexpected disposition %q", cd)
	}
	records, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(records))
	}
	if records[0][0] != "Age" || records[0][2] != schema.ColPrediction {
		t.Fatalf("unexpected header %v", records[0])
	}
}

func TestCORSMirrorsAllowedOrigins(t *testing.T) {
	ts := newTestServer(t, Config{AllowedOrigins: []string{"https://survey.example.org/"}}, 1)
	cases := []struct {
		name   string
		origin string
		method string
		status int
		allow  string
	}{
		{name: "allowed get", origin: "https://survey.example.org", method: http.MethodGet, status: http.StatusOK, allow: "https://survey.example.org"},
		{name: "other get", origin: "https://evil.example.org", method: http.MethodGet, status: http.StatusOK},
		{name: "allowed preflight", origin: "https://survey.example.org", method: http.MethodOptions, status: http.StatusNoContent, allow: "https://survey.example.org"},
		{name: "other preflight", origin: "https://evil.example.org", method: http.MethodOptions, status: http.StatusForbidden},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(tc.method, ts.URL+"/health", nil)
		req.Header.Set("Origin", tc.origin)
		if tc.method == http.MethodOptions {
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, resp.StatusCode)
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tc.allow {
			t.Fatalf("%s: expected allow origin %q, got %q", tc.name, tc.allow, got)
		}
		if tc.allow != "" && resp.Header.Get("Access-Control-Allow-Credentials") != "true" {
			t.Fatalf("%s: expected credentials header", tc.name)
		}
		if !strings.Contains(strings.Join(resp.Header.Values("Vary"), ","), "Origin") {
			t.Fatalf("%s: expected Vary: Origin, got %v", tc.name, resp.Header.Values("Vary"))
		}
	}
}

func TestRequestIDPropagates(t *testing.T) {
	ts := newTestServer(t, Config{}, 1)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(requestIDHeader); got != "req-123" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{schema.ErrNoUser, http.StatusUnauthorized},
		{schema.ErrNotFound, http.StatusNotFound},
		{schema.ErrAlreadyCompleted, http.StatusConflict},
		{schema.ErrEmailMismatch, http.StatusConflict},
		{schema.ErrInvalidConfidence, http.StatusBadRequest},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

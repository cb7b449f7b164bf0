package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eraser-privacy/baunsu/internal/bounce"
	"github.com/eraser-privacy/baunsu/internal/config"
	"github.com/eraser-privacy/baunsu/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bounceReport = "Reporting-MTA: dns; mail.example.org\r\n" +
	"Final-Recipient: rfc822; user@example.com\r\n" +
	"Action: failed\r\n" +
	"Status: 5.1.1\r\n" +
	"Diagnostic-Code: smtp; 550 5.1.1 user unknown\r\n"

const gmailMessage = `{
	"id": "18c1",
	"payload": {
		"headers": [
			{"name": "From", "value": "Mail Delivery Subsystem <mailer-daemon@googlemail.com>"},
			{"name": "Subject", "value": "Delivery Status Notification (Failure)"}
		],
		"parts": [
			{"headers": [{"name": "Final-Recipient", "value": "rfc822; gone@example.com"}]}
		]
	}
}`

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *history.Store) {
	t.Helper()

	store, err := history.NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if cfg == nil {
		cfg = config.Default()
	}
	s, err := NewServer(cfg, store, bounce.New())
	require.NoError(t, err)
	t.Cleanup(s.rateLimiter.Stop)
	return s, store
}

type detectResponse struct {
	Matches   map[string][]bounce.Match `json:"matches"`
	Headers   map[string][]string       `json:"headers"`
	Score     float64                   `json:"score"`
	Bounced   bool                      `json:"bounced"`
	Recipient string                    `json:"recipient"`
}

func postDetect(t *testing.T, h http.Handler, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIDetectText(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := postDetect(t, s.Handler(), "/api/detect", "text/plain", bounceReport)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp detectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Bounced)
	assert.Equal(t, "user@example.com", resp.Recipient)
	assert.InDelta(t, 10.0/14, resp.Score, 1e-9)
	require.Contains(t, resp.Matches, "status")
	assert.Equal(t, " 5.1.1", resp.Matches["status"][0].Value)
}

func TestAPIDetectStructured(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := postDetect(t, s.Handler(), "/api/detect", "application/json; charset=utf-8", gmailMessage)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp detectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Bounced)
	assert.Equal(t, "gone@example.com", resp.Recipient)
	assert.Contains(t, resp.Matches, "from")
	assert.Contains(t, resp.Matches, "subject")
	assert.Len(t, resp.Headers, 3)
}

func TestAPIDetectInvalidJSON(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := postDetect(t, s.Handler(), "/api/detect", "application/json", `{"payload": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestAPIDetectSave(t *testing.T) {
	s, store := newTestServer(t, nil)
	h := s.Handler()

	rec := postDetect(t, h, "/api/detect?save=1", "text/plain", bounceReport)
	require.Equal(t, http.StatusOK, rec.Code)

	records, err := store.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, history.SourceWeb, records[0].Source)
	assert.Equal(t, "user@example.com", records[0].Recipient)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []history.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.True(t, listed[0].Bounced)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats history.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Bounced)
}

func TestAPIHistory(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	tests := []struct {
		target string
		code   int
	}{
		{"/api/history", http.StatusOK},
		{"/api/history?limit=0", http.StatusBadRequest},
		{"/api/history?limit=abc", http.StatusBadRequest},
		{"/api/history?limit=5000", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, tt.code, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAPIWithoutHistory(t *testing.T) {
	s, err := NewServer(config.Default(), nil, bounce.New())
	require.NoError(t, err)
	defer s.rateLimiter.Stop()
	h := s.Handler()

	for _, target := range []string{"/api/history", "/api/stats"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}

	rec := postDetect(t, h, "/api/detect?save=true", "text/plain", bounceReport)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = postDetect(t, h, "/api/detect", "text/plain", bounceReport)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRegistry(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/registry", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Max     int `json:"max"`
		Headers []struct {
			Name    string `json:"name"`
			Pattern string `json:"pattern"`
		} `json:"headers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 14, resp.Max)
	require.Len(t, resp.Headers, 14)
	assert.Equal(t, "final-recipient", resp.Headers[0].Name)
	assert.NotEmpty(t, resp.Headers[0].Pattern)
}

func TestAPIRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Server.RateLimit = 2
	s, _ := newTestServer(t, cfg)
	h := s.Handler()

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		h.ServeHTTP(last, httptest.NewRequest(http.MethodGet, "/api/registry", nil))
		codes = append(codes, last.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "60", last.Header().Get("Retry-After"))

	// Other clients have their own budget
	req := httptest.NewRequest(http.MethodGet, "/api/registry", nil)
	req.RemoteAddr = "10.0.0.9:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIndexForm(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `name="gorilla.csrf.Token"`)
	assert.Contains(t, body, `<textarea id="message" name="message"`)
	assert.Contains(t, body, "final-recipient")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "script-src 'none'")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestDetectFormRequiresCSRFToken(t *testing.T) {
	s, _ := newTestServer(t, nil)

	form := url.Values{"message": {bounceReport}}
	req := httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPIScanNotConfigured(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := postDetect(t, s.Handler(), "/api/scan", "application/json", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, s.jobManager.GetActive())
}

func TestAPIJobEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()
	job := s.jobManager.Create("INBOX")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/job/"+job.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "running", status["status"])
	assert.Equal(t, "INBOX", status["folder"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/job/"+job.ID+"/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, job.IsCancelled())
	assert.Error(t, job.Context().Err())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/job/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIScanAlreadyRunning(t *testing.T) {
	cfg := config.Default()
	cfg.Inbox = config.InboxConfig{
		Enabled:  true,
		Email:    "me@example.com",
		Password: "secret",
		Server:   "imap.example.com",
		Port:     993,
		Folder:   "INBOX",
	}
	s, _ := newTestServer(t, cfg)
	running, ok := s.jobManager.Start("INBOX")
	require.True(t, ok)

	rec := postDetect(t, s.Handler(), "/api/scan", "application/json", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp struct {
		Job map[string]interface{} `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, running.ID, resp.Job["id"])
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"project-downlink/internal/analytics"
	"project-downlink/internal/registry"
	"project-downlink/internal/security"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "secret"

type fakeDownloads struct {
	mu     sync.Mutex
	models map[string]registry.Model
	calls  []string
	addErr error
}

func newFakeDownloads() *fakeDownloads {
	return &fakeDownloads{models: make(map[string]registry.Model)}
}

func (f *fakeDownloads) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDownloads) AddTask(name, rawURL, destination string) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models[name] = *registry.NewModel(name, rawURL, destination)
	f.calls = append(f.calls, "add "+name)
	return nil
}

func (f *fakeDownloads) PauseTask(name string)  { f.record("pause " + name) }
func (f *fakeDownloads) ResumeTask(name string) { f.record("resume " + name) }
func (f *fakeDownloads) RetryTask(name string)  { f.record("retry " + name) }
func (f *fakeDownloads) CancelTask(name string) { f.record("cancel " + name) }
func (f *fakeDownloads) RemoveTask(name string) { f.record("remove " + name) }

func (f *fakeDownloads) Get(name string) (registry.Model, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.models[name]
	return m, ok
}

func (f *fakeDownloads) List() []registry.Model {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]registry.Model, 0, len(f.models))
	for _, m := range f.models {
		out = append(out, m)
	}
	return out
}

type fakeSettings struct {
	mu         sync.Mutex
	enabled    bool
	background bool
}

func (f *fakeSettings) GetEnableAPI() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeSettings) SetEnableAPI(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
	return nil
}

func (f *fakeSettings) GetAPIToken() string { return testToken }

func (f *fakeSettings) GetBackgroundUpdates() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.background
}

func (f *fakeSettings) SetBackgroundUpdates(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.background = enabled
	return nil
}

type fakeStats struct{}

func (fakeStats) GetAnalytics() analytics.AnalyticsData {
	return analytics.AnalyticsData{TotalDownloaded: 42, TotalFiles: 2}
}

type fixture struct {
	server    *ControlServer
	downloads *fakeDownloads
	audit     *security.AuditLogger
	hub       *Hub
}

func newFixture(t *testing.T, enabled bool) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	audit, err := security.NewAuditLogger(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })

	downloads := newFakeDownloads()
	hub := NewHub(logger)
	s := NewControlServer(Options{
		Downloads: downloads,
		Settings:  &fakeSettings{enabled: enabled, background: true},
		Stats:     fakeStats{},
		Audit:     audit,
		Hub:       hub,
		Logger:    logger,
	})
	return &fixture{server: s, downloads: downloads, audit: audit, hub: hub}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:50000"
	req.Header.Set(TokenHeader, testToken)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSecurityMiddleware(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, false)
		rec := f.do(http.MethodGet, "/v1/status", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("external caller", func(t *testing.T) {
		f := newFixture(t, true)
		req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
		req.Header.Set(TokenHeader, testToken)
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("bad token", func(t *testing.T) {
		f := newFixture(t, true)
		req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
		req.RemoteAddr = "[::1]:50000"
		req.Header.Set(TokenHeader, "wrong")
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		logs := f.audit.GetRecentLogs(1)
		require.Len(t, logs, 1)
		assert.Equal(t, http.StatusUnauthorized, logs[0].Status)
	})

	t.Run("token in query", func(t *testing.T) {
		f := newFixture(t, true)
		req := httptest.NewRequest(http.MethodGet, "/v1/status?token="+testToken, nil)
		req.RemoteAddr = "127.0.0.1:50000"
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAddAndGetDownload(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(http.MethodPost, "/v1/downloads", `{"name":"a.zip","url":"https://example.com/a.zip"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created registry.Model
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "a.zip", created.Name)
	assert.Equal(t, "https://example.com/a.zip", created.SourceURL)

	rec = f.do(http.MethodGet, "/v1/downloads/a.zip", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"downloading"`)

	rec = f.do(http.MethodGet, "/v1/downloads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []registry.Model
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list, 1)

	rec = f.do(http.MethodGet, "/v1/downloads/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddDownloadErrors(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(http.MethodPost, "/v1/downloads", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.downloads.addErr = errors.New("invalid download URL")
	rec = f.do(http.MethodPost, "/v1/downloads", `{"name":"a.zip","url":"ftp://x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid download URL")
}

func TestControl(t *testing.T) {
	f := newFixture(t, true)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/v1/downloads", `{"name":"a.zip","url":"https://example.com/a.zip"}`).Code)

	for _, action := range []string{"pause", "resume", "retry", "cancel", "remove"} {
		rec := f.do(http.MethodPost, "/v1/downloads/a.zip/control", `{"action":"`+action+`"}`)
		assert.Equal(t, http.StatusAccepted, rec.Code, action)
	}
	assert.Equal(t, []string{
		"add a.zip", "pause a.zip", "resume a.zip", "retry a.zip", "cancel a.zip", "remove a.zip",
	}, f.downloads.calls)

	rec := f.do(http.MethodPost, "/v1/downloads/a.zip/control", `{"action":"explode"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/v1/downloads/missing/control", `{"action":"pause"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsAndAudit(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var data analytics.AnalyticsData
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&data))
	assert.Equal(t, int64(42), data.TotalDownloaded)

	rec = f.do(http.MethodGet, "/v1/audit?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []security.AccessLogEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "GET /v1/audit", entries[0].Action)
	assert.Equal(t, "GET /v1/stats", entries[1].Action)

	rec = f.do(http.MethodGet, "/v1/audit?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettings(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(http.MethodGet, "/v1/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got SettingsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, SettingsResponse{EnableAPI: true, BackgroundUpdates: true}, got)

	rec = f.do(http.MethodPatch, "/v1/settings", `{"background_updates":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, SettingsResponse{EnableAPI: true, BackgroundUpdates: false}, got)

	rec = f.do(http.MethodPatch, "/v1/settings", `{"enable_api":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// the API refuses requests once switched off
	rec = f.do(http.MethodGet, "/v1/settings", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = newFixture(t, true).do(http.MethodPatch, "/v1/settings", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConcurrencyLimit(t *testing.T) {
	f := newFixture(t, true)
	f.server.activeReqs = f.server.maxRequests

	rec := f.do(http.MethodGet, "/v1/status", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.hub.Run(ctx)

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events?token=" + testToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	events := NewEvents(f.hub)
	events.OnStarted(*registry.NewModel("a.zip", "https://example.com/a.zip", ""), 0)
	events.OnFailed(*registry.NewModel("a.zip", "https://example.com/a.zip", ""), errors.New("boom"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var started struct {
		Type string        `json:"type"`
		Data DownloadEvent `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&started))
	assert.Equal(t, EventDownloadStarted, started.Type)
	assert.Equal(t, "a.zip", started.Data.Download.Name)
	require.NotNil(t, started.Data.Index)
	assert.Equal(t, 0, *started.Data.Index)

	var failed struct {
		Type string        `json:"type"`
		Data DownloadEvent `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&failed))
	assert.Equal(t, EventDownloadFailed, failed.Type)
	assert.Equal(t, "boom", failed.Data.Error)

	cancel()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

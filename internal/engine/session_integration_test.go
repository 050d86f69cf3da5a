package engine

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"project-downlink/internal/config"
	"project-downlink/internal/registry"
	"project-downlink/internal/storage"
	"project-downlink/internal/transport/httpsession"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const liveSession = "engine.test"

// stallFirst sends half the content on the first request and holds the
// connection until the client goes away. Later requests are served in full,
// honouring Range.
type stallFirst struct {
	content []byte
	mu      sync.Mutex
	ranges  []string
}

func (h *stallFirst) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	first := len(h.ranges) == 0
	h.ranges = append(h.ranges, r.Header.Get("Range"))
	h.mu.Unlock()

	w.Header().Set("ETag", `"v1"`)
	if !first {
		http.ServeContent(w, r, "a.bin", time.Unix(0, 0), bytes.NewReader(h.content))
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusOK)
	w.Write(h.content[:len(h.content)/2])
	w.(http.Flusher).Flush()
	<-r.Context().Done()
}

func (h *stallFirst) requests() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.ranges...)
}

type liveEnv struct {
	store    *storage.Storage
	settings *config.ConfigManager
	tempDir  string
	destDir  string
}

func newLiveEnv(t *testing.T) *liveEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.Open(filepath.Join(dir, "downlink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dest := filepath.Join(dir, "downloads")
	require.NoError(t, os.MkdirAll(dest, 0755))
	return &liveEnv{
		store:    store,
		settings: config.NewConfigManager(store),
		tempDir:  filepath.Join(dir, "tmp"),
		destDir:  dest,
	}
}

// start opens a session over the env's database and a manager on top of it.
// Both are closed at cleanup unless the test closes them first.
func (e *liveEnv) start(t *testing.T, obs Observer) (*Manager, *httpsession.Session) {
	t.Helper()
	sess, err := httpsession.Open(httpsession.Options{
		SessionID:        liveSession,
		TempDir:          e.tempDir,
		Storage:          e.store,
		Settings:         e.settings,
		Logger:           discardLogger(),
		MaxConcurrent:    2,
		ProgressInterval: time.Millisecond,
	})
	require.NoError(t, err)

	m, err := New(sess, obs,
		WithLogger(discardLogger()),
		WithTempDir(e.tempDir),
		WithDefaultDestination(e.destDir),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		m.Close()
		sess.Close()
	})
	return m, sess
}

func written(m *Manager, name string) int64 {
	model, ok := m.Get(name)
	if !ok {
		return 0
	}
	return model.Written
}

func TestLivePauseResumeFinish(t *testing.T) {
	content := bytes.Repeat([]byte("downlink"), 4096)
	h := &stallFirst{content: content}
	srv := httptest.NewServer(h)
	defer srv.Close()

	env := newLiveEnv(t)
	rec := &recorder{}
	m, _ := env.start(t, rec)

	require.NoError(t, m.AddTask("a.bin", srv.URL+"/a.bin", ""))
	require.Eventually(t, func() bool { return written(m, "a.bin") > 0 }, 5*time.Second, 5*time.Millisecond)

	// resume lands before the session has settled the pause
	m.PauseTask("a.bin")
	m.ResumeTask("a.bin")

	require.Eventually(t, func() bool { return rec.count("finished") == 1 }, 5*time.Second, 5*time.Millisecond)

	got, err := os.ReadFile(filepath.Join(env.destDir, "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, tracked := m.Get("a.bin")
	assert.False(t, tracked)
	assert.Zero(t, rec.count("failed"))
	assert.Equal(t, 1, rec.count("paused"))
	assert.Equal(t, 1, rec.count("resumed"))

	ranges := h.requests()
	require.Len(t, ranges, 2)
	assert.Empty(t, ranges[0])
	assert.True(t, strings.HasPrefix(ranges[1], "bytes="), ranges[1])
	assert.NotEqual(t, "bytes=0-", ranges[1])
}

func TestLiveInterruptedDownloadRetriesAfterRestart(t *testing.T) {
	content := bytes.Repeat([]byte("downlink"), 4096)
	h := &stallFirst{content: content}
	srv := httptest.NewServer(h)
	defer srv.Close()

	env := newLiveEnv(t)

	first := &recorder{}
	m, sess := env.start(t, first)
	require.NoError(t, m.AddTask("a.bin", srv.URL+"/a.bin", ""))
	require.Eventually(t, func() bool { return written(m, "a.bin") > 0 }, 5*time.Second, 5*time.Millisecond)

	m.Close()
	require.NoError(t, sess.Close())
	// the process died instead of closing cleanly
	require.NoError(t, env.settings.SetCleanShutdown(liveSession, false))

	second := &recorder{}
	m, _ = env.start(t, second)

	require.Eventually(t, func() bool { return second.count("interrupted") == 1 }, 5*time.Second, 5*time.Millisecond)
	restored := second.only(t, "interrupted").model
	assert.Equal(t, "a.bin", restored.Name)
	assert.Equal(t, registry.StateFailed, restored.State)

	m.RetryTask("a.bin")
	require.Eventually(t, func() bool { return second.count("finished") == 1 }, 5*time.Second, 5*time.Millisecond)

	got, err := os.ReadFile(filepath.Join(env.destDir, "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	ranges := h.requests()
	require.Len(t, ranges, 2)
	assert.True(t, strings.HasPrefix(ranges[1], "bytes="), ranges[1])
	assert.NotEqual(t, "bytes=0-", ranges[1])
	assert.Equal(t, []string{"interrupted", "retried", "finished"}, filterProgress(second.kinds()))
}

func filterProgress(kinds []string) []string {
	var out []string
	for _, k := range kinds {
		if k != "progress" {
			out = append(out, k)
		}
	}
	return out
}

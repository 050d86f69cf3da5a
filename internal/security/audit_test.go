package security

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogger(t *testing.T) {
	dir := t.TempDir()
	a, err := NewAuditLogger(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer a.Close()

	var seen []AccessLogEntry
	a.SetSink(func(e AccessLogEntry) { seen = append(seen, e) })

	a.Log("127.0.0.1", "curl", "GET /v1/downloads", 200, "")
	a.Log("127.0.0.1", "curl", "POST /v1/downloads", 401, "Invalid Token")
	a.Log("127.0.0.1", "curl", "GET /v1/stats", 200, "")

	require.Len(t, seen, 3)
	assert.NotEqual(t, seen[0].ID, seen[1].ID)

	recent := a.GetRecentLogs(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "GET /v1/stats", recent[0].Action)
	assert.Equal(t, "POST /v1/downloads", recent[1].Action)
	assert.Equal(t, 401, recent[1].Status)

	_, err = os.Stat(filepath.Join(dir, "access.log"))
	assert.NoError(t, err)
}

func TestAuditLoggerSkipsGarbage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "access.log"), []byte("not json\n"), 0644))

	a, err := NewAuditLogger(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer a.Close()

	assert.Empty(t, a.GetRecentLogs(10))
	a.Log("::1", "", "GET /v1/audit", 200, "")
	assert.Len(t, a.GetRecentLogs(10), 1)
}

package observability

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer(t *testing.T) {
	srv := NewServer("127.0.0.1:0", func() map[string]any {
		return map[string]any{"idle": 2}
	}, zerolog.New(io.Discard))

	t.Run("should report health with extra fields", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, float64(2), body["idle"])
	})

	t.Run("should expose recorded metrics", func(t *testing.T) {
		RecordTask("completed", time.Second)
		SetPoolInstances(1, 1, 0)

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "balatrollm_tasks_total")
		assert.Contains(t, rec.Body.String(), "balatrollm_pool_instances")
	})

	t.Run("should serve on an ephemeral port", func(t *testing.T) {
		require.NoError(t, srv.Start())
		defer srv.Shutdown(context.Background())

		resp, err := http.Get("http://" + srv.Addr() + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, InitAuditLogger(path))

	RecordTaskAudit(context.Background(), "RED_WHITE_AAAAAAA", "task_finished", "completed", map[string]any{"steps": 3})
	require.NoError(t, GetAuditLogger().Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())

	var event map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
	assert.Equal(t, "task", event["type"])
	assert.Equal(t, "RED_WHITE_AAAAAAA", event["actor"])
	assert.Equal(t, "completed", event["status"])
}

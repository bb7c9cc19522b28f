package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultaai-agent/internal/jobs"
	"ultaai-agent/internal/module"
)

type okInvoker struct{}

func (okInvoker) Invoke(context.Context, *module.Action, json.RawMessage) (*module.Result, error) {
	return &module.Result{Stdout: []byte(`"anodaram"`)}, nil
}

func newTestServer(t *testing.T) (*Server, *jobs.Manager, *module.Action) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := module.NewRegistry()
	m, err := module.ParseMetadata([]byte(`{"name":"reverse","description":"reverses strings","actions":[{"name":"string","input":{"type":"string"},"output":{"type":"string"}}]}`), "/opt/modules/reverse")
	require.NoError(t, err)
	require.NoError(t, reg.Register(m))

	spool, err := jobs.NewSpool(t.TempDir())
	require.NoError(t, err)
	mgr := jobs.NewManager(spool)

	a, _ := m.Action("string")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer("127.0.0.1:0", reg, mgr, logger), mgr, a
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Engine.ServeHTTP(w, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, body := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["modules"])
}

func TestModules(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, body := get(t, s, "/modules")
	require.Equal(t, http.StatusOK, w.Code)

	mods, ok := body["modules"].([]any)
	require.True(t, ok)
	require.Len(t, mods, 1)
	mod := mods[0].(map[string]any)
	assert.Equal(t, "reverse", mod["name"])
	assert.Equal(t, false, mod["builtin"])

	actions := mod["actions"].([]any)
	require.Len(t, actions, 1)
	action := actions[0].(map[string]any)
	assert.Equal(t, "string", action["name"])
	assert.Equal(t, map[string]any{"type": "string"}, action["input"])
}

func TestJob(t *testing.T) {
	s, mgr, a := newTestServer(t)
	id, err := mgr.CreateJob(context.Background(),
		module.Request{Module: "reverse", Action: "string", Params: json.RawMessage(`"maradona"`), Delayed: true}, a, okInvoker{})
	require.NoError(t, err)
	mgr.Wait()

	w, body := get(t, s, "/jobs/"+id)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, `"anodaram"`, body["stdout"])
}

func TestJob_Unknown(t *testing.T) {
	s, _, _ := newTestServer(t)
	for _, id := range []string{uuid.NewString(), "not-a-job"} {
		w, body := get(t, s, "/jobs/"+id)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, body["error"], "unknown job")
	}
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"impulse/internal/common"
	"impulse/internal/dispatch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSessions []dispatch.SessionInfo

func (s stubSessions) Snapshot() []dispatch.SessionInfo { return s }

func (s stubSessions) Find(identity string) []dispatch.SessionInfo {
	var out []dispatch.SessionInfo
	for _, info := range s {
		if info.Identity == identity {
			out = append(out, info)
		}
	}
	return out
}

var sessions = stubSessions{
	{DispatchID: "d1", Identity: "pipeline.p1.job.j1.task.t1.7", Build: "7", State: "running", StartedAt: time.Unix(1700000000, 0).UTC()},
	{DispatchID: "d2", Identity: "pipeline.p1.job.j1.task.t2.7", Build: "7", State: "armed", StartedAt: time.Unix(1700000001, 0).UTC()},
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func get(t *testing.T, s *Server, path string) (int, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	s := New(":0", sessions, nil, zap.NewNop())
	code, body := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, common.SUCCESS, body.Code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body.Data))

	s = New(":0", sessions, func() error { return errors.New("nats: connection closed") }, zap.NewNop())
	code, body = get(t, s, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, common.SERVICE_ERR, body.Code)
	assert.Contains(t, body.Message, "connection closed")
}

func TestListSessions(t *testing.T) {
	s := New(":0", sessions, nil, zap.NewNop())
	code, body := get(t, s, "/sessions")
	require.Equal(t, http.StatusOK, code)

	var got []dispatch.SessionInfo
	require.NoError(t, json.Unmarshal(body.Data, &got))
	assert.Equal(t, []dispatch.SessionInfo(sessions), got)
}

func TestGetSession(t *testing.T) {
	s := New(":0", sessions, nil, zap.NewNop())

	code, body := get(t, s, "/sessions/pipeline.p1.job.j1.task.t2.7")
	require.Equal(t, http.StatusOK, code)
	var got []dispatch.SessionInfo
	require.NoError(t, json.Unmarshal(body.Data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "d2", got[0].DispatchID)

	code, body = get(t, s, "/sessions/pipeline.p9.job.j1.task.t1.1")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, common.SESSION_NOT_FOUND, body.Code)
}

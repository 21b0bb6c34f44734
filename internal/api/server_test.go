package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FairForge/loadstorm/pkg/task"
	"github.com/stretchr/testify/require"
)

type stubRegistry struct{}

func (stubRegistry) Factory(taskType string, params map[string]string) (task.Factory, error) {
	return task.FactoryFunc(func(id uint64) task.Task {
		return task.Func(func(ctx context.Context) (task.Result, error) {
			return task.NewSuccess(id, time.Now(), time.Now()), nil
		})
	}), nil
}

func newTestServer() *Server {
	return NewServer(stubRegistry{}, nil, nil, nil)
}

func startTest(t *testing.T, s *Server) string {
	t.Helper()
	body, err := json.Marshal(startTestRequest{
		MaxConcurrency:  2,
		RampDuration:    0,
		SustainDuration: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tests", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["test_id"])
	return resp["test_id"]
}

func TestHandleStartAndStatus(t *testing.T) {
	s := newTestServer()
	testID := startTest(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tests/"+testID, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStatusUnknownTest(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tests/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStopAndSnapshot(t *testing.T) {
	s := newTestServer()
	testID := startTest(t, s)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tests/"+testID+"/stop", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tests/"+testID+"/snapshot", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStartRejectsBadConfig(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(startTestRequest{MaxConcurrency: 0})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tests", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJWTMiddlewareRejectsMissingToken(t *testing.T) {
	s := NewServer(stubRegistry{}, nil, []byte("secret"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tests", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

package rpc

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	in := Assignment{TestID: "t1", TaskType: "http", TargetTPS: 50}
	require.NoError(t, writeFrame(&buf, in))

	var out Assignment
	require.NoError(t, readFrame(&buf, &out))
	assert.Equal(t, in, out)
}

func TestReadFrame_RejectsOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	var out Assignment
	err := readFrame(&buf, &out)
	assert.Error(t, err)
}

type stubWorkerService struct {
	assignResult AssignResult
	stopResult   StopResult
	lastAssign   Assignment
	lastStop     StopRequest
}

func (s *stubWorkerService) AssignTask(ctx context.Context, a Assignment) (AssignResult, error) {
	s.lastAssign = a
	return s.assignResult, nil
}

func (s *stubWorkerService) StopTest(ctx context.Context, req StopRequest) (StopResult, error) {
	s.lastStop = req
	return s.stopResult, nil
}

func TestWorkerServerAndClient_AssignAndStop(t *testing.T) {
	svc := &stubWorkerService{
		assignResult: AssignResult{Accepted: true, EstimatedCount: 100, Message: "ok"},
		stopResult:   StopResult{Stopped: true, Message: "stopped"},
	}
	srv := httptest.NewServer(NewWorkerServer(svc, nil))
	defer srv.Close()

	client := NewWorkerClient(srv.URL, time.Second)

	resp, err := client.AssignTask(context.Background(), Assignment{TestID: "t1", TargetTPS: 20})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.Equal(t, int64(100), resp.EstimatedCount)
	assert.Equal(t, "t1", svc.lastAssign.TestID)

	stopResp, err := client.StopTest(context.Background(), StopRequest{TestID: "t1", Graceful: true})
	require.NoError(t, err)
	assert.True(t, stopResp.Stopped)
	assert.True(t, svc.lastStop.Graceful)
}

type stubControllerService struct {
	lastHeartbeat HeartbeatInfo
	lastMetrics   WorkerMetrics
}

func (s *stubControllerService) Heartbeat(ctx context.Context, info HeartbeatInfo) error {
	s.lastHeartbeat = info
	return nil
}

func (s *stubControllerService) PushMetrics(ctx context.Context, m WorkerMetrics) error {
	s.lastMetrics = m
	return nil
}

func TestControllerServerAndClient_HeartbeatAndPushMetrics(t *testing.T) {
	svc := &stubControllerService{}
	srv := httptest.NewServer(NewControllerServer(svc, nil))
	defer srv.Close()

	client := NewControllerClient(srv.URL, time.Second)

	require.NoError(t, client.Heartbeat(context.Background(), HeartbeatInfo{WorkerID: "w1", MaxCapacity: 100}))
	assert.Equal(t, "w1", svc.lastHeartbeat.WorkerID)

	require.NoError(t, client.PushMetrics(context.Background(), WorkerMetrics{WorkerID: "w1", TestID: "t1", Total: 5}))
	assert.Equal(t, int64(5), svc.lastMetrics.Total)
}

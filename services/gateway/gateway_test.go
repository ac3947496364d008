// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the gateway service lifecycle

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/probr/services/assistant/datatypes"
)

func fakeScorer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req datatypes.AnalysisRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(datatypes.AnalysisResponse{
			UniqueID: req.UniqueID,
			TextStatistics: &datatypes.TextStatistics{
				LexiconCount: 2,
				Readability:  map[string]datatypes.Metric{},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/"
}

func TestApplyConfigDefaults(t *testing.T) {
	cfg := applyConfigDefaults(Config{})
	assert.Equal(t, 6969, cfg.Port)
	assert.Equal(t, "http://127.0.0.1:5000/", cfg.ScorerURL)
	assert.Equal(t, 45*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatGrace)
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.Equal(t, gin.ReleaseMode, cfg.GinMode)
	assert.NotNil(t, cfg.Logger)

	custom := applyConfigDefaults(Config{Port: 8080, HeartbeatInterval: time.Second})
	assert.Equal(t, 8080, custom.Port)
	assert.Equal(t, time.Second, custom.HeartbeatInterval)
}

func TestNew_UnknownExporter(t *testing.T) {
	_, err := New(Config{TraceExporter: "zipkin"})
	assert.Error(t, err)
}

func TestRouter_AnalyzeThroughScorer(t *testing.T) {
	svc, err := New(Config{ScorerURL: fakeScorer(t), GinMode: gin.TestMode})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{"unique_id": 9, "process_language": false, "message": "hi there"}`)))
	svc.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.AnalysisResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(9), resp.UniqueID)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/metrics", nil)
	svc.Router().ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), `probr_gateway_analyses_total{kind="statistics",status="success",transport="http"} 1`)
}

func TestRouter_MetricsDisabled(t *testing.T) {
	svc, err := New(Config{ScorerURL: fakeScorer(t), GinMode: gin.TestMode, DisableMetrics: true})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	svc.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServe_GracefulShutdownClosesWebSockets(t *testing.T) {
	svc, err := New(Config{ScorerURL: fakeScorer(t), GinMode: gin.TestMode})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello datatypes.Envelope
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, datatypes.OpHello, hello.Op)

	cancel()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

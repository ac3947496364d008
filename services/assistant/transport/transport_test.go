// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the WebSocket and HTTP transports

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/probr/services/assistant/clock"
	"github.com/AleutianAI/probr/services/assistant/datatypes"
)

// recordingSink collects events from transport goroutines.
type recordingSink struct {
	mu         sync.Mutex
	deliveries []Delivery
	statuses   []Status
}

func (s *recordingSink) Deliver(d Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
}

func (s *recordingSink) StatusChanged(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
}

func (s *recordingSink) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.deliveries...)
}

func (s *recordingSink) LastState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return Disconnected
	}
	return s.statuses[len(s.statuses)-1].State
}

func (s *recordingSink) States() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st.State)
	}
	return out
}

func (s *recordingSink) HasLatency() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.statuses {
		if st.Latency > 0 {
			return true
		}
	}
	return false
}

func statsResponse(id int64) datatypes.AnalysisResponse {
	return datatypes.AnalysisResponse{
		UniqueID: id,
		TextStatistics: &datatypes.TextStatistics{
			LexiconCount: 3,
			Readability:  map[string]datatypes.Metric{},
		},
	}
}

// =============================================================================
// WebSocket Tests
// =============================================================================

// wsServer is a minimal service: it sends hello, acks heartbeats and answers
// dispatches with an empty statistics response.
type wsServer struct {
	heartbeatMillis int
	beats           chan struct{}
}

func (s *wsServer) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		hello, _ := datatypes.NewEnvelope(datatypes.OpHello, datatypes.Hello{HeartbeatMillis: s.heartbeatMillis})
		if err := conn.WriteJSON(hello); err != nil {
			return
		}
		for {
			var env datatypes.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			switch env.Op {
			case datatypes.OpHeartbeat:
				if s.beats != nil {
					s.beats <- struct{}{}
				}
				ack, _ := datatypes.NewEnvelope(datatypes.OpHeartbeatAck, nil)
				_ = conn.WriteJSON(ack)
			case datatypes.OpDispatch:
				var req datatypes.AnalysisRequest
				if err := env.Decode(&req); err != nil {
					t.Errorf("decode request: %v", err)
					return
				}
				out, _ := datatypes.NewEnvelope(datatypes.OpDispatch, statsResponse(req.UniqueID))
				_ = conn.WriteJSON(out)
			}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocket_DispatchRoundTrip(t *testing.T) {
	srv := httptest.NewServer((&wsServer{heartbeatMillis: 45000}).handler(t))
	defer srv.Close()

	fake := clock.NewFake(time.Unix(0, 0))
	cfg := DefaultWebSocketConfig(wsURL(srv))
	cfg.Clock = fake
	ws := NewWebSocket(cfg)
	sink := &recordingSink{}

	require.NoError(t, ws.Start(context.Background(), sink))
	defer ws.Close()

	require.Eventually(t, func() bool { return sink.LastState() == Connected },
		2*time.Second, 10*time.Millisecond)

	req := &datatypes.AnalysisRequest{UniqueID: 7, Message: "Teh cat sat."}
	require.NoError(t, ws.Send(context.Background(), req))

	require.Eventually(t, func() bool { return len(sink.Deliveries()) == 1 },
		2*time.Second, 10*time.Millisecond)
	d := sink.Deliveries()[0]
	require.NoError(t, d.Err)
	assert.Equal(t, int64(7), d.Token)
	assert.Equal(t, 3, d.Response.TextStatistics.LexiconCount)
}

func TestWebSocket_HeartbeatFollowsHello(t *testing.T) {
	server := &wsServer{heartbeatMillis: 8000, beats: make(chan struct{}, 4)}
	srv := httptest.NewServer(server.handler(t))
	defer srv.Close()

	fake := clock.NewFake(time.Unix(0, 0))
	cfg := DefaultWebSocketConfig(wsURL(srv))
	cfg.Clock = fake
	ws := NewWebSocket(cfg)
	sink := &recordingSink{}

	require.NoError(t, ws.Start(context.Background(), sink))
	defer ws.Close()

	// Hello arms exactly one timer at interval minus the margin.
	require.Eventually(t, func() bool { return fake.Pending() == 1 },
		2*time.Second, 10*time.Millisecond)

	fake.Advance(2 * time.Second)
	select {
	case <-server.beats:
		t.Fatal("heartbeat sent before interval minus margin")
	case <-time.After(50 * time.Millisecond):
	}

	fake.Advance(time.Second)
	select {
	case <-server.beats:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat not sent")
	}

	// The ack re-arms the schedule.
	require.Eventually(t, func() bool { return fake.Pending() == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Connected, sink.LastState())
}

func TestWebSocket_SendBeforeConnect(t *testing.T) {
	ws := NewWebSocket(DefaultWebSocketConfig("ws://127.0.0.1:1/ws"))
	err := ws.Send(context.Background(), &datatypes.AnalysisRequest{UniqueID: 1})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestWebSocket_CloseReportsDisconnected(t *testing.T) {
	srv := httptest.NewServer((&wsServer{heartbeatMillis: 45000}).handler(t))
	defer srv.Close()

	ws := NewWebSocket(DefaultWebSocketConfig(wsURL(srv)))
	sink := &recordingSink{}
	require.NoError(t, ws.Start(context.Background(), sink))
	require.Eventually(t, func() bool { return sink.LastState() == Connected },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.Close())
	assert.Equal(t, Disconnected, sink.LastState())
	assert.ErrorIs(t, ws.Send(context.Background(), &datatypes.AnalysisRequest{UniqueID: 1}), ErrClosed)
	assert.NoError(t, ws.Close(), "second close is a no-op")
}

// =============================================================================
// HTTP Tests
// =============================================================================

func TestHTTP_PostRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req datatypes.AnalysisRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.ProcessLanguage)
		_ = json.NewEncoder(w).Encode(statsResponse(req.UniqueID))
	}))
	defer srv.Close()

	h, err := NewHTTP(DefaultHTTPConfig(srv.URL + "/"))
	require.NoError(t, err)
	sink := &recordingSink{}
	require.NoError(t, h.Start(context.Background(), sink))
	defer h.Close()
	assert.Equal(t, Connected, sink.LastState())

	require.NoError(t, h.Send(context.Background(), &datatypes.AnalysisRequest{
		UniqueID: 3, ProcessLanguage: true, Message: "hello",
	}))
	require.Eventually(t, func() bool { return len(sink.Deliveries()) == 1 },
		2*time.Second, 10*time.Millisecond)
	d := sink.Deliveries()[0]
	require.NoError(t, d.Err)
	assert.Equal(t, int64(3), d.Response.UniqueID)
}

func TestHTTP_FailureDisconnectsUntilHealthy(t *testing.T) {
	var mu sync.Mutex
	healthy := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.URL.Path == "/health" && healthy {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "scorer down", http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig(srv.URL + "/")
	cfg.ProbeEvery = 10 * time.Millisecond
	h, err := NewHTTP(cfg)
	require.NoError(t, err)
	sink := &recordingSink{}
	require.NoError(t, h.Start(context.Background(), sink))
	defer h.Close()

	require.NoError(t, h.Send(context.Background(), &datatypes.AnalysisRequest{UniqueID: 1, Message: "x"}))
	require.Eventually(t, func() bool { return sink.LastState() == Disconnected },
		2*time.Second, 10*time.Millisecond)

	d := sink.Deliveries()[0]
	var se *StatusError
	require.ErrorAs(t, d.Err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, int64(1), d.Token)

	assert.ErrorIs(t, h.Send(context.Background(), &datatypes.AnalysisRequest{UniqueID: 2}), ErrNotConnected)

	mu.Lock()
	healthy = true
	mu.Unlock()
	require.Eventually(t, func() bool { return sink.LastState() == Connected },
		2*time.Second, 10*time.Millisecond)
}

func TestHTTP_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	h, err := NewHTTP(DefaultHTTPConfig(srv.URL))
	require.NoError(t, err)
	sink := &recordingSink{}
	require.NoError(t, h.Start(context.Background(), sink))
	defer h.Close()

	require.NoError(t, h.Send(context.Background(), &datatypes.AnalysisRequest{UniqueID: 1}))
	require.Eventually(t, func() bool { return len(sink.Deliveries()) == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, sink.Deliveries()[0].Err, datatypes.ErrMalformedResponse)
	assert.Equal(t, int64(1), sink.Deliveries()[0].Token)

	// A bad payload from a live service does not take the transport down.
	assert.NotContains(t, sink.States(), Disconnected)
	require.NoError(t, h.Send(context.Background(), &datatypes.AnalysisRequest{UniqueID: 2}))
	require.Eventually(t, func() bool { return len(sink.Deliveries()) == 2 },
		2*time.Second, 10*time.Millisecond)
	assert.NotContains(t, sink.States(), Disconnected)
}

func TestNewHTTP_DerivesHealthURL(t *testing.T) {
	h, err := NewHTTP(DefaultHTTPConfig("http://localhost:6969/v1/analyze"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:6969/health", h.cfg.HealthURL)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Connecting", Connecting.String())
	assert.Equal(t, "Disconnected", Disconnected.String())
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/probr/services/assistant/clock"
	"github.com/AleutianAI/probr/services/assistant/datatypes"
)

// WebSocketConfig configures a WebSocket transport.
type WebSocketConfig struct {
	// URL is the service endpoint, e.g. ws://localhost:6969/ws.
	URL string

	// HandshakeTimeout bounds each dial.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// HeartbeatMargin is subtracted from the advertised heartbeat interval so
	// the ping arrives before the service gives up on the connection.
	HeartbeatMargin time.Duration

	// MinHeartbeat is the shortest delay between two heartbeats.
	MinHeartbeat time.Duration

	// ReconnectEvery and ReconnectBurst shape the reconnect limiter.
	ReconnectEvery time.Duration
	ReconnectBurst int

	// Clock schedules heartbeats. Defaults to clock.System.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultWebSocketConfig returns the configuration used by the CLI.
func DefaultWebSocketConfig(url string) WebSocketConfig {
	return WebSocketConfig{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		HeartbeatMargin:  5 * time.Second,
		MinHeartbeat:     time.Second,
		ReconnectEvery:   2 * time.Second,
		ReconnectBurst:   1,
	}
}

// WebSocket is a Transport over a single WebSocket connection.
//
// # Description
//
// The service opens every connection with a hello frame advertising its
// heartbeat interval. The transport then pings every interval minus
// HeartbeatMargin and measures latency from the acks. A connection that fails
// to read or write is dropped and redialed under a rate limiter; the status
// sequence for that is Disconnected, Connecting, Connected.
//
// # Thread Safety
//
// Safe for concurrent use. Sink callbacks run on the transport's reader
// goroutine and on clock timer goroutines.
type WebSocket struct {
	cfg     WebSocketConfig
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	clock   clock.Clock
	logger  *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	sink      Sink
	interval  time.Duration
	heartbeat clock.Timer
	lastBeat  time.Time
	latency   time.Duration
	cancel    context.CancelFunc
	closed    bool

	writeMu sync.Mutex
	done    chan struct{}
}

// NewWebSocket creates a WebSocket transport. Nothing is dialed until Start.
func NewWebSocket(cfg WebSocketConfig) *WebSocket {
	if cfg.Clock == nil {
		cfg.Clock = clock.System
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReconnectBurst < 1 {
		cfg.ReconnectBurst = 1
	}
	if cfg.MinHeartbeat <= 0 {
		cfg.MinHeartbeat = time.Second
	}
	return &WebSocket{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		limiter: rate.NewLimiter(rate.Every(cfg.ReconnectEvery), cfg.ReconnectBurst),
		clock:   cfg.Clock,
		logger:  cfg.Logger.With("transport", "websocket", "url", cfg.URL),
		done:    make(chan struct{}),
	}
}

// Start dials in the background and keeps the connection alive until Close
// or ctx is done.
func (w *WebSocket) Start(ctx context.Context, sink Sink) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.sink != nil {
		return fmt.Errorf("websocket transport already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	w.sink = sink
	w.cancel = cancel
	go w.run(ctx)
	return nil
}

// run is the dial loop. Each iteration waits for the limiter, dials, and
// reads until the connection fails.
func (w *WebSocket) run(ctx context.Context) {
	defer close(w.done)
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			w.report(Status{State: Disconnected, Err: ErrClosed})
			return
		}

		w.report(Status{State: Connecting})
		conn, _, err := w.dialer.DialContext(ctx, w.cfg.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				w.report(Status{State: Disconnected, Err: ErrClosed})
				return
			}
			w.logger.Info("WebSocket dial failed", "error", err)
			w.report(Status{State: Disconnected, Err: err})
			continue
		}

		w.mu.Lock()
		w.conn = conn
		w.interval = 0
		w.latency = 0
		w.mu.Unlock()
		w.logger.Info("WebSocket connected")
		w.report(Status{State: Connected})

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		err = w.readLoop(conn)
		stop()
		w.drop(conn)

		if ctx.Err() != nil {
			w.report(Status{State: Disconnected, Err: ErrClosed})
			return
		}
		w.logger.Info("WebSocket disconnected", "error", err)
		w.report(Status{State: Disconnected, Err: err})
	}
}

// readLoop dispatches frames until the connection fails.
func (w *WebSocket) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env datatypes.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			w.logger.Warn("Dropping undecodable frame", "error", err)
			w.deliver(Delivery{Err: fmt.Errorf("%w: %v", datatypes.ErrMalformedResponse, err)})
			continue
		}

		switch env.Op {
		case datatypes.OpHello:
			var hello datatypes.Hello
			if err := env.Decode(&hello); err != nil {
				w.logger.Warn("Dropping malformed hello", "error", err)
				continue
			}
			if err := datatypes.ValidateHello(&hello); err != nil {
				w.logger.Warn("Dropping malformed hello", "error", err)
				continue
			}
			interval := time.Duration(hello.HeartbeatMillis) * time.Millisecond
			w.mu.Lock()
			w.interval = interval
			w.mu.Unlock()
			w.logger.Debug("Received hello", "heartbeat_interval", interval)
			w.scheduleHeartbeat(conn)

		case datatypes.OpHeartbeatAck:
			now := w.clock.Now()
			w.mu.Lock()
			if !w.lastBeat.IsZero() {
				w.latency = now.Sub(w.lastBeat)
			}
			latency := w.latency
			w.mu.Unlock()
			w.report(Status{State: Connected, Latency: latency})
			w.scheduleHeartbeat(conn)

		case datatypes.OpDispatch:
			var resp datatypes.AnalysisResponse
			if err := env.Decode(&resp); err != nil {
				w.deliver(Delivery{Err: err})
				continue
			}
			w.deliver(Delivery{Token: resp.UniqueID, Response: &resp})

		default:
			w.logger.Debug("Ignoring frame", "op", env.Op.String())
		}
	}
}

// scheduleHeartbeat arms the next ping for conn, replacing any armed one.
func (w *WebSocket) scheduleHeartbeat(conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != conn || w.interval <= 0 {
		return
	}
	delay := w.interval - w.cfg.HeartbeatMargin
	if delay < w.cfg.MinHeartbeat {
		delay = w.cfg.MinHeartbeat
	}
	if w.heartbeat != nil {
		w.heartbeat.Stop()
	}
	w.heartbeat = w.clock.AfterFunc(delay, func() {
		if err := w.sendHeartbeat(conn); err != nil {
			w.logger.Warn("Heartbeat failed, dropping connection", "error", err)
			_ = conn.Close()
		}
	})
}

// Ping sends a heartbeat now. The ack re-arms the schedule.
func (w *WebSocket) Ping() error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return w.sendHeartbeat(conn)
}

func (w *WebSocket) sendHeartbeat(conn *websocket.Conn) error {
	env, err := datatypes.NewEnvelope(datatypes.OpHeartbeat, nil)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.lastBeat = w.clock.Now()
	w.mu.Unlock()
	return w.write(conn, env)
}

// Send writes an analysis dispatch frame.
func (w *WebSocket) Send(ctx context.Context, req *datatypes.AnalysisRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	conn, closed := w.conn, w.closed
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	env, err := datatypes.NewEnvelope(datatypes.OpDispatch, req)
	if err != nil {
		return err
	}
	if err := w.write(conn, env); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send request %d: %w", req.UniqueID, err)
	}
	return nil
}

func (w *WebSocket) write(conn *websocket.Conn, env datatypes.Envelope) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	}
	return conn.WriteJSON(env)
}

// Latency returns the last measured heartbeat round trip.
func (w *WebSocket) Latency() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latency
}

// drop forgets conn and stops its heartbeat.
func (w *WebSocket) drop(conn *websocket.Conn) {
	_ = conn.Close()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == conn {
		w.conn = nil
	}
	if w.heartbeat != nil {
		w.heartbeat.Stop()
		w.heartbeat = nil
	}
	w.lastBeat = time.Time{}
}

// Close stops the dial loop and closes the connection.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	cancel, started := w.cancel, w.sink != nil
	w.mu.Unlock()

	if !started {
		return nil
	}
	cancel()
	<-w.done
	return nil
}

func (w *WebSocket) report(s Status) {
	w.mu.Lock()
	sink := w.sink
	w.mu.Unlock()
	if sink != nil {
		sink.StatusChanged(s)
	}
}

func (w *WebSocket) deliver(d Delivery) {
	w.mu.Lock()
	sink := w.sink
	w.mu.Unlock()
	if sink != nil {
		sink.Deliver(d)
	}
}

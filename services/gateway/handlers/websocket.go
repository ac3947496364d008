// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/probr/services/assistant/datatypes"
	"github.com/AleutianAI/probr/services/gateway/observability"
)

// =============================================================================
// Configuration
// =============================================================================

// WebSocketConfig configures the op protocol endpoint.
type WebSocketConfig struct {
	// HeartbeatInterval is announced in the hello frame.
	HeartbeatInterval time.Duration

	// Grace is added to HeartbeatInterval to get the read deadline. A
	// connection that sends no heartbeat within it is closed.
	Grace time.Duration

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// MaxConcurrent bounds the analyses running for one connection. Reading
	// pauses while the bound is reached.
	MaxConcurrent int

	// Base is cancelled when the gateway shuts down; open connections are
	// then closed with a going-away frame.
	Base context.Context
}

// DefaultWebSocketConfig returns the gateway defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		HeartbeatInterval: 45 * time.Second,
		Grace:             10 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxConcurrent:     8,
		Base:              context.Background(),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// =============================================================================
// Handler
// =============================================================================

// HandleWebSocket serves the op protocol.
//
// # Description
//
// On connect the gateway sends hello with the heartbeat interval. Every
// heartbeat is answered with an ack and pushes the read deadline out by
// interval + grace. Every dispatch frame is scored concurrently and
// answered with a dispatch frame carrying the response; responses may
// arrive in any order and are matched by unique_id.
//
// Frames that cannot be decoded and requests that fail validation are
// logged and dropped. A scoring service failure closes the connection with
// an internal error frame, which the client reports as Disconnected.
func HandleWebSocket(a *Analyzer, cfg WebSocketConfig) gin.HandlerFunc {
	if cfg.Base == nil {
		cfg.Base = context.Background()
	}
	def := DefaultWebSocketConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.Grace < 0 {
		cfg.Grace = def.Grace
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			a.Logger.Error("failed to upgrade the websocket", "error", err)
			return
		}

		id := uuid.NewString()
		s := &session{
			id:     id,
			conn:   conn,
			cfg:    cfg,
			logger: a.Logger.With("connection_id", id),
		}
		conn.SetReadLimit(datatypes.MaxMessageBytes + envelopeOverhead)

		a.Metrics.ConnectionOpened()
		reason := s.serve(a)
		a.Metrics.ConnectionClosed(reason)
		s.logger.Info("Websocket client disconnected", "reason", string(reason))
	}
}

type session struct {
	id     string
	conn   *websocket.Conn
	cfg    WebSocketConfig
	logger *slog.Logger

	writeMu sync.Mutex

	closeOnce   sync.Once
	closeReason observability.DisconnectReason
}

func (s *session) serve(a *Analyzer) observability.DisconnectReason {
	defer s.conn.Close()
	s.logger.Info("Websocket client connected")

	hello, err := datatypes.NewEnvelope(datatypes.OpHello, datatypes.Hello{
		HeartbeatMillis: int(s.cfg.HeartbeatInterval.Milliseconds()),
	})
	if err != nil {
		return observability.ReasonProtocolError
	}
	if err := s.write(hello); err != nil {
		return observability.ReasonClientClosed
	}

	ctx, cancel := context.WithCancel(s.cfg.Base)
	stop := context.AfterFunc(ctx, func() {
		s.closeWith(observability.ReasonShutdown, websocket.CloseGoingAway, "server shutting down")
	})
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)

	readReason := s.readLoop(gctx, g, a)

	stop()
	cancel()
	_ = g.Wait()

	if r := s.closedBy(); r != "" {
		return r
	}
	return readReason
}

func (s *session) readLoop(ctx context.Context, g *errgroup.Group, a *Analyzer) observability.DisconnectReason {
	s.extendDeadline()
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return classify(err)
		}

		var env datatypes.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.logger.Warn("Dropping undecodable frame", "error", err)
			continue
		}

		switch env.Op {
		case datatypes.OpHeartbeat:
			s.extendDeadline()
			a.Metrics.RecordHeartbeat()
			ack, _ := datatypes.NewEnvelope(datatypes.OpHeartbeatAck, nil)
			if err := s.write(ack); err != nil {
				return observability.ReasonClientClosed
			}

		case datatypes.OpDispatch:
			var req datatypes.AnalysisRequest
			if err := env.Decode(&req); err != nil {
				s.logger.Warn("Dropping malformed dispatch", "error", err)
				continue
			}
			g.Go(func() error {
				return s.dispatch(ctx, a, &req)
			})

		default:
			s.logger.Warn("Ignoring frame with unknown op", "op", env.Op.String())
		}
	}
}

func (s *session) dispatch(ctx context.Context, a *Analyzer, req *datatypes.AnalysisRequest) error {
	resp, err := a.Analyze(ctx, observability.TransportWebSocket, req)
	switch {
	case err == nil:
	case errors.Is(err, datatypes.ErrInvalidRequest):
		s.logger.Warn("Dropping invalid request", "unique_id", req.UniqueID, "error", err)
		return nil
	case ctx.Err() != nil:
		return nil
	default:
		s.logger.Error("Analysis failed, closing connection", "unique_id", req.UniqueID, "error", err)
		s.closeWith(observability.ReasonScorerError, websocket.CloseInternalServerErr, "analysis failed")
		return err
	}

	env, err := datatypes.NewEnvelope(datatypes.OpDispatch, resp)
	if err != nil {
		return err
	}
	if err := s.write(env); err != nil {
		s.logger.Debug("Failed to write response", "unique_id", req.UniqueID, "error", err)
	}
	return nil
}

// =============================================================================
// Connection Helpers
// =============================================================================

func (s *session) write(env datatypes.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteJSON(env)
}

func (s *session) extendDeadline() {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatInterval + s.cfg.Grace))
}

// closeWith sends a close frame and closes the connection, which ends the
// read loop. Only the first call has an effect.
func (s *session) closeWith(reason observability.DisconnectReason, code int, text string) {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.closeReason = reason
		deadline := time.Now().Add(s.cfg.WriteTimeout)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

func (s *session) closedBy() observability.DisconnectReason {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.closeReason
}

func classify(err error) observability.DisconnectReason {
	var netErr net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		return observability.ReasonClientClosed
	case errors.As(err, &netErr) && netErr.Timeout():
		return observability.ReasonHeartbeatTimeout
	case errors.Is(err, websocket.ErrReadLimit):
		return observability.ReasonProtocolError
	default:
		return observability.ReasonClientClosed
	}
}

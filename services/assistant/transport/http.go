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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/probr/services/assistant/datatypes"
)

// HTTPConfig configures an HTTP transport.
type HTTPConfig struct {
	// URL receives the POSTed request body, e.g. http://localhost:6969/.
	URL string

	// HealthURL is probed while disconnected. Defaults to /health on the
	// host of URL.
	HealthURL string

	// Timeout bounds each request, including the analysis itself.
	Timeout time.Duration

	// ProbeEvery and ProbeBurst shape the reconnect probe limiter.
	ProbeEvery time.Duration
	ProbeBurst int

	// Client defaults to a client without a global timeout; Timeout is
	// applied per request.
	Client *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultHTTPConfig returns the configuration used by the CLI.
func DefaultHTTPConfig(url string) HTTPConfig {
	return HTTPConfig{
		URL:        url,
		Timeout:    30 * time.Second,
		ProbeEvery: 2 * time.Second,
		ProbeBurst: 1,
	}
}

// HTTP is a Transport that POSTs every request.
//
// # Description
//
// Each Send runs the round trip on its own goroutine and delivers the outcome
// to the sink. HTTP has no connection, so the transport starts Connected and
// only goes Disconnected when a request fails; it then probes HealthURL under
// a rate limiter and reports Connected again once the service answers.
//
// # Thread Safety
//
// Safe for concurrent use.
type HTTP struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	sink    Sink
	ctx     context.Context
	cancel  context.CancelFunc
	state   State
	probing bool
	closed  bool
	wg      sync.WaitGroup
}

// NewHTTP creates an HTTP transport.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse analysis url: %w", err)
	}
	if cfg.HealthURL == "" {
		cfg.HealthURL = u.ResolveReference(&url.URL{Path: "/health"}).String()
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ProbeBurst < 1 {
		cfg.ProbeBurst = 1
	}
	return &HTTP{
		cfg:     cfg,
		client:  cfg.Client,
		limiter: rate.NewLimiter(rate.Every(cfg.ProbeEvery), cfg.ProbeBurst),
		logger:  cfg.Logger.With("transport", "http", "url", cfg.URL),
	}, nil
}

// Start reports Connected and accepts requests until Close or ctx is done.
func (h *HTTP) Start(ctx context.Context, sink Sink) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.sink != nil {
		h.mu.Unlock()
		return fmt.Errorf("http transport already started")
	}
	h.sink = sink
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.state = Connected
	h.mu.Unlock()

	sink.StatusChanged(Status{State: Connected})
	return nil
}

// Send starts the round trip for req and returns.
func (h *HTTP) Send(ctx context.Context, req *datatypes.AnalysisRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.ctx == nil || h.ctx.Err() != nil {
		return ErrClosed
	}
	if h.state != Connected {
		return ErrNotConnected
	}

	// The round trip outlives the caller's context; it is bounded by the
	// transport's lifetime and Timeout.
	h.wg.Add(1)
	go func(ctx context.Context) {
		defer h.wg.Done()
		h.roundTrip(ctx, req.UniqueID, body)
	}(h.ctx)
	return nil
}

func (h *HTTP) roundTrip(ctx context.Context, token int64, body []byte) {
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := h.post(ctx, body)
	latency := time.Since(start)
	if errors.Is(err, datatypes.ErrMalformedResponse) {
		// The service answered; only this payload is unusable.
		h.logger.Warn("Malformed analysis response", "unique_id", token, "error", err)
		h.sink.Deliver(Delivery{Token: token, Err: err})
		h.sink.StatusChanged(Status{State: Connected, Latency: latency})
		return
	}
	if err != nil {
		if ctx.Err() != nil && h.isClosed() {
			return
		}
		h.logger.Warn("Analysis request failed", "unique_id", token, "error", err)
		h.sink.Deliver(Delivery{Token: token, Err: err})
		h.disconnect(err)
		return
	}

	h.sink.Deliver(Delivery{Token: token, Response: resp})
	h.sink.StatusChanged(Status{State: Connected, Latency: latency})
}

func (h *HTTP) post(ctx context.Context, body []byte) (*datatypes.AnalysisResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}

	var out datatypes.AnalysisResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", datatypes.ErrMalformedResponse, err)
	}
	return &out, nil
}

// disconnect switches to Disconnected and starts the probe loop once.
func (h *HTTP) disconnect(cause error) {
	h.mu.Lock()
	if h.closed || h.probing {
		h.mu.Unlock()
		return
	}
	h.state = Disconnected
	h.probing = true
	ctx := h.ctx
	h.wg.Add(1)
	h.mu.Unlock()

	h.sink.StatusChanged(Status{State: Disconnected, Err: cause})
	go func() {
		defer h.wg.Done()
		h.probe(ctx)
	}()
}

func (h *HTTP) probe(ctx context.Context) {
	for {
		if err := h.limiter.Wait(ctx); err != nil {
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.HealthURL, nil)
		if err != nil {
			h.logger.Error("Invalid health url", "url", h.cfg.HealthURL, "error", err)
			return
		}
		resp, err := h.client.Do(req)
		if err != nil {
			h.logger.Debug("Health probe failed", "error", err)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			h.logger.Debug("Health probe failed", "status", resp.StatusCode)
			continue
		}

		h.mu.Lock()
		h.state = Connected
		h.probing = false
		h.mu.Unlock()
		h.logger.Info("Analysis service reachable again")
		h.sink.StatusChanged(Status{State: Connected})
		return
	}
}

func (h *HTTP) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close cancels outstanding requests and waits for their goroutines.
func (h *HTTP) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	cancel := h.cancel
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
	return nil
}

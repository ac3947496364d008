// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scorer is the gateway's client for the external scoring service.
//
// # Description
//
// The scoring service computes text statistics and, when asked, grammar and
// style matches. It speaks the same request and response bodies as the
// gateway's plain HTTP endpoint. The gateway never scores text itself.
//
// # Thread Safety
//
// Client is safe for concurrent use. Identical concurrent requests (same
// text, same process_language flag) share one upstream call.
package scorer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/probr/services/assistant/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Scorer analyzes one request.
type Scorer interface {
	// Score returns the analysis of req. The response's UniqueID always
	// equals req.UniqueID.
	Score(ctx context.Context, req *datatypes.AnalysisRequest) (*datatypes.AnalysisResponse, error)
}

// ErrUnavailable wraps every failure to obtain an analysis from the scoring
// service, except a response it sent but that failed validation.
var ErrUnavailable = errors.New("scoring service unavailable")

// StatusError is a non-success answer from the scoring service.
type StatusError struct {
	Code int
	Body string
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("scorer returned status %d: %s", e.Code, e.Body)
}

// =============================================================================
// HTTP Client
// =============================================================================

// Config configures a Client.
type Config struct {
	// URL is the scoring endpoint, e.g. http://127.0.0.1:5000/.
	URL string

	// Timeout bounds one upstream call. Grammar checks are slow; the default
	// is 30 seconds.
	Timeout time.Duration

	// Client defaults to a new http.Client.
	Client *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client calls the scoring service over HTTP.
type Client struct {
	cfg    Config
	client *http.Client
	group  singleflight.Group
	logger *slog.Logger

	// onShared is called when a caller received a result computed for
	// another caller. Used for metrics.
	onShared func()
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("scorer URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{cfg: cfg, client: cfg.Client, logger: cfg.Logger}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// OnShared registers a callback run every time a result is shared between
// concurrent callers.
func (c *Client) OnShared(fn func()) {
	c.onShared = fn
}

// Score implements Scorer.
//
// # Description
//
// Requests are keyed by their text and process_language flag. When two
// callers ask for the same analysis while the first call is in flight, the
// second waits for and reuses the first result. Each caller gets its own
// copy with its own unique_id.
func (c *Client) Score(ctx context.Context, req *datatypes.AnalysisRequest) (*datatypes.AnalysisResponse, error) {
	if err := datatypes.ValidateRequest(req); err != nil {
		return nil, err
	}

	ch := c.group.DoChan(key(req), func() (interface{}, error) {
		// Detached from the first caller so its cancellation does not fail
		// the callers sharing the result.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
		defer cancel()
		return c.post(callCtx, req)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared && c.onShared != nil {
			c.onShared()
		}
		shared, ok := res.Val.(*datatypes.AnalysisResponse)
		if !ok {
			return nil, fmt.Errorf("unexpected type from scorer group: got %T", res.Val)
		}
		out := *shared
		out.UniqueID = req.UniqueID
		return &out, nil
	}
}

func (c *Client) post(ctx context.Context, req *datatypes.AnalysisRequest) (*datatypes.AnalysisResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))})
	}

	var out datatypes.AnalysisResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", datatypes.ErrMalformedResponse, err)
	}
	if err := datatypes.ValidateResponse(&out); err != nil {
		return nil, err
	}

	c.logger.Debug("Scored text",
		"process_language", req.ProcessLanguage,
		"issues", len(out.LanguageTool),
		"duration", time.Since(start))
	return &out, nil
}

// key identifies an analysis by what it depends on.
func key(req *datatypes.AnalysisRequest) string {
	sum := sha256.Sum256([]byte(req.Message))
	return fmt.Sprintf("%t:%s", req.ProcessLanguage, hex.EncodeToString(sum[:]))
}

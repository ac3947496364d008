// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gateway's HTTP and WebSocket endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/probr/services/assistant/datatypes"
	"github.com/AleutianAI/probr/services/gateway/observability"
	"github.com/AleutianAI/probr/services/gateway/scorer"
)

// envelopeOverhead is the room left for JSON framing around the message
// text when limiting request sizes.
const envelopeOverhead = 4 * 1024

// Analyzer runs analyses for both entry points.
type Analyzer struct {
	Scorer  scorer.Scorer
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// NewAnalyzer creates an Analyzer. A nil logger means slog.Default().
func NewAnalyzer(s scorer.Scorer, m *observability.Metrics, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{Scorer: s, Metrics: m, Logger: logger}
}

// Analyze validates req, scores it and records the outcome.
func (a *Analyzer) Analyze(ctx context.Context, t observability.Transport, req *datatypes.AnalysisRequest) (*datatypes.AnalysisResponse, error) {
	ctx, span := otel.Tracer("probr.gateway").Start(ctx, "gateway.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("transport", string(t)),
		attribute.Int64("unique_id", req.UniqueID),
		attribute.Bool("process_language", req.ProcessLanguage),
		attribute.Int("message_bytes", len(req.Message)),
	)

	if err := datatypes.ValidateRequest(req); err != nil {
		a.Metrics.RecordAnalysis(t, req.ProcessLanguage, observability.StatusInvalid)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	resp, err := a.Scorer.Score(ctx, req)
	a.Metrics.RecordScorerDuration(req.ProcessLanguage, time.Since(start).Seconds())
	if err != nil {
		a.Metrics.RecordAnalysis(t, req.ProcessLanguage, statusOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	a.Metrics.RecordAnalysis(t, req.ProcessLanguage, observability.StatusSuccess)
	span.SetAttributes(attribute.Int("issues", len(resp.LanguageTool)))
	return resp, nil
}

func statusOf(err error) observability.Status {
	switch {
	case errors.Is(err, datatypes.ErrInvalidRequest):
		return observability.StatusInvalid
	case errors.Is(err, datatypes.ErrMalformedResponse):
		return observability.StatusMalformed
	default:
		return observability.StatusUnavailable
	}
}

// HandleAnalyze serves the plain HTTP analysis endpoint.
//
// # Description
//
// The body is an AnalysisRequest; the answer is the AnalysisResponse with
// the same unique_id.
//
// # Outputs
//
//   - 200 with the response
//   - 400 if the body is not a valid request
//   - 413 if the body is too large
//   - 502 if the scoring service failed or answered nonsense
//   - 504 if the scoring service timed out
func HandleAnalyze(a *Analyzer) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := http.MaxBytesReader(c.Writer, c.Request.Body, datatypes.MaxMessageBytes+envelopeOverhead)
		raw, err := io.ReadAll(body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}

		var req datatypes.AnalysisRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
			return
		}

		resp, err := a.Analyze(c.Request.Context(), observability.TransportHTTP, &req)
		if err != nil {
			code := httpStatus(err)
			if code >= http.StatusInternalServerError {
				a.Logger.Error("Analysis failed", "unique_id", req.UniqueID, "error", err)
			}
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, datatypes.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// HealthCheck reports that the gateway is up.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/probr/cmd/probr/config"
	"github.com/AleutianAI/probr/services/assistant/cards"
	"github.com/AleutianAI/probr/services/assistant/editor"
	"github.com/AleutianAI/probr/services/assistant/ignore"
	"github.com/AleutianAI/probr/services/assistant/observability"
	"github.com/AleutianAI/probr/services/assistant/orchestrator"
	"github.com/AleutianAI/probr/services/assistant/transport"
)

// errServiceUnavailable is returned when the analysis service cannot be
// reached within the request timeout.
var errServiceUnavailable = errors.New("analysis service unavailable")

// session wires one document to the assistant: transport, ignore list,
// orchestrator and the view feed the front ends read from.
type session struct {
	doc      *editor.Document
	orch     *orchestrator.Orchestrator
	ignored  *ignore.Set
	feed     *viewFeed
	registry *prometheus.Registry
	timeout  time.Duration
}

// sessionOptions lets tests replace the transport and the ignore store.
type sessionOptions struct {
	Transport transport.Transport
	Store     ignore.Store
	Logger    *slog.Logger
}

// newSession builds a session for text from the client configuration.
func newSession(ctx context.Context, cfg config.ProbrConfig, text string, opts sessionOptions) (*session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tr := opts.Transport
	if tr == nil {
		var err error
		if tr, err = newTransport(cfg.Client, logger); err != nil {
			return nil, err
		}
	}

	ignored, err := openIgnoreSet(ctx, cfg.Ignore, opts.Store, logger)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	orchCfg := orchestrator.DefaultConfig()
	orchCfg.Deck = cards.Config{
		RemovalDelay:     cfg.Client.RemovalDelay.Std(),
		ReplacementLimit: cfg.Client.ReplacementLimit,
	}
	orchCfg.Logger = logger
	orchCfg.Metrics = observability.NewMetrics(reg)
	orchCfg.Tracker = observability.NewTracker(otel.GetTracerProvider())

	doc := editor.NewDocument(text)
	orch := orchestrator.New(doc, tr, ignored, orchCfg)
	return &session{
		doc:      doc,
		orch:     orch,
		ignored:  ignored,
		feed:     newViewFeed(orch),
		registry: reg,
		timeout:  cfg.Client.RequestTimeout.Std(),
	}, nil
}

func newTransport(cfg config.ClientConfig, logger *slog.Logger) (transport.Transport, error) {
	switch cfg.Transport {
	case "http":
		httpCfg := transport.DefaultHTTPConfig(cfg.HTTPURL)
		httpCfg.Timeout = cfg.RequestTimeout.Std()
		httpCfg.ProbeEvery = cfg.ReconnectEvery.Std()
		httpCfg.ProbeBurst = cfg.ReconnectBurst
		httpCfg.Logger = logger
		return transport.NewHTTP(httpCfg)
	case "websocket", "":
		wsCfg := transport.DefaultWebSocketConfig(cfg.WebSocketURL)
		wsCfg.HeartbeatMargin = cfg.HeartbeatMargin.Std()
		wsCfg.ReconnectEvery = cfg.ReconnectEvery.Std()
		wsCfg.ReconnectBurst = cfg.ReconnectBurst
		wsCfg.Logger = logger
		return transport.NewWebSocket(wsCfg), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func openIgnoreSet(ctx context.Context, cfg config.IgnoreConfig, store ignore.Store, logger *slog.Logger) (*ignore.Set, error) {
	if store == nil {
		if !cfg.Persist {
			return ignore.NewSet(), nil
		}
		bcfg := ignore.DefaultBadgerConfig(config.ExpandPath(cfg.Path))
		bcfg.Logger = logger
		var err error
		if store, err = ignore.OpenBadger(bcfg); err != nil {
			return nil, fmt.Errorf("open ignore store: %w", err)
		}
	}
	return ignore.Open(ctx, store, logger)
}

// run runs the orchestrator loop next to fn and stops the loop when fn
// returns.
func (s *session) run(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.orch.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return fn(gctx)
	})
	return g.Wait()
}

// close releases the ignore store.
func (s *session) close() error {
	return s.ignored.Close()
}

// awaitConnected waits for the transport to report Connected.
func (s *session) awaitConnected(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.feed.await(ctx, func(v orchestrator.View) bool {
		return v.Status.State == transport.Connected
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return errServiceUnavailable
	}
	return err
}

// analyze requests a full analysis and waits for its result.
func (s *session) analyze(ctx context.Context) (orchestrator.View, error) {
	var err error
	// Draining on the loop guarantees the next published view postdates the
	// request.
	doErr := s.orch.Do(ctx, func() {
		s.feed.drain()
		err = s.orch.Analyze()
	})
	if doErr != nil {
		return orchestrator.View{}, doErr
	}
	if err != nil {
		return orchestrator.View{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	v, err := s.feed.await(ctx, func(v orchestrator.View) bool {
		return !v.Analyzing || v.Status.State != transport.Connected
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return v, errServiceUnavailable
	}
	if err != nil {
		return v, err
	}
	if v.Status.State != transport.Connected {
		return v, errServiceUnavailable
	}
	return v, nil
}

// view returns the current view, read on the event loop.
func (s *session) view(ctx context.Context) (orchestrator.View, error) {
	var v orchestrator.View
	err := s.orch.Do(ctx, func() { v = s.orch.View() })
	return v, err
}

// =============================================================================
// View Feed
// =============================================================================

// viewFeed keeps the latest view published by the orchestrator. The
// listener never blocks the event loop: a view nobody has read yet is
// replaced by the newer one.
type viewFeed struct {
	ch chan orchestrator.View
}

func newViewFeed(o *orchestrator.Orchestrator) *viewFeed {
	f := &viewFeed{ch: make(chan orchestrator.View, 1)}
	o.OnUpdate(f.push)
	return f
}

// push is called on the event loop only, so after draining the send cannot
// block.
func (f *viewFeed) push(v orchestrator.View) {
	select {
	case <-f.ch:
	default:
	}
	f.ch <- v
}

// drain discards an unread view. Call it on the event loop.
func (f *viewFeed) drain() {
	select {
	case <-f.ch:
	default:
	}
}

// updates returns the channel of views.
func (f *viewFeed) updates() <-chan orchestrator.View {
	return f.ch
}

// await returns the first published view that satisfies pred.
func (f *viewFeed) await(ctx context.Context, pred func(orchestrator.View) bool) (orchestrator.View, error) {
	var last orchestrator.View
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case v := <-f.ch:
			last = v
			if pred(v) {
				return v, nil
			}
		}
	}
}

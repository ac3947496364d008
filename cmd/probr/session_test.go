// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the CLI session wiring and the check, review and ignore commands

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/probr/cmd/probr/config"
	"github.com/AleutianAI/probr/pkg/ux"
	"github.com/AleutianAI/probr/services/assistant/cards"
	"github.com/AleutianAI/probr/services/assistant/datatypes"
	"github.com/AleutianAI/probr/services/assistant/ignore"
	"github.com/AleutianAI/probr/services/assistant/orchestrator"
	"github.com/AleutianAI/probr/services/assistant/transport"
)

// ============================================================================
// Test Setup
// ============================================================================

// scriptedTransport answers every request asynchronously. Full requests get
// the issues returned by grammar for the request text.
type scriptedTransport struct {
	mu      sync.Mutex
	state   transport.State
	grammar func(text string) []datatypes.Issue
	sent    []*datatypes.AnalysisRequest
	sink    transport.Sink
}

func (f *scriptedTransport) Start(_ context.Context, sink transport.Sink) error {
	f.mu.Lock()
	f.sink = sink
	state := f.state
	f.mu.Unlock()
	sink.StatusChanged(transport.Status{State: state})
	return nil
}

func (f *scriptedTransport) Send(_ context.Context, req *datatypes.AnalysisRequest) error {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	sink := f.sink
	f.mu.Unlock()

	resp := &datatypes.AnalysisResponse{
		UniqueID: req.UniqueID,
		TextStatistics: &datatypes.TextStatistics{
			LexiconCount:  3,
			SyllableCount: 3,
			SentenceCount: 1,
			Readability: map[string]datatypes.Metric{
				datatypes.MetricFleschReadingEase: {Score: datatypes.Score{Value: 119.19}},
			},
		},
	}
	if req.ProcessLanguage && f.grammar != nil {
		resp.LanguageTool = f.grammar(req.Message)
	}
	go sink.Deliver(transport.Delivery{Token: req.UniqueID, Response: resp})
	return nil
}

func (f *scriptedTransport) Close() error { return nil }

func (f *scriptedTransport) Sent() []*datatypes.AnalysisRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*datatypes.AnalysisRequest(nil), f.sent...)
}

// tehGrammar flags a leading "Teh".
func tehGrammar(text string) []datatypes.Issue {
	if len(text) < 3 || text[:3] != "Teh" {
		return nil
	}
	return []datatypes.Issue{{
		RuleID:       "MORFOLOGIK_RULE_EN_US",
		Message:      "Possible spelling mistake found.",
		Replacements: []string{"The"},
		Offset:       0,
		ErrorLength:  3,
		Category:     "TYPOS",
	}}
}

func testConfig() config.ProbrConfig {
	cfg := config.DefaultConfig()
	cfg.Ignore.Persist = false
	cfg.Client.RequestTimeout = config.Duration(5 * time.Second)
	return cfg
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "essay.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func connectedTransport() *scriptedTransport {
	return &scriptedTransport{state: transport.Connected, grammar: tehGrammar}
}

// ============================================================================
// Check Command Tests
// ============================================================================

func TestRunCheck_PrintsCardsAndStatistics(t *testing.T) {
	path := writeTemp(t, "Teh cat sat.")
	var buf bytes.Buffer

	err := runCheck(context.Background(), ux.NewPlainPrinter(&buf), testConfig(), path,
		checkOptions{}, sessionOptions{Transport: connectedTransport()})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "[Teh] cat sat.")
	assert.Contains(t, out, `TYPOS: "Teh": Possible spelling mistake found.`)
	assert.Contains(t, out, "1. The")
	assert.Contains(t, out, "3 words, 3 syllables - 1 sentences")
	assert.Contains(t, out, "Flesch Reading Ease")
	assert.Contains(t, out, "SUMMARY: issues=1 ignored=0")
	assert.Equal(t, "Teh cat sat.", readFile(t, path), "check without --fix never writes")
}

func TestRunCheck_FixWritesFile(t *testing.T) {
	path := writeTemp(t, "Teh cat sat.")
	var buf bytes.Buffer

	err := runCheck(context.Background(), ux.NewPlainPrinter(&buf), testConfig(), path,
		checkOptions{Fix: true, Yes: true}, sessionOptions{Transport: connectedTransport()})
	require.NoError(t, err)

	assert.Equal(t, "The cat sat.", readFile(t, path))
	assert.Contains(t, buf.String(), "OK: Applied 1 suggestions")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestRunCheck_FixDeclined(t *testing.T) {
	path := writeTemp(t, "Teh cat sat.")
	var buf bytes.Buffer
	var prompt string

	err := runCheck(context.Background(), ux.NewPlainPrinter(&buf), testConfig(), path,
		checkOptions{Fix: true, Confirm: func(p string) (bool, error) {
			prompt = p
			return false, nil
		}},
		sessionOptions{Transport: connectedTransport()})
	require.NoError(t, err)

	assert.Contains(t, prompt, "Apply 1 suggestions")
	assert.Equal(t, "Teh cat sat.", readFile(t, path))
	assert.Contains(t, buf.String(), "No changes written.")
}

func TestRunCheck_FixNothingToDo(t *testing.T) {
	path := writeTemp(t, "The cat sat.")
	var buf bytes.Buffer

	err := runCheck(context.Background(), ux.NewPlainPrinter(&buf), testConfig(), path,
		checkOptions{Fix: true, Confirm: func(string) (bool, error) {
			t.Fatal("no confirmation expected")
			return false, nil
		}},
		sessionOptions{Transport: connectedTransport()})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Nothing to fix.")
}

func TestRunCheck_ServiceUnavailable(t *testing.T) {
	path := writeTemp(t, "Teh cat sat.")
	cfg := testConfig()
	cfg.Client.RequestTimeout = config.Duration(100 * time.Millisecond)

	err := runCheck(context.Background(), ux.NewPlainPrinter(&bytes.Buffer{}), cfg, path,
		checkOptions{}, sessionOptions{Transport: &scriptedTransport{state: transport.Disconnected}})
	assert.ErrorIs(t, err, errServiceUnavailable)
}

func TestRunCheck_MissingFile(t *testing.T) {
	err := runCheck(context.Background(), ux.NewPlainPrinter(&bytes.Buffer{}), testConfig(),
		filepath.Join(t.TempDir(), "nope.txt"), checkOptions{}, sessionOptions{Transport: connectedTransport()})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunCheck_PersistedIgnoreFiltersCards(t *testing.T) {
	store, err := ignore.OpenBadger(ignore.InMemoryBadgerConfig())
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), ignore.Record{RuleID: "MORFOLOGIK_RULE_EN_US", IgnoredAt: time.Now()}))

	path := writeTemp(t, "Teh cat sat.")
	var buf bytes.Buffer
	err = runCheck(context.Background(), ux.NewPlainPrinter(&buf), testConfig(), path,
		checkOptions{}, sessionOptions{Transport: connectedTransport(), Store: store})
	require.NoError(t, err)

	assert.NotContains(t, buf.String(), "TYPOS")
	assert.Contains(t, buf.String(), "SUMMARY: issues=0 ignored=1")
}

// ============================================================================
// Review Action Tests
// ============================================================================

func TestLoopActions_AcceptAndIgnoreRule(t *testing.T) {
	s, err := newSession(context.Background(), testConfig(), "Teh cat sat.", sessionOptions{Transport: connectedTransport()})
	require.NoError(t, err)
	defer s.close()

	err = s.run(context.Background(), func(ctx context.Context) error {
		require.NoError(t, s.awaitConnected(ctx))
		v, err := s.analyze(ctx)
		require.NoError(t, err)
		require.Len(t, v.Cards, 1)

		actions := &loopActions{ctx: ctx, s: s}
		require.NoError(t, actions.Expand(v.Cards[0].ID))
		require.NoError(t, actions.Accept(v.Cards[0].ID, 0))

		got, err := actions.View()
		require.NoError(t, err)
		assert.Equal(t, "The cat sat.", got.Text)

		require.NoError(t, actions.IgnoreRule("MORFOLOGIK_RULE_EN_US"))
		assert.Equal(t, 1, s.ignored.Len())

		assert.ErrorIs(t, actions.Accept("missing", 0), cards.ErrCardNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestLoopActions_StoppedLoop(t *testing.T) {
	s, err := newSession(context.Background(), testConfig(), "Hello.", sessionOptions{Transport: connectedTransport()})
	require.NoError(t, err)
	defer s.close()

	require.NoError(t, s.run(context.Background(), func(ctx context.Context) error { return nil }))

	actions := &loopActions{ctx: context.Background(), s: s}
	assert.ErrorIs(t, actions.Analyze(), orchestrator.ErrStopped)
}

// ============================================================================
// Ignore Command Tests
// ============================================================================

func TestIgnoreCommands(t *testing.T) {
	ctx := context.Background()
	store, err := ignore.OpenBadger(ignore.InMemoryBadgerConfig())
	require.NoError(t, err)
	set, err := ignore.Open(ctx, store, nil)
	require.NoError(t, err)
	defer set.Close()

	var buf bytes.Buffer
	p := ux.NewPlainPrinter(&buf)

	listIgnored(p, set)
	assert.Equal(t, "No ignored rules.\n", buf.String())

	buf.Reset()
	require.NoError(t, addIgnored(ctx, p, set, []string{"EN_A_VS_AN", "PASSIVE_VOICE", "EN_A_VS_AN"}))
	assert.Equal(t, "OK: Ignoring EN_A_VS_AN\nOK: Ignoring PASSIVE_VOICE\nEN_A_VS_AN is already ignored\n", buf.String())

	buf.Reset()
	listIgnored(p, set)
	assert.Contains(t, buf.String(), "EN_A_VS_AN")
	assert.Contains(t, buf.String(), "PASSIVE_VOICE")
	assert.Contains(t, buf.String(), "SUMMARY: rules=2")

	buf.Reset()
	assert.Error(t, addIgnored(ctx, p, set, []string{"NEW_RULE", "bad rule"}))
	assert.Equal(t, 2, set.Len(), "nothing is stored when one id is invalid")
	assert.Empty(t, buf.String())

	require.NoError(t, clearIgnored(ctx, p, set))
	assert.Equal(t, "OK: Forgot 2 ignored rules\n", buf.String())
	assert.Zero(t, set.Len())
}

// ============================================================================
// View Feed Tests
// ============================================================================

func TestViewFeed(t *testing.T) {
	f := &viewFeed{ch: make(chan orchestrator.View, 1)}

	f.push(orchestrator.View{Text: "old"})
	f.push(orchestrator.View{Text: "new"})
	v, err := f.await(context.Background(), func(orchestrator.View) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, "new", v.Text, "an unread view is replaced")

	f.push(orchestrator.View{Text: "stale"})
	f.drain()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.await(ctx, func(orchestrator.View) bool { return true })
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestViewFeed_AwaitSkipsUntilPredicate(t *testing.T) {
	f := &viewFeed{ch: make(chan orchestrator.View, 1)}
	go func() {
		for _, text := range []string{"a", "b", "c"} {
			// Wait for the reader before publishing the next one so none
			// is replaced.
			for len(f.ch) > 0 {
				time.Sleep(time.Millisecond)
			}
			f.push(orchestrator.View{Text: text})
		}
	}()
	v, err := f.await(context.Background(), func(v orchestrator.View) bool { return v.Text == "c" })
	require.NoError(t, err)
	assert.Equal(t, "c", v.Text)
}

// ============================================================================
// Gateway Mapping Tests
// ============================================================================

func TestGatewayConfig(t *testing.T) {
	cfg := config.DefaultConfig().Gateway
	cfg.Metrics = false
	got := gatewayConfig(cfg, nil)

	assert.Equal(t, 6969, got.Port)
	assert.Equal(t, "http://127.0.0.1:5000/", got.ScorerURL)
	assert.Equal(t, 45*time.Second, got.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, got.HeartbeatGrace)
	assert.Equal(t, 8, got.MaxConcurrent)
	assert.True(t, got.DisableMetrics)
	assert.Equal(t, "none", got.TraceExporter)
}

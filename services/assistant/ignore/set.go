// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ignore holds the rules the user has permanently suppressed.
//
// A Set is append-only for the session. Issues are filtered against it when
// cards are created; cards already visible for a rule are removed by the
// orchestrator when the rule is added. A Store makes the set survive
// restarts; without one it lives only as long as the process.
package ignore

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/probr/services/assistant/datatypes"
)

// Record is one ignored rule.
type Record struct {
	RuleID    string    `msgpack:"rule_id"`
	IgnoredAt time.Time `msgpack:"ignored_at"`
}

// Store persists records.
type Store interface {
	Load(ctx context.Context) ([]Record, error)
	Put(ctx context.Context, rec Record) error
	Clear(ctx context.Context) error
	Close() error
}

// Set is the ignored-rule set.
//
// # Thread Safety
//
// Safe for concurrent use.
type Set struct {
	mu     sync.RWMutex
	rules  map[string]Record
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewSet creates an empty, session-only set.
func NewSet() *Set {
	return &Set{
		rules:  make(map[string]Record),
		now:    time.Now,
		logger: slog.Default(),
	}
}

// Open creates a set backed by store and loads the stored records.
func Open(ctx context.Context, store Store, logger *slog.Logger) (*Set, error) {
	recs, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	s := NewSet()
	s.store = store
	if logger != nil {
		s.logger = logger
	}
	for _, rec := range recs {
		s.rules[rec.RuleID] = rec
	}
	return s, nil
}

// Add ignores ruleID. It reports whether the rule was new; adding a rule
// twice is not an error.
//
// The session set is updated even if persisting fails, so the rule is
// suppressed for the rest of the session either way; the error only says
// it will not survive a restart.
func (s *Set) Add(ctx context.Context, ruleID string) (bool, error) {
	s.mu.Lock()
	if _, ok := s.rules[ruleID]; ok {
		s.mu.Unlock()
		return false, nil
	}
	rec := Record{RuleID: ruleID, IgnoredAt: s.now().UTC()}
	s.rules[ruleID] = rec
	store := s.store
	s.mu.Unlock()

	if store == nil {
		return true, nil
	}
	if err := store.Put(ctx, rec); err != nil {
		s.logger.Warn("Failed to persist ignored rule", "rule_id", ruleID, "error", err)
		return true, err
	}
	return true, nil
}

// Contains reports whether ruleID is ignored.
func (s *Set) Contains(ruleID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rules[ruleID]
	return ok
}

// Filter returns the issues whose rule is not ignored, in their original
// order.
func (s *Set) Filter(issues []datatypes.Issue) []datatypes.Issue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]datatypes.Issue, 0, len(issues))
	for _, issue := range issues {
		if _, ok := s.rules[issue.RuleID]; !ok {
			out = append(out, issue)
		}
	}
	return out
}

// Records returns the ignored rules sorted by rule id.
func (s *Set) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.rules))
	for _, rec := range s.rules {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

// Len returns the number of ignored rules.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Clear forgets every rule, in the store too. This is an administrative
// operation for the CLI; the assistant itself never un-ignores a rule.
func (s *Set) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.rules = make(map[string]Record)
	store := s.store
	s.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Clear(ctx)
}

// Close closes the backing store, if any.
func (s *Set) Close() error {
	s.mu.Lock()
	store := s.store
	s.store = nil
	s.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Close()
}

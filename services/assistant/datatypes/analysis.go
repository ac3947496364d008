// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the wire types exchanged with the analysis
// service.
//
// This file contains the analysis request, the analysis response, and the
// grammar issue shape. The WebSocket envelope lives in envelope.go and the
// validation rules in validate.go.
//
// # Offsets
//
// Issue offsets and lengths count Unicode code points of the text that was
// sent in the request, not bytes and not UTF-16 units.
package datatypes

// =============================================================================
// Request Types
// =============================================================================

// AnalysisRequest is sent from the client to the analysis service.
//
// UniqueID echoes the request token so the client can recognize stale
// responses. ProcessLanguage asks the service for grammar matches in addition
// to the statistics, which is the slow path (3-5s round trips are normal).
type AnalysisRequest struct {
	UniqueID        int64  `json:"unique_id" validate:"gte=1"`
	ProcessLanguage bool   `json:"process_language"`
	Message         string `json:"message" validate:"maxbytes"`
}

// =============================================================================
// Response Types
// =============================================================================

// AnalysisResponse is returned by the analysis service.
//
// LanguageTool is nil when grammar processing was not requested. An empty,
// non-nil slice means the text was checked and nothing was flagged; the two
// cases are handled differently by the orchestrator.
type AnalysisResponse struct {
	UniqueID       int64           `json:"unique_id" validate:"gte=1"`
	TextStatistics *TextStatistics `json:"text_statistics" validate:"required"`
	LanguageTool   []Issue         `json:"language_tool" validate:"omitempty,dive"`
}

// HasGrammar reports whether the response carries a grammar pass.
func (r *AnalysisResponse) HasGrammar() bool {
	return r.LanguageTool != nil
}

// TextStatistics holds the counts and readability scores of a text.
// The *PS slices hold per-sentence values aligned with Sentences.
type TextStatistics struct {
	LexiconCount    int               `json:"lexicon_count" validate:"gte=0"`
	LexiconCountPS  []float64         `json:"lexicon_count_ps"`
	SyllableCount   int               `json:"syllable_count" validate:"gte=0"`
	SyllableCountPS []float64         `json:"syllable_count_ps"`
	Sentences       []string          `json:"sentences"`
	SentenceCount   int               `json:"sentence_count" validate:"gte=0"`
	Readability     map[string]Metric `json:"readability" validate:"required"`
}

// Metric is a single readability measure.
//
// SPS holds the per-sentence scores when the service computes them. Words is
// only populated for the difficult words metric.
type Metric struct {
	Score Score     `json:"score"`
	SPS   []float64 `json:"sps,omitempty"`
	Words []string  `json:"words,omitempty"`
}

// Readability metric names as reported by the analysis service.
const (
	MetricFleschReadingEase         = "flesch_reading_ease"
	MetricSmogIndex                 = "smog_index"
	MetricFleschKincaidGrade        = "flesch_kincaid_grade"
	MetricColemanLiauIndex          = "coleman_liau_index"
	MetricAutomatedReadabilityIndex = "automated_readability_index"
	MetricDaleChallReadabilityScore = "dale_chall_readability_score"
	MetricDifficultWords            = "difficult_words"
	MetricLinsearWriteFormula       = "linsear_write_formula"
	MetricGunningFog                = "gunning_fog"
	MetricTextStandard              = "text_standard"
)

// MetricOrder lists the readability metrics in display order.
var MetricOrder = []string{
	MetricFleschReadingEase,
	MetricSmogIndex,
	MetricFleschKincaidGrade,
	MetricColemanLiauIndex,
	MetricAutomatedReadabilityIndex,
	MetricDaleChallReadabilityScore,
	MetricDifficultWords,
	MetricLinsearWriteFormula,
	MetricGunningFog,
	MetricTextStandard,
}

// Issue is a single grammar or style match returned by the analysis service.
//
// Offset and ErrorLength are positions into the text snapshot that produced
// the request. Issues are immutable once received; the live position of an
// issue is tracked separately by the offsets package.
type Issue struct {
	RuleID          string   `json:"ruleId" validate:"required"`
	Message         string   `json:"message"`
	Replacements    []string `json:"replacements"`
	OffsetInContext int      `json:"offsetInContext,omitempty"`
	Context         string   `json:"context,omitempty"`
	Offset          int      `json:"offset" validate:"gte=0"`
	ErrorLength     int      `json:"errorLength" validate:"gt=0"`
	Category        string   `json:"category"`
	RuleIssueType   string   `json:"ruleIssueType,omitempty"`
	Sentence        string   `json:"sentence,omitempty"`
}

// End returns the exclusive end offset of the issue.
func (i Issue) End() int {
	return i.Offset + i.ErrorLength
}

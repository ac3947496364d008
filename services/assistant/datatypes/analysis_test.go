// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for analysis datatypes

package datatypes

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResponse = `{
  "unique_id": 3,
  "text_statistics": {
    "lexicon_count": 3,
    "lexicon_count_ps": [3],
    "syllable_count": 3,
    "syllable_count_ps": [3],
    "sentences": ["Teh cat sat."],
    "sentence_count": 1,
    "readability": {
      "flesch_reading_ease": {"score": 119.19, "sps": [119.19]},
      "smog_index": {"score": 0.0},
      "difficult_words": {"score": 0, "sps": [0], "words": []},
      "text_standard": {"score": "-1th and 0th grade"}
    }
  },
  "language_tool": [
    {
      "ruleId": "MORFOLOGIK_RULE_EN_US",
      "message": "Possible spelling mistake found.",
      "replacements": ["The", "Tech"],
      "offsetInContext": 0,
      "context": "Teh cat sat.",
      "offset": 0,
      "errorLength": 3,
      "category": "TYPOS",
      "ruleIssueType": "misspelling",
      "sentence": "Teh cat sat."
    }
  ]
}`

// =============================================================================
// Decoding Tests
// =============================================================================

func TestAnalysisResponse_DecodesServiceShape(t *testing.T) {
	var resp AnalysisResponse
	require.NoError(t, json.Unmarshal([]byte(sampleResponse), &resp))

	assert.Equal(t, int64(3), resp.UniqueID)
	require.NotNil(t, resp.TextStatistics)
	assert.Equal(t, 3, resp.TextStatistics.LexiconCount)
	assert.Equal(t, []string{"Teh cat sat."}, resp.TextStatistics.Sentences)

	fre := resp.TextStatistics.Readability[MetricFleschReadingEase]
	assert.InDelta(t, 119.19, fre.Score.Value, 0.001)
	assert.Equal(t, []float64{119.19}, fre.SPS)

	std := resp.TextStatistics.Readability[MetricTextStandard]
	assert.True(t, std.Score.IsLabel())
	assert.Equal(t, "-1th and 0th grade", std.Score.String())

	require.True(t, resp.HasGrammar())
	require.Len(t, resp.LanguageTool, 1)
	issue := resp.LanguageTool[0]
	assert.Equal(t, "MORFOLOGIK_RULE_EN_US", issue.RuleID)
	assert.Equal(t, 3, issue.End())
	assert.Equal(t, []string{"The", "Tech"}, issue.Replacements)

	require.NoError(t, ValidateResponse(&resp))
}

func TestAnalysisResponse_NullLanguageToolMeansNoGrammarPass(t *testing.T) {
	body := `{"unique_id": 1, "text_statistics": {"readability": {}}, "language_tool": null}`
	var resp AnalysisResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.False(t, resp.HasGrammar())

	body = `{"unique_id": 1, "text_statistics": {"readability": {}}, "language_tool": []}`
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.True(t, resp.HasGrammar())
	assert.Empty(t, resp.LanguageTool)
}

func TestScore_MarshalKeepsForm(t *testing.T) {
	data, err := json.Marshal(Metric{Score: Score{Label: "8th and 9th grade"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"score": "8th and 9th grade"}`, string(data))

	data, err = json.Marshal(Metric{Score: Score{Value: 12.5}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"score": 12.5}`, string(data))
}

func TestScore_NullDecodesToZero(t *testing.T) {
	var m Metric
	require.NoError(t, json.Unmarshal([]byte(`{"score": null}`), &m))
	assert.Equal(t, Score{}, m.Score)
	assert.Equal(t, "0", m.Score.String())
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestValidateResponse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		resp *AnalysisResponse
	}{
		{"nil response", nil},
		{"missing statistics", &AnalysisResponse{UniqueID: 1}},
		{"zero token", &AnalysisResponse{TextStatistics: &TextStatistics{Readability: map[string]Metric{}}}},
		{"issue without rule", &AnalysisResponse{
			UniqueID:       1,
			TextStatistics: &TextStatistics{Readability: map[string]Metric{}},
			LanguageTool:   []Issue{{Offset: 0, ErrorLength: 1}},
		}},
		{"negative offset", &AnalysisResponse{
			UniqueID:       1,
			TextStatistics: &TextStatistics{Readability: map[string]Metric{}},
			LanguageTool:   []Issue{{RuleID: "R1", Offset: -1, ErrorLength: 1}},
		}},
		{"zero length", &AnalysisResponse{
			UniqueID:       1,
			TextStatistics: &TextStatistics{Readability: map[string]Metric{}},
			LanguageTool:   []Issue{{RuleID: "R1", Offset: 0, ErrorLength: 0}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateResponse(tt.resp)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestValidateRequest(t *testing.T) {
	require.NoError(t, ValidateRequest(&AnalysisRequest{UniqueID: 1, Message: "hello"}))

	err := ValidateRequest(&AnalysisRequest{UniqueID: 0, Message: "hello"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	err = ValidateRequest(&AnalysisRequest{UniqueID: 1, Message: strings.Repeat("a", MaxMessageBytes+1)})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

// =============================================================================
// Envelope Tests
// =============================================================================

func TestEnvelope_RoundTrip(t *testing.T) {
	env, err := NewEnvelope(OpDispatch, AnalysisRequest{UniqueID: 7, ProcessLanguage: true, Message: "hi"})
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":0,"d":{"unique_id":7,"process_language":true,"message":"hi"}}`, string(data))

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	var req AnalysisRequest
	require.NoError(t, decoded.Decode(&req))
	assert.Equal(t, int64(7), req.UniqueID)
	assert.True(t, req.ProcessLanguage)
}

func TestEnvelope_HeartbeatHasNoPayload(t *testing.T) {
	env, err := NewEnvelope(OpHeartbeat, nil)
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":1}`, string(data))

	err = env.Decode(&Hello{})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestOpcode_String(t *testing.T) {
	assert.Equal(t, "hello", OpHello.String())
	assert.Equal(t, "heartbeat_ack", OpHeartbeatAck.String())
	assert.Equal(t, "op(42)", Opcode(42).String())
}

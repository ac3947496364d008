// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for request sequencing and freshness

package sequencer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/probr/services/assistant/clock"
	"github.com/AleutianAI/probr/services/assistant/datatypes"
	"github.com/AleutianAI/probr/services/assistant/transport"
)

type stubSender struct {
	sent []*datatypes.AnalysisRequest
	err  error
}

func (s *stubSender) Send(_ context.Context, req *datatypes.AnalysisRequest) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, req)
	return nil
}

func delivery(id int64) transport.Delivery {
	return transport.Delivery{
		Token: id,
		Response: &datatypes.AnalysisResponse{
			UniqueID: id,
			TextStatistics: &datatypes.TextStatistics{
				Readability: map[string]datatypes.Metric{},
			},
		},
	}
}

func TestIssue_TokensIncrease(t *testing.T) {
	sender := &stubSender{}
	s := New(sender, nil)

	for want := Token(1); want <= 3; want++ {
		tok, err := s.Issue(context.Background(), "text", want == 2)
		require.NoError(t, err)
		assert.Equal(t, want, tok)
	}
	require.Len(t, sender.sent, 3)
	assert.Equal(t, int64(2), sender.sent[1].UniqueID)
	assert.True(t, sender.sent[1].ProcessLanguage)
	assert.False(t, sender.sent[2].ProcessLanguage)
	assert.Equal(t, Token(3), s.Latest())
}

func TestDeliver_OnlyLatestApplies(t *testing.T) {
	s := New(&stubSender{}, nil)
	for i := 0; i < 3; i++ {
		_, err := s.Issue(context.Background(), "text", false)
		require.NoError(t, err)
	}

	// Responses arrive as 3, 1, 2.
	res, err := s.Deliver(delivery(3))
	require.NoError(t, err)
	assert.Equal(t, Token(3), res.Token)

	_, err = s.Deliver(delivery(1))
	assert.ErrorIs(t, err, ErrStaleResponse)
	_, err = s.Deliver(delivery(2))
	assert.ErrorIs(t, err, ErrStaleResponse)

	_, err = s.Deliver(delivery(3))
	assert.ErrorIs(t, err, ErrStaleResponse, "duplicates are stale")
}

func TestDeliver_UnknownFutureToken(t *testing.T) {
	s := New(&stubSender{}, nil)
	_, err := s.Issue(context.Background(), "text", false)
	require.NoError(t, err)

	_, err = s.Deliver(delivery(9))
	assert.ErrorIs(t, err, ErrStaleResponse)
}

func TestDeliver_ResultCarriesRequestFacts(t *testing.T) {
	fake := clock.NewFake(time.Unix(100, 0))
	s := New(&stubSender{}, fake)
	_, err := s.Issue(context.Background(), "café", true)
	require.NoError(t, err)

	fake.Advance(3 * time.Second)
	res, err := s.Deliver(delivery(1))
	require.NoError(t, err)
	assert.True(t, res.Full)
	assert.Equal(t, 4, res.TextLen)
	assert.Equal(t, 3*time.Second, res.RTT)
}

func TestMarkMutation_StalesInFlightRequest(t *testing.T) {
	s := New(&stubSender{}, nil)
	_, err := s.Issue(context.Background(), "Teh cat sat.", true)
	require.NoError(t, err)

	awaiting, full := s.Awaiting()
	assert.True(t, awaiting)
	assert.True(t, full)

	inFlight, full := s.MarkMutation()
	assert.True(t, inFlight)
	assert.True(t, full)

	awaiting, _ = s.Awaiting()
	assert.False(t, awaiting)

	_, err = s.Deliver(delivery(1))
	assert.ErrorIs(t, err, ErrStaleResponse)

	// A request issued after the mutation is fresh again.
	tok, err := s.Issue(context.Background(), "The cat sat.", true)
	require.NoError(t, err)
	assert.True(t, s.IsFresh(tok))
}

func TestMarkMutation_NothingInFlight(t *testing.T) {
	s := New(&stubSender{}, nil)
	_, err := s.Issue(context.Background(), "text", false)
	require.NoError(t, err)
	_, err = s.Deliver(delivery(1))
	require.NoError(t, err)

	inFlight, _ := s.MarkMutation()
	assert.False(t, inFlight)
}

func TestIssue_SendFailureBurnsToken(t *testing.T) {
	sender := &stubSender{err: transport.ErrNotConnected}
	s := New(sender, nil)

	tok, err := s.Issue(context.Background(), "text", false)
	require.Error(t, err)
	assert.Equal(t, Token(1), tok)
	assert.True(t, errors.Is(err, ErrTransportFailure))
	assert.True(t, errors.Is(err, transport.ErrNotConnected))

	var tf *TransportFailure
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, Token(1), tf.Token)

	sender.err = nil
	tok, err = s.Issue(context.Background(), "text", false)
	require.NoError(t, err)
	assert.Equal(t, Token(2), tok)
}

func TestIssue_RejectsOversizedText(t *testing.T) {
	s := New(&stubSender{}, nil)
	big := make([]byte, datatypes.MaxMessageBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	tok, err := s.Issue(context.Background(), string(big), false)
	assert.ErrorIs(t, err, datatypes.ErrInvalidRequest)
	assert.Equal(t, Token(0), tok)
	assert.Equal(t, Token(0), s.Latest())
}

func TestDeliver_TransportError(t *testing.T) {
	s := New(&stubSender{}, nil)
	_, err := s.Issue(context.Background(), "text", true)
	require.NoError(t, err)

	_, err = s.Deliver(transport.Delivery{Token: 1, Err: errors.New("connection refused")})
	assert.ErrorIs(t, err, ErrTransportFailure)
	assert.Equal(t, Token(1), s.Latest(), "failure leaves the counter alone")

	awaiting, _ := s.Awaiting()
	assert.False(t, awaiting)
}

func TestDeliver_Malformed(t *testing.T) {
	s := New(&stubSender{}, nil)
	_, err := s.Issue(context.Background(), "text", false)
	require.NoError(t, err)

	_, err = s.Deliver(transport.Delivery{Token: 1, Response: &datatypes.AnalysisResponse{UniqueID: 1}})
	assert.ErrorIs(t, err, datatypes.ErrMalformedResponse)

	awaiting, _ := s.Awaiting()
	assert.False(t, awaiting, "a malformed answer ends the wait")
	assert.Empty(t, s.pending)

	_, err = s.Deliver(transport.Delivery{Err: datatypes.ErrMalformedResponse})
	assert.ErrorIs(t, err, datatypes.ErrMalformedResponse)
	assert.NotErrorIs(t, err, ErrTransportFailure)
}

func TestPendingIsBounded(t *testing.T) {
	s := New(&stubSender{}, nil)
	for i := 0; i < 100; i++ {
		_, err := s.Issue(context.Background(), "text", false)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, len(s.pending), maxPending)
	awaiting, _ := s.Awaiting()
	assert.True(t, awaiting)
}

func TestDeliver_MismatchedUniqueID(t *testing.T) {
	s := New(&stubSender{}, nil)
	_, err := s.Issue(context.Background(), "text", false)
	require.NoError(t, err)

	d := delivery(1)
	d.Response.UniqueID = 7
	_, err = s.Deliver(d)
	assert.ErrorIs(t, err, datatypes.ErrMalformedResponse)

	awaiting, _ := s.Awaiting()
	assert.False(t, awaiting)
}

func TestDeliver_TokenFromResponse(t *testing.T) {
	s := New(&stubSender{}, nil)
	_, err := s.Issue(context.Background(), "text", false)
	require.NoError(t, err)

	d := delivery(1)
	d.Token = 0
	res, err := s.Deliver(d)
	require.NoError(t, err)
	assert.Equal(t, Token(1), res.Token)
}

func TestDeliver_DuplicateAfterPrune(t *testing.T) {
	s := New(&stubSender{}, nil)
	for i := 0; i < 3*maxPending; i++ {
		_, err := s.Issue(context.Background(), "text", false)
		require.NoError(t, err)
	}
	latest := int64(s.Latest())

	_, err := s.Deliver(delivery(latest))
	require.NoError(t, err)
	_, err = s.Deliver(delivery(latest))
	assert.ErrorIs(t, err, ErrStaleResponse)
}

func TestAbandon(t *testing.T) {
	s := New(&stubSender{}, nil)
	_, err := s.Issue(context.Background(), "text", true)
	require.NoError(t, err)
	s.Abandon()
	awaiting, _ := s.Awaiting()
	assert.False(t, awaiting)

	// The latest response is still applied if the transport recovers.
	assert.True(t, s.IsFresh(1))
	res, err := s.Deliver(delivery(1))
	require.NoError(t, err)
	assert.True(t, res.Full)

	_, err = s.Deliver(delivery(1))
	assert.ErrorIs(t, err, ErrStaleResponse)
}

func TestAbandon_NewRequestAwaited(t *testing.T) {
	s := New(&stubSender{}, nil)
	_, err := s.Issue(context.Background(), "text", false)
	require.NoError(t, err)
	s.Abandon()

	_, err = s.Issue(context.Background(), "text", false)
	require.NoError(t, err)
	awaiting, _ := s.Awaiting()
	assert.True(t, awaiting)
}

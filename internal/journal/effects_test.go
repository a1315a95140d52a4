package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-systems/agency/internal/agencyerr"
)

func TestRecordedRecordMode(t *testing.T) {
	r := NewRecordingEffectRecorder()
	calls := 0
	result, err := Recorded(r, "get_time", nil, func() int64 {
		calls++
		return 1234
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1234), result)
	assert.Equal(t, 1, calls)
	require.Len(t, r.Effects(), 1)
	assert.Equal(t, "get_time", r.Effects()[0].EffectID)
}

func TestRecordedReplayMode(t *testing.T) {
	stored := []Effect{{EffectID: "get_time", Result: int64(5678)}}
	r := NewReplayingEffectRecorder(stored)
	calls := 0
	result, err := Recorded(r, "get_time", nil, func() int64 {
		calls++
		return 0
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5678), result)
	assert.Equal(t, 0, calls, "replay must never call the real function")
}

func TestRecordedReplayMismatch(t *testing.T) {
	stored := []Effect{{EffectID: "send_msg", Result: int64(1)}}
	r := NewReplayingEffectRecorder(stored)
	_, err := Recorded(r, "get_time", nil, func() int64 { return 0 })
	assert.ErrorIs(t, err, agencyerr.ErrReplayMismatch)
}

func TestRecordedReplayExhausted(t *testing.T) {
	r := NewReplayingEffectRecorder(nil)
	_, err := Recorded(r, "get_time", nil, func() int64 { return 0 })
	assert.ErrorIs(t, err, agencyerr.ErrReplayMismatch)
}

func TestRecordedReplayResultTypeMismatch(t *testing.T) {
	stored := []Effect{{EffectID: "get_time", Result: "not-an-int64"}}
	r := NewReplayingEffectRecorder(stored)
	_, err := Recorded(r, "get_time", nil, func() int64 { return 0 })
	assert.ErrorIs(t, err, agencyerr.ErrReplayMismatch)
}

func TestDecodeEffectsRoundTripsThroughFreeze(t *testing.T) {
	effects := []Effect{
		{EffectID: "get_time", Args: nil, Result: int64(1700000000)},
		{EffectID: "send_msg", Args: "recipients", Result: "sent"},
	}
	s := NewSerializer(nil)
	frozen := s.Freeze(effects)

	decoded := DecodeEffects(frozen)
	require.Len(t, decoded, 2)
	assert.Equal(t, "get_time", decoded[0].EffectID)
	assert.Equal(t, int64(1700000000), decoded[0].Result)
	assert.Equal(t, "send_msg", decoded[1].EffectID)
	assert.Equal(t, "sent", decoded[1].Result)
}

func TestDecodeEffectsNonEffectsValue(t *testing.T) {
	assert.Nil(t, DecodeEffects(nil))
	assert.Nil(t, DecodeEffects("not effects"))
}

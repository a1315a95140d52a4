package journal

import (
	"fmt"

	"github.com/corvid-systems/agency/internal/agencyerr"
)

// Effect is a captured named side effect: an external read (time,
// random, descriptor copy, a messaging call) recorded as a tuple of
// (effect_id, args, result) so replay can substitute it instead of
// calling the real thing, matching spec §4.4 and the design note
// "Decorator-recorded side effects."
type Effect struct {
	EffectID string `msgpack:"effect_id"`
	Args     any    `msgpack:"args"`
	Result   any    `msgpack:"result"`
}

// Mode selects whether EffectRecorder.Recorded calls through to the real
// function (record mode) or consumes the next stored effect instead
// (replay mode).
type Mode int

const (
	ModeRecord Mode = iota
	ModeReplay
)

// EffectRecorder accumulates Effects for the current journal entry and,
// in replay mode, plays them back in order instead of invoking fn.
type EffectRecorder struct {
	mode    Mode
	effects []Effect
	replay  []Effect
	cursor  int
}

// NewRecordingEffectRecorder starts a recorder in record mode.
func NewRecordingEffectRecorder() *EffectRecorder {
	return &EffectRecorder{mode: ModeRecord}
}

// NewReplayingEffectRecorder starts a recorder that replays stored
// effects instead of calling through.
func NewReplayingEffectRecorder(stored []Effect) *EffectRecorder {
	return &EffectRecorder{mode: ModeReplay, replay: stored}
}

// Effects returns the effects accumulated so far (record mode) or
// consumed so far (replay mode).
func (r *EffectRecorder) Effects() []Effect { return r.effects }

// Recorded wraps fn as a named side effect. In record mode it calls fn
// and appends (effectID, args, result) to the current entry. In replay
// mode it consumes the next stored effect tuple and returns its result
// without calling fn, matching the design note's `recorded(effect_id,
// fn)` wrapper.
func Recorded[T any](r *EffectRecorder, effectID string, args any, fn func() T) (T, error) {
	if r.mode == ModeReplay {
		if r.cursor >= len(r.replay) {
			var zero T
			return zero, fmt.Errorf("journal: replay ran out of recorded effects for %q: %w", effectID, agencyerr.ErrReplayMismatch)
		}
		stored := r.replay[r.cursor]
		r.cursor++
		if stored.EffectID != effectID {
			var zero T
			return zero, fmt.Errorf("journal: replay mismatch: expected effect %q, found %q: %w", effectID, stored.EffectID, agencyerr.ErrReplayMismatch)
		}
		result, ok := stored.Result.(T)
		if !ok {
			var zero T
			return zero, fmt.Errorf("journal: replay mismatch: effect %q result has wrong type: %w", effectID, agencyerr.ErrReplayMismatch)
		}
		r.effects = append(r.effects, stored)
		return result, nil
	}

	result := fn()
	r.effects = append(r.effects, Effect{EffectID: effectID, Args: args, Result: result})
	return result, nil
}

// DecodeEffects reconstructs the []Effect a frozen SideEffects tree was
// built from. Serializer.Freeze turns a []Effect into a slice of
// map[string]any (reflection over exported field names, so
// "EffectID"/"Args"/"Result"); replay needs that typed shape back to
// inspect individual effects by id instead of walking raw maps.
func DecodeEffects(v any) []Effect {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	effects := make([]Effect, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["EffectID"].(string)
		effects = append(effects, Effect{EffectID: id, Args: m["Args"], Result: m["Result"]})
	}
	return effects
}

// Package protocol implements the Protocol State Machines: contract-net,
// request/response, and task, for both the initiator and interested
// sides (spec §4.3). None of these types import package medium; they are
// handed a medium.HostMedium at construction and satisfy medium.Listener
// structurally, so the two packages never import each other.
package protocol

import (
	"sync"
	"time"

	"github.com/corvid-systems/agency/internal/journal"
	"github.com/corvid-systems/agency/internal/wireproto"
	"github.com/corvid-systems/agency/public/medium"
)

// State names a protocol machine's current state. Each concrete machine
// defines its own set of valid values.
type State string

const (
	// StateTerminal is not itself a reachable state and no machine is ever
	// set to it; machine.terminate sets state to the machine-specific
	// terminal value passed to it, and isTerminal reads machine.terminal
	// rather than comparing states.
	StateTerminal State = "__terminal__"
)

// machine is the shared mixin every protocol state machine embeds: a
// session id, the owning host, the current state, and an expiration
// timer that terminates the machine if it has not reached a terminal
// state by the time the timer fires (inbound messages do not re-arm it).
// This matches spec §4.3's observation that every machine shares the
// same expiration-timer and termination plumbing regardless of protocol.
type machine struct {
	host       medium.HostMedium
	sessionID  string
	protocolType string
	protocolID string

	mu        sync.Mutex
	state     State
	terminal  bool
	timer     *time.Timer
}

func newMachine(host medium.HostMedium, protocolType, protocolID, sessionID string, initial State) machine {
	return machine{
		host:         host,
		sessionID:    sessionID,
		protocolType: protocolType,
		protocolID:   protocolID,
		state:        initial,
	}
}

// SessionID implements medium.Listener.
func (m *machine) SessionID() string { return m.sessionID }

// Snapshot captures the fields common to every machine's Snapshot(), for
// embedding in each concrete machine's own snapshot value. Exported so
// that an embedding anonymous field stays visible to
// journal.Serializer.Freeze's reflection walk, which skips unexported
// fields (including anonymous ones named after an unexported type).
type Snapshot struct {
	ProtocolType string `msgpack:"protocol_type"`
	ProtocolID   string `msgpack:"protocol_id"`
	SessionID    string `msgpack:"session_id"`
	State        State  `msgpack:"state"`
}

func (m *machine) baseSnapshot() Snapshot {
	return Snapshot{
		ProtocolType: m.protocolType,
		ProtocolID:   m.protocolID,
		SessionID:    m.sessionID,
		State:        m.currentState(),
	}
}

func (m *machine) currentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *machine) isTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminal
}

// transition moves the machine to next, returning false without effect
// if the machine already terminated (spec §4.3: "a cancellation or grant
// arriving after the machine has already terminated is ignored").
func (m *machine) transition(next State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminal {
		return false
	}
	m.state = next
	return true
}

// scheduleExpiration arms a one-shot timer that calls onExpire if it
// fires before the machine reaches a terminal state. Calling it again
// replaces any previously armed timer.
func (m *machine) scheduleExpiration(d time.Duration, onExpire func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(d, onExpire)
}

// cancelTimer stops the expiration timer, if any, without affecting state.
func (m *machine) cancelTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// terminate stops the expiration timer, marks the machine terminal, sets
// its final state, and tells the host to drop this listener. It is safe
// to call more than once; only the first call has effect.
func (m *machine) terminate(final State) {
	m.terminateWithHook(final, nil)
}

// terminateWithHook is terminate, plus onTerminal, which runs exactly
// once — after the state is set terminal but before the listener is
// unregistered — and only on the call that actually wins the race to
// terminate. Used by Task to run its expired() hook exactly once.
func (m *machine) terminateWithHook(final State, onTerminal func()) {
	m.mu.Lock()
	if m.terminal {
		m.mu.Unlock()
		return
	}
	m.terminal = true
	m.state = final
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
	if onTerminal != nil {
		onTerminal()
	}
	m.host.UnregisterListener(m.sessionID)
}

// expirationDeadline turns a relative duration into the absolute unix
// second stamp wireproto.Message.ExpirationTime expects.
func expirationDeadline(now time.Time, d time.Duration) int64 {
	return now.Add(d).Unix()
}

// replyRecipient is a small convenience over the common one-recipient
// case (replying to the message's reply_to).
func replyRecipient(msg wireproto.Message) []wireproto.Recipient {
	if msg.ReplyTo == nil {
		return nil
	}
	return []wireproto.Recipient{*msg.ReplyTo}
}

// recordedNow captures host.Now() as a named "get_time" side effect in r
// (spec §4.4: "named side effects: time, random, descriptor copy,
// messaging calls"), so replaying r's stored effects can substitute the
// recorded timestamp instead of reading the clock again.
func recordedNow(r *journal.EffectRecorder, host medium.HostMedium) time.Time {
	result, err := journal.Recorded(r, "get_time", nil, func() time.Time { return host.Now() })
	if err != nil {
		// Only reachable in replay mode, with a missing or mismatched
		// recorded effect — there is no live fallback to substitute, so
		// this surfaces immediately rather than silently faking a time.
		panic(err)
	}
	return result
}

// sendArgs is the recorded input half of a "send_msg" effect.
type sendArgs struct {
	Recipients []wireproto.Recipient
	Handover   bool
}

type sendResult struct {
	Msg wireproto.Message
	Err error
}

// recordedSend captures host.SendMsg as a named "send_msg" side effect
// in r.
func recordedSend(r *journal.EffectRecorder, host medium.HostMedium, recipients []wireproto.Recipient, msg wireproto.Message, handover bool) (wireproto.Message, error) {
	res, err := journal.Recorded(r, "send_msg", sendArgs{Recipients: recipients, Handover: handover}, func() sendResult {
		sent, sendErr := host.SendMsg(recipients, msg, handover)
		return sendResult{Msg: sent, Err: sendErr}
	})
	if err != nil {
		panic(err)
	}
	return res.Msg, res.Err
}

package medium

import (
	"time"

	"github.com/corvid-systems/agency/internal/journal"
	"github.com/corvid-systems/agency/internal/wireproto"
)

// HostMedium is the narrow surface a Protocol Machine needs from its
// owning Medium: sending messages, registering/unregistering itself as a
// listener, reading the time, and recording protocol lifecycle journal
// entries. Package protocol depends only on this interface, never on
// *Medium directly, so the two packages don't import each other.
type HostMedium interface {
	// SendMsg publishes msg to every recipient, stamping reply_to/
	// message_id unless handover is true (spec §4.2).
	SendMsg(recipients []wireproto.Recipient, msg wireproto.Message, handover bool) (wireproto.Message, error)

	// RegisterListener adds l under its session id. Returns
	// ErrDuplicateSession if that session id is already registered.
	RegisterListener(l Listener) error

	// UnregisterListener removes l and records its protocol_deleted
	// journal entry.
	UnregisterListener(sessionID string)

	// Now returns the Medium's current time from the Agency's time source.
	// It is not recorded by itself; protocol machines record it as a
	// get_time side effect through Effects().
	Now() time.Time

	// AgentID returns the owning agent's doc_id, used as the journal
	// agent_id for every entry this listener's calls produce.
	AgentID() string

	// JournalProtocolCreated records a protocol_created entry for a
	// newly-constructed listener, folding in any side effects (get_time,
	// send_msg) gathered while constructing it, so replay can substitute
	// their recorded results instead of calling them live.
	JournalProtocolCreated(input any, effects []journal.Effect)

	// Effects returns a fresh record-mode EffectRecorder, used by protocol
	// machines to capture get_time/send_msg calls as named side effects.
	Effects() *journal.EffectRecorder
}

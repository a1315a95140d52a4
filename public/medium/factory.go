package medium

import "github.com/corvid-systems/agency/internal/wireproto"

// InterestType distinguishes public interests (which hold a broker
// binding) from private ones (spec §3: "A public interest holds a broker
// binding on protocol_id; a private interest holds none.").
type InterestType int

const (
	InterestPublic InterestType = iota
	InterestPrivate
)

// InitiatorFactory adapts an agent-supplied protocol factory into a
// constructor for the initiator-side Listener plus the agent-visible
// initiator object, matching spec §4.2's `initiate_protocol(factory,
// recipients, args…)`. Concrete implementations live in package
// protocol (ContractManagerFactory, RequestInitiatorFactory,
// TaskFactory); Medium only depends on this narrow interface so the two
// packages don't import each other.
type InitiatorFactory interface {
	// ProtocolType names the protocol family this factory starts
	// (e.g. "contract-net", "request", a task's own type name).
	ProtocolType() string

	// NewInitiator constructs the initiator-side Listener and the
	// agent-visible initiator object, and kicks off its lifecycle
	// (sends the opening message, schedules the task, etc).
	NewInitiator(host HostMedium, recipients []wireproto.Recipient, args ...any) (Listener, any, error)
}

// InterestFactory adapts an agent-supplied protocol factory into a
// constructor for the interested side of a protocol, matching spec
// §4.2's `register_interest(factory)`.
type InterestFactory interface {
	ProtocolType() string
	ProtocolID() string
	InterestType() InterestType

	// Matches reports whether msg's message class opens a new
	// conversation of this factory's protocol (e.g. an Announcement for
	// a contract, a Request for a request protocol).
	Matches(msg wireproto.Message) bool

	// NewInterested constructs the interested-side Listener in response
	// to the first message of a new conversation.
	NewInterested(host HostMedium, msg wireproto.Message) (Listener, error)
}

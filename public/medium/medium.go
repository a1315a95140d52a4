package medium

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/corvid-systems/agency/internal/agencyerr"
	"github.com/corvid-systems/agency/internal/broker"
	"github.com/corvid-systems/agency/internal/journal"
	"github.com/corvid-systems/agency/internal/wireproto"
)

// Interest is a registered willingness to take part in a protocol,
// matching spec §4.2's "register_interest(factory)". A public interest
// holds a broker binding on (protocol_id, shard) so it can be matched
// against inbound broadcast messages (announcements, requests) that open
// a new conversation; a private interest holds none and only ever
// matches messages addressed straight to this agent.
type Interest struct {
	factory InterestFactory
	binding broker.Binding // nil for InterestPrivate
}

// Revoke releases the interest's broker binding, if any. Safe to call
// more than once.
func (i *Interest) Revoke() {
	if i.binding != nil {
		i.binding.Revoke()
	}
}

// Medium is the per-agent supervisor described in spec §4.2: it owns one
// agent's descriptor, dispatches inbound messages to the right listener
// or interest, and is the sole place new protocol instances (initiator
// or interested side) are constructed and registered.
type Medium struct {
	agentID string
	log     *logrus.Entry
	now     func() time.Time

	sink       journal.Sink
	serializer *journal.Serializer
	registry   *journal.Registry
	metrics    *journal.Metrics

	connFactory broker.ConnectionFactory
	channel     broker.Channel
	shardMu     sync.Mutex
	shard       string
	shardBind   broker.Binding

	descMu     sync.RWMutex
	descriptor wireproto.Descriptor

	listenersMu sync.Mutex
	listeners   map[string]Listener

	interestsMu sync.Mutex
	interests   []*Interest
}

// Deps bundles the shared agency-owned collaborators a Medium needs,
// avoiding a constructor with an ever-growing positional parameter list.
type Deps struct {
	ConnFactory broker.ConnectionFactory
	Sink        journal.Sink
	Serializer  *journal.Serializer
	Registry    *journal.Registry
	Metrics     *journal.Metrics
	Now         func() time.Time
	Log         *logrus.Entry
}

// New constructs a Medium for the given agent descriptor. It does not
// join a shard or register any interest on its own; the owning Agency
// joins the shard once the agent's Initiate hook has run, and interests
// are registered by the agent itself.
func New(desc wireproto.Descriptor, deps Deps) *Medium {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Medium{
		agentID:     desc.DocID,
		log:         log.WithField("agent_id", desc.DocID),
		now:         now,
		sink:        deps.Sink,
		serializer:  deps.Serializer,
		registry:    deps.Registry,
		metrics:     deps.Metrics,
		connFactory: deps.ConnFactory,
		descriptor:  desc.Clone(),
		listeners:   make(map[string]Listener),
	}
	m.channel = deps.ConnFactory.GetConnection(m)
	return m
}

// AgentID implements HostMedium.
func (m *Medium) AgentID() string { return m.agentID }

// Now implements HostMedium.
func (m *Medium) Now() time.Time { return m.now() }

// Descriptor returns a copy of the agent's current descriptor.
func (m *Medium) Descriptor() wireproto.Descriptor {
	m.descMu.RLock()
	defer m.descMu.RUnlock()
	return m.descriptor.Clone()
}

// UpdateDescriptor replaces the agent's descriptor (spec §4.2
// "update_descriptor"), e.g. after the agent's backing document is saved
// and its rev advances.
func (m *Medium) UpdateDescriptor(desc wireproto.Descriptor) {
	m.descMu.Lock()
	defer m.descMu.Unlock()
	m.descriptor = desc.Clone()
}

// JoinShard creates the Medium's own personal binding on (agent_id,
// shard), so messages addressed directly to this agent by key are
// delivered regardless of which listener or interest should ultimately
// handle them.
func (m *Medium) JoinShard(shard string) error {
	m.shardMu.Lock()
	defer m.shardMu.Unlock()
	if m.shardBind != nil {
		m.shardBind.Revoke()
	}
	bind, err := m.channel.PersonalBinding(m.agentID, shard)
	if err != nil {
		return err
	}
	m.shard = shard
	m.shardBind = bind
	return nil
}

// LeaveShard revokes the Medium's personal binding, idempotently.
func (m *Medium) LeaveShard() {
	m.shardMu.Lock()
	defer m.shardMu.Unlock()
	if m.shardBind != nil {
		m.shardBind.Revoke()
		m.shardBind = nil
	}
	m.shard = ""
}

// RegisterListener implements HostMedium: adds l under its session id.
func (m *Medium) RegisterListener(l Listener) error {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	id := l.SessionID()
	if _, exists := m.listeners[id]; exists {
		return agencyerr.ErrDuplicateSession
	}
	m.listeners[id] = l
	return nil
}

// UnregisterListener implements HostMedium: removes l and records its
// protocol_deleted journal entry.
func (m *Medium) UnregisterListener(sessionID string) {
	m.listenersMu.Lock()
	l, ok := m.listeners[sessionID]
	if ok {
		delete(m.listeners, sessionID)
	}
	m.listenersMu.Unlock()
	if !ok {
		return
	}
	if m.registry != nil {
		m.registry.Unregister(sessionID)
	}
	m.writeAgencyEntry("protocol_deleted", l.Snapshot(), nil)
}

// JournalProtocolCreated implements HostMedium.
func (m *Medium) JournalProtocolCreated(input any, effects []journal.Effect) {
	m.writeAgencyEntry("protocol_created", input, effects)
}

// Effects implements HostMedium. Each call returns a new record-mode
// recorder; the caller is responsible for folding the resulting
// Effects() into the Entry it appends.
func (m *Medium) Effects() *journal.EffectRecorder {
	return journal.NewRecordingEffectRecorder()
}

func (m *Medium) writeAgencyEntry(label string, input any, effects []journal.Effect) {
	if m.sink == nil {
		return
	}
	_, section := journal.Enter(context.Background(), label)
	defer section.Abort()

	frozenInput := input
	var frozenEffects any = effects
	if m.serializer != nil {
		frozenInput = m.serializer.Freeze(input)
		frozenEffects = m.serializer.Freeze(effects)
	}
	entry := journal.Entry{
		AgentID:     m.agentID,
		InstanceID:  journal.AgencyInstanceID,
		EntryID:     uuid.NewString(),
		FiberID:     section.Descriptor.FiberID,
		FiberDepth:  section.Descriptor.Depth,
		Input:       frozenInput,
		SideEffects: frozenEffects,
		Output:      label,
	}
	m.sink.Append(entry)
	if m.metrics != nil {
		m.metrics.Observe(entry)
	}
}

// SendMsg implements HostMedium: publishes msg to every recipient. Unless
// handover is true, it stamps a fresh message_id and sets reply_to to
// this agent's own (agent_id, shard) so a response can be routed back,
// matching spec §4.2's send_msg semantics.
func (m *Medium) SendMsg(recipients []wireproto.Recipient, msg wireproto.Message, handover bool) (wireproto.Message, error) {
	if !handover {
		msg.MessageID = wireproto.NewMessageID()
		m.shardMu.Lock()
		shard := m.shard
		m.shardMu.Unlock()
		msg.ReplyTo = &wireproto.Recipient{Key: m.agentID, Shard: shard}
	}
	for _, r := range recipients {
		if err := m.channel.Publish(r.Key, r.Shard, msg); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

// RegisterInterest implements spec §4.2's register_interest: if the
// factory is public, it takes a broker binding on (protocol_id, shard)
// so broadcast announcements/requests opening a new conversation reach
// this Medium. A private interest never binds; it only ever matches
// messages that reach this Medium through its other bindings.
func (m *Medium) RegisterInterest(factory InterestFactory) (*Interest, error) {
	m.interestsMu.Lock()
	for _, existing := range m.interests {
		if existing.factory.ProtocolType() == factory.ProtocolType() &&
			existing.factory.ProtocolID() == factory.ProtocolID() {
			m.interestsMu.Unlock()
			return nil, agencyerr.ErrDuplicateInterest
		}
	}
	m.interestsMu.Unlock()

	interest := &Interest{factory: factory}
	if factory.InterestType() == InterestPublic {
		m.shardMu.Lock()
		shard := m.shard
		m.shardMu.Unlock()
		bind, err := m.channel.PersonalBinding(factory.ProtocolID(), shard)
		if err != nil {
			return nil, err
		}
		interest.binding = bind
	}

	m.interestsMu.Lock()
	m.interests = append(m.interests, interest)
	m.interestsMu.Unlock()
	return interest, nil
}

// UnregisterInterest revokes and removes interest, idempotently.
func (m *Medium) UnregisterInterest(interest *Interest) {
	interest.Revoke()
	m.interestsMu.Lock()
	defer m.interestsMu.Unlock()
	for i, cur := range m.interests {
		if cur == interest {
			m.interests = append(m.interests[:i], m.interests[i+1:]...)
			return
		}
	}
}

// InitiateProtocol implements spec §4.2's initiate_protocol: constructs
// the initiator-side listener via factory, registers it, and returns the
// agent-visible initiator object factory handed back.
func (m *Medium) InitiateProtocol(factory InitiatorFactory, recipients []wireproto.Recipient, args ...any) (any, error) {
	listener, agentSide, err := factory.NewInitiator(m, recipients, args...)
	if err != nil {
		return nil, err
	}
	if err := m.RegisterListener(listener); err != nil {
		return nil, err
	}
	return agentSide, nil
}

// OnMessage implements broker.Owner: the dispatch order from spec §4.2 —
// drop expired messages, route by receiver_id to a live listener, else
// try every registered interest in turn, else discard and log.
func (m *Medium) OnMessage(msg wireproto.Message) bool {
	if msg.IsExpired(m.Now()) {
		m.log.WithField("message_id", msg.MessageID).Debug("dropping expired inbound message")
		return false
	}

	if msg.ReceiverID != "" {
		m.listenersMu.Lock()
		l, ok := m.listeners[msg.ReceiverID]
		m.listenersMu.Unlock()
		if ok {
			if done := l.OnMessage(msg); done {
				m.UnregisterListener(msg.ReceiverID)
			}
			return true
		}
		m.log.WithField("receiver_id", msg.ReceiverID).
			Debug("no live listener for receiver_id; trying interests")
	}

	m.interestsMu.Lock()
	interests := append([]*Interest(nil), m.interests...)
	m.interestsMu.Unlock()

	for _, interest := range interests {
		if !interest.factory.Matches(msg) {
			continue
		}
		listener, err := interest.factory.NewInterested(m, msg)
		if err != nil {
			m.log.WithError(err).WithField("protocol_type", interest.factory.ProtocolType()).
				Warn("interested-side construction failed")
			return false
		}
		if err := m.RegisterListener(listener); err != nil {
			m.log.WithError(err).Warn("failed to register interested-side listener")
			return false
		}
		return true
	}

	m.log.WithField("message_id", msg.MessageID).
		Debug("dropping message that matched no listener or interest")
	return false
}

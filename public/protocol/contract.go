package protocol

import (
	"sync"
	"time"

	"github.com/corvid-systems/agency/internal/wireproto"
	"github.com/corvid-systems/agency/public/medium"
)

// Contract-net states, spec §3/§4.3.
const (
	ContractAnnounced State = "announced"
	ContractClosed    State = "closed" // a bid has been granted; awaiting final report
	ContractCompleted State = "completed"
	ContractRejected  State = "rejected"
	ContractRefused   State = "refused"
	ContractCancelled State = "cancelled"
	ContractExpired   State = "expired"
)

// ContractManagerFactory starts the initiator side of a contract-net
// exchange (spec §4.2 initiate_protocol with a contract-net factory).
type ContractManagerFactory struct {
	ProtoType string
	Timeout   time.Duration
}

func (f ContractManagerFactory) ProtocolType() string { return f.ProtoType }

// NewInitiator constructs a ContractManager, sends the Announcement to
// every recipient, and arms the contract's expiration timer.
func (f ContractManagerFactory) NewInitiator(host medium.HostMedium, recipients []wireproto.Recipient, args ...any) (medium.Listener, any, error) {
	var payload []byte
	if len(args) > 0 {
		if b, ok := args[0].([]byte); ok {
			payload = b
		}
	}
	protocolID := wireproto.NewSessionID()
	cm := &ContractManager{
		machine: newMachine(host, f.ProtoType, protocolID, wireproto.NewSessionID(), ContractAnnounced),
		bids:    make(map[string]wireproto.Message),
	}

	effects := host.Effects()
	announce := wireproto.Message{
		ProtocolType:   f.ProtoType,
		ProtocolID:     protocolID,
		MessageClass:   wireproto.ClassAnnouncement,
		ExpirationTime: expirationDeadline(recordedNow(effects, host), f.Timeout),
		Payload:        payload,
	}
	if _, err := recordedSend(effects, host, recipients, announce, false); err != nil {
		return nil, nil, err
	}

	host.JournalProtocolCreated(announce, effects.Effects())
	cm.scheduleExpiration(f.Timeout, func() { cm.onExpire() })
	return cm, cm, nil
}

// ContractManager is the agent-visible and listener object for the
// initiator side of a contract-net exchange: it collects bids and
// refusals, and lets the embedding agent grant one of them.
type ContractManager struct {
	machine

	mu      sync.Mutex
	bids    map[string]wireproto.Message // bidder key -> latest bid (last write wins)
	granted string
}

// Bids returns a snapshot of every bidder currently holding the most
// recent bid they sent.
func (c *ContractManager) Bids() map[string]wireproto.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]wireproto.Message, len(c.bids))
	for k, v := range c.bids {
		out[k] = v
	}
	return out
}

// OnMessage implements medium.Listener.
func (c *ContractManager) OnMessage(msg wireproto.Message) bool {
	switch msg.MessageClass {
	case wireproto.ClassBid:
		if c.currentState() != ContractAnnounced {
			return false
		}
		c.mu.Lock()
		if msg.ReplyTo != nil {
			c.bids[msg.ReplyTo.Key] = msg // duplicate bids overwrite: last write wins
		}
		c.mu.Unlock()
		return false
	case wireproto.ClassRefusal:
		if msg.ReplyTo != nil {
			c.mu.Lock()
			delete(c.bids, msg.ReplyTo.Key)
			c.mu.Unlock()
		}
		return false
	case wireproto.ClassFinalReport:
		if c.currentState() != ContractClosed {
			return false // a report arriving before any grant is stale; the sender is not checked
		}
		c.terminate(ContractCompleted)
		return true
	case wireproto.ClassCancellation:
		c.terminate(ContractCancelled)
		return true
	default:
		return false
	}
}

// Grant accepts bidder's bid: sends it a Grant, sends every other known
// bidder a Rejection, and moves the manager into ContractClosed to await
// the final report. Calling Grant after the manager already terminated
// is a no-op, matching spec §4.3's "grant after the contract has already
// been refused/expired is ignored."
func (c *ContractManager) Grant(bidderKey, bidderShard string) error {
	return c.grant(bidderKey, bidderShard, false)
}

// GrantToManager grants the contract to a bidder that is itself another
// contract manager: the Grant is sent with handover=true, so it carries
// this manager's in-flight state across to the recipient without a fresh
// message_id or reply_to being stamped onto it (spec §4.3: "a Grant whose
// recipient designates another manager transfers state with
// handover=true"). The caller decides whether a given bidder is a manager;
// that can't be inferred from the bid alone.
func (c *ContractManager) GrantToManager(managerKey, managerShard string) error {
	return c.grant(managerKey, managerShard, true)
}

func (c *ContractManager) grant(recipientKey, recipientShard string, handover bool) error {
	if !c.transition(ContractClosed) {
		return nil
	}
	c.mu.Lock()
	c.granted = recipientKey
	others := make([]wireproto.Recipient, 0, len(c.bids))
	for key, bid := range c.bids {
		if key == recipientKey {
			continue
		}
		if bid.ReplyTo != nil {
			others = append(others, *bid.ReplyTo)
		}
	}
	c.mu.Unlock()

	grant := wireproto.Message{
		ProtocolType: c.protocolType,
		ProtocolID:   c.protocolID,
		MessageClass: wireproto.ClassGrant,
	}
	if _, err := c.host.SendMsg([]wireproto.Recipient{{Key: recipientKey, Shard: recipientShard}}, grant, handover); err != nil {
		return err
	}
	if len(others) > 0 {
		rejection := wireproto.Message{
			ProtocolType: c.protocolType,
			ProtocolID:   c.protocolID,
			MessageClass: wireproto.ClassRejection,
		}
		_, _ = c.host.SendMsg(others, rejection, false)
	}
	return nil
}

func (c *ContractManager) onExpire() {
	c.terminate(ContractExpired)
}

// AgentSide implements medium.Listener.
func (c *ContractManager) AgentSide() any { return c }

// Snapshot implements medium.Listener.
func (c *ContractManager) Snapshot() any {
	c.mu.Lock()
	granted := c.granted
	bidders := make([]string, 0, len(c.bids))
	for k := range c.bids {
		bidders = append(bidders, k)
	}
	c.mu.Unlock()
	return struct {
		Snapshot
		Granted string   `msgpack:"granted"`
		Bidders []string `msgpack:"bidders"`
	}{c.baseSnapshot(), granted, bidders}
}

// ContractContractorFactory constructs the interested side of a
// contract-net exchange: it matches inbound Announcements and lets the
// embedding agent decide whether to bid or refuse.
type ContractContractorFactory struct {
	ProtoType  string
	ProtoID    string
	Interest   medium.InterestType
	Timeout    time.Duration
}

func (f ContractContractorFactory) ProtocolType() string          { return f.ProtoType }
func (f ContractContractorFactory) ProtocolID() string            { return f.ProtoID }
func (f ContractContractorFactory) InterestType() medium.InterestType { return f.Interest }

func (f ContractContractorFactory) Matches(msg wireproto.Message) bool {
	return msg.MessageClass == wireproto.ClassAnnouncement && msg.ProtocolType == f.ProtoType
}

// NewInterested constructs the Contractor in response to msg, which must
// be the opening Announcement.
func (f ContractContractorFactory) NewInterested(host medium.HostMedium, msg wireproto.Message) (medium.Listener, error) {
	c := &Contractor{
		machine: newMachine(host, msg.ProtocolType, msg.ProtocolID, wireproto.NewSessionID(), ContractAnnounced),
		manager: msg.ReplyTo,
	}
	host.JournalProtocolCreated(msg, nil)
	c.scheduleExpiration(f.Timeout, func() { c.onExpire() })
	return c, nil
}

// Contractor is the agent-visible and listener object for the interested
// side of a contract-net exchange.
type Contractor struct {
	machine
	manager *wireproto.Recipient
}

// Bid sends a Bid back to the manager.
func (c *Contractor) Bid(payload []byte) error {
	if c.currentState() != ContractAnnounced || c.manager == nil {
		return nil
	}
	bid := wireproto.Message{
		ProtocolType: c.protocolType,
		ProtocolID:   c.protocolID,
		MessageClass: wireproto.ClassBid,
		Payload:      payload,
	}
	_, err := c.host.SendMsg([]wireproto.Recipient{*c.manager}, bid, false)
	return err
}

// Refuse sends a Refusal back to the manager and terminates.
func (c *Contractor) Refuse() error {
	if !c.transition(ContractRefused) {
		return nil
	}
	refusal := wireproto.Message{
		ProtocolType: c.protocolType,
		ProtocolID:   c.protocolID,
		MessageClass: wireproto.ClassRefusal,
	}
	_, err := c.host.SendMsg(replyRecipientPtr(c.manager), refusal, false)
	c.terminate(ContractRefused)
	return err
}

// Complete sends the FinalReport and terminates.
func (c *Contractor) Complete(report []byte) error {
	if c.currentState() != ContractClosed {
		return nil
	}
	final := wireproto.Message{
		ProtocolType: c.protocolType,
		ProtocolID:   c.protocolID,
		MessageClass: wireproto.ClassFinalReport,
		Payload:      report,
	}
	_, err := c.host.SendMsg(replyRecipientPtr(c.manager), final, false)
	c.terminate(ContractCompleted)
	return err
}

// OnMessage implements medium.Listener.
func (c *Contractor) OnMessage(msg wireproto.Message) bool {
	switch msg.MessageClass {
	case wireproto.ClassGrant:
		return !c.transition(ContractClosed) // only move forward; no termination
	case wireproto.ClassRejection:
		c.terminate(ContractRejected)
		return true
	case wireproto.ClassCancellation:
		c.terminate(ContractCancelled)
		return true
	default:
		return false
	}
}

func (c *Contractor) onExpire() {
	c.terminate(ContractExpired)
}

// AgentSide implements medium.Listener.
func (c *Contractor) AgentSide() any { return c }

// Snapshot implements medium.Listener.
func (c *Contractor) Snapshot() any { return c.baseSnapshot() }

func replyRecipientPtr(r *wireproto.Recipient) []wireproto.Recipient {
	if r == nil {
		return nil
	}
	return []wireproto.Recipient{*r}
}

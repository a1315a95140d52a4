// Package wireproto defines the wire-agnostic message schema and the
// document descriptor layout consumed by the agency core. Every message
// exchanged between agents carries the fields described here regardless
// of which Broker Connection transport eventually carries it.
package wireproto

import (
	"time"

	"github.com/google/uuid"
)

// MessageClass distinguishes the concrete protocol message types carried
// inside a Message's Payload so an Agent Medium can match interests and
// a Protocol Machine can dispatch on receipt.
type MessageClass string

const (
	ClassAnnouncement MessageClass = "announcement"
	ClassBid          MessageClass = "bid"
	ClassRefusal      MessageClass = "refusal"
	ClassGrant        MessageClass = "grant"
	ClassRejection    MessageClass = "rejection"
	ClassCancellation MessageClass = "cancellation"
	ClassFinalReport  MessageClass = "final_report"
	ClassRequest      MessageClass = "request"
	ClassResponse     MessageClass = "response"
)

// Recipient identifies a routing destination: a key within a shard.
// Personal bindings are created on (Key, Shard); publishing addresses a
// recipient the same way.
type Recipient struct {
	Key   string
	Shard string
}

// Message is the wire-agnostic envelope every agent-to-agent exchange
// uses. ProtocolType/ProtocolID/MessageID/ReceiverID/ReplyTo/
// ExpirationTime/Payload match §6 of the specification verbatim.
type Message struct {
	ProtocolType   string       `msgpack:"protocol_type"`
	ProtocolID     string       `msgpack:"protocol_id"`
	MessageID      string       `msgpack:"message_id"`
	MessageClass   MessageClass `msgpack:"message_class"`
	ReceiverID     string       `msgpack:"receiver_id,omitempty"`
	ReplyTo        *Recipient   `msgpack:"reply_to,omitempty"`
	ExpirationTime int64        `msgpack:"expiration_time"` // absolute unix seconds
	Payload        []byte       `msgpack:"payload"`
}

// NewMessageID returns a fresh unique message identifier.
func NewMessageID() string {
	return uuid.NewString()
}

// NewSessionID returns a fresh unique session identifier for a listener.
func NewSessionID() string {
	return uuid.NewString()
}

// IsExpired reports whether the message's expiration has passed as of now.
func (m Message) IsExpired(now time.Time) bool {
	return m.ExpirationTime < now.Unix()
}

// Descriptor identifies an agent document: unique doc id, opaque document
// type (used to resolve the owning AgentFactory), shard (routing
// partition) and rev (revision, "<index>-<hash>").
type Descriptor struct {
	DocID        string                 `msgpack:"doc_id"`
	Rev          string                 `msgpack:"rev"`
	DocumentType string                 `msgpack:"document_type"`
	Shard        string                 `msgpack:"shard"`
	Payload      map[string]interface{} `msgpack:"payload,omitempty"`
}

// Clone returns a deep-enough copy of the descriptor suitable for the
// descriptor_clone side effect, which must never let callers mutate the
// Medium's own copy.
func (d Descriptor) Clone() Descriptor {
	clone := d
	if d.Payload != nil {
		clone.Payload = make(map[string]interface{}, len(d.Payload))
		for k, v := range d.Payload {
			clone.Payload[k] = v
		}
	}
	return clone
}

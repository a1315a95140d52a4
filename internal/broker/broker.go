// Package broker implements the Broker Connection consumed by the agency
// core (spec §6: "Broker / Connection Factory"). The wire transport
// itself is an external collaborator and out of scope; this package
// provides the interface the core depends on plus an in-memory reference
// implementation used for embedding and for tests, grounded on the
// publish/subscribe and personal-binding model of the GOX broker service.
package broker

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/corvid-systems/agency/internal/wireproto"
)

// Owner is implemented by anything that can receive delivered messages
// (an Agent Medium, in practice). Matches the "on_message(message) ->
// bool" consumed capability from spec §6.
type Owner interface {
	OnMessage(msg wireproto.Message) bool
}

// Binding represents a personal binding on (key, shard). Revoking it is
// idempotent.
type Binding interface {
	Key() string
	Shard() string
	Revoke()
}

// Channel is the per-owner handle into the broker: publish messages,
// create or enumerate personal bindings.
type Channel interface {
	Publish(key, shard string, msg wireproto.Message) error
	PersonalBinding(key, shard string) (Binding, error)
	GetBindings(shard string) []Binding
}

// ConnectionFactory resolves a Channel for a given Owner, matching
// spec §6's "get_connection(owner) -> Channel".
type ConnectionFactory interface {
	GetConnection(owner Owner) Channel
}

// dispatchQueueSize bounds how many undelivered messages a single owner's
// dispatch goroutine will buffer before Publish blocks.
const dispatchQueueSize = 256

// InMemory is a process-local broker: publishing on (key, shard) delivers
// to every owner bound to that exact key+shard pair through a single
// serialized dispatch goroutine per owner, so messages to the same
// listener are always processed in broker-delivery order. It has no
// network surface; it exists so the agency core can be exercised and
// tested without a real broker.
type InMemory struct {
	log *logrus.Entry

	mu       sync.RWMutex
	bindings map[string][]*inMemBinding // "shard\x00key" -> bindings

	queueMu sync.Mutex
	queues  map[Owner]chan wireproto.Message
}

// NewInMemory constructs an empty in-memory broker.
func NewInMemory(log *logrus.Entry) *InMemory {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &InMemory{
		log:      log.WithField("component", "broker.in_memory"),
		bindings: make(map[string][]*inMemBinding),
		queues:   make(map[Owner]chan wireproto.Message),
	}
}

// queueFor returns owner's dispatch queue, starting its dispatch goroutine
// the first time owner is seen. Every message published to owner, however
// it was routed, goes through this single channel, so delivery to a given
// owner is always in publish order.
func (b *InMemory) queueFor(owner Owner) chan wireproto.Message {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	q, ok := b.queues[owner]
	if !ok {
		q = make(chan wireproto.Message, dispatchQueueSize)
		b.queues[owner] = q
		go b.dispatchLoop(owner, q)
	}
	return q
}

// dispatchLoop is the one goroutine that ever calls owner.OnMessage,
// draining q in order. deliver recovers any panic so a single bad message
// can't take down the process.
func (b *InMemory) dispatchLoop(owner Owner, q chan wireproto.Message) {
	for msg := range q {
		b.deliver(owner, msg)
	}
}

func (b *InMemory) deliver(owner Owner, msg wireproto.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("message_id", msg.MessageID).
				WithField("panic", r).
				Error("recovered panic from owner.OnMessage")
		}
	}()
	owner.OnMessage(msg)
}

func routeKey(key, shard string) string { return shard + "\x00" + key }

type inMemChannel struct {
	b     *InMemory
	owner Owner
}

type inMemBinding struct {
	b       *InMemory
	owner   Owner
	key     string
	shard   string
	revoked bool
}

func (bd *inMemBinding) Key() string   { return bd.key }
func (bd *inMemBinding) Shard() string { return bd.shard }

func (bd *inMemBinding) Revoke() {
	bd.b.mu.Lock()
	defer bd.b.mu.Unlock()
	if bd.revoked {
		return
	}
	bd.revoked = true
	rk := routeKey(bd.key, bd.shard)
	list := bd.b.bindings[rk]
	for i, cur := range list {
		if cur == bd {
			bd.b.bindings[rk] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(bd.b.bindings[rk]) == 0 {
		delete(bd.b.bindings, rk)
	}
}

// GetConnection implements ConnectionFactory. It eagerly starts owner's
// dispatch goroutine so the first Publish targeting it never races the
// queue's creation.
func (b *InMemory) GetConnection(owner Owner) Channel {
	b.queueFor(owner)
	return &inMemChannel{b: b, owner: owner}
}

func (c *inMemChannel) Publish(key, shard string, msg wireproto.Message) error {
	c.b.mu.RLock()
	targets := append([]*inMemBinding(nil), c.b.bindings[routeKey(key, shard)]...)
	c.b.mu.RUnlock()

	if len(targets) == 0 {
		c.b.log.WithFields(logrus.Fields{"key": key, "shard": shard}).
			Debug("publish: no bound listeners")
		return nil
	}
	for _, t := range targets {
		c.b.queueFor(t.owner) <- msg
	}
	return nil
}

func (c *inMemChannel) PersonalBinding(key, shard string) (Binding, error) {
	if key == "" {
		return nil, fmt.Errorf("broker: personal binding requires a non-empty key")
	}
	bd := &inMemBinding{b: c.b, owner: c.owner, key: key, shard: shard}
	c.b.mu.Lock()
	rk := routeKey(key, shard)
	c.b.bindings[rk] = append(c.b.bindings[rk], bd)
	c.b.mu.Unlock()
	return bd, nil
}

func (c *inMemChannel) GetBindings(shard string) []Binding {
	c.b.mu.RLock()
	defer c.b.mu.RUnlock()
	var out []Binding
	for _, list := range c.b.bindings {
		for _, bd := range list {
			if bd.shard == shard {
				out = append(out, bd)
			}
		}
	}
	return out
}

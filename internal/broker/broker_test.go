package broker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-systems/agency/internal/wireproto"
)

type recordingOwner struct {
	mu       sync.Mutex
	received []wireproto.Message
}

func (o *recordingOwner) OnMessage(msg wireproto.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received = append(o.received, msg)
	return false
}

func (o *recordingOwner) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.received)
}

func TestInMemoryPublishDeliversToBoundOwner(t *testing.T) {
	b := NewInMemory(nil)
	owner := &recordingOwner{}
	ch := b.GetConnection(owner)

	_, err := ch.PersonalBinding("agent-1", "shard-a")
	require.NoError(t, err)

	pubCh := b.GetConnection(&recordingOwner{})
	require.NoError(t, pubCh.Publish("agent-1", "shard-a", wireproto.Message{MessageID: "m1"}))

	require.Eventually(t, func() bool { return owner.count() == 1 }, time.Second, time.Millisecond)
}

func TestInMemoryPublishNoBindingIsNoOp(t *testing.T) {
	b := NewInMemory(nil)
	ch := b.GetConnection(&recordingOwner{})
	err := ch.Publish("nobody", "shard-a", wireproto.Message{})
	assert.NoError(t, err)
}

func TestInMemoryGetBindingsReturnsEveryMatchingBinding(t *testing.T) {
	b := NewInMemory(nil)
	ownerA := &recordingOwner{}
	ownerB := &recordingOwner{}
	chA := b.GetConnection(ownerA)
	chB := b.GetConnection(ownerB)

	_, err := chA.PersonalBinding("key-1", "shard-a")
	require.NoError(t, err)
	_, err = chB.PersonalBinding("key-2", "shard-a")
	require.NoError(t, err)
	_, err = chB.PersonalBinding("key-3", "shard-b")
	require.NoError(t, err)

	bindings := chA.GetBindings("shard-a")
	assert.Len(t, bindings, 2, "GetBindings must return every binding on the shard, not just the first per route key")
}

func TestInMemoryPublishDeliversInOrderPerOwner(t *testing.T) {
	b := NewInMemory(nil)
	owner := &recordingOwner{}
	ch := b.GetConnection(owner)
	_, err := ch.PersonalBinding("agent-1", "shard-a")
	require.NoError(t, err)

	pubCh := b.GetConnection(&recordingOwner{})
	for i := 0; i < 50; i++ {
		require.NoError(t, pubCh.Publish("agent-1", "shard-a", wireproto.Message{MessageID: fmt.Sprintf("m%02d", i)}))
	}

	require.Eventually(t, func() bool { return owner.count() == 50 }, time.Second, time.Millisecond)
	owner.mu.Lock()
	defer owner.mu.Unlock()
	for i, msg := range owner.received {
		assert.Equal(t, fmt.Sprintf("m%02d", i), msg.MessageID, "messages to the same owner must arrive in publish order")
	}
}

type panickyOwner struct {
	calls int32
}

func (o *panickyOwner) OnMessage(wireproto.Message) bool {
	atomic.AddInt32(&o.calls, 1)
	panic("boom")
}

func TestInMemoryPublishRecoversOwnerPanic(t *testing.T) {
	b := NewInMemory(nil)
	bad := &panickyOwner{}
	badCh := b.GetConnection(bad)
	_, err := badCh.PersonalBinding("agent-1", "shard-a")
	require.NoError(t, err)

	good := &recordingOwner{}
	goodCh := b.GetConnection(good)
	_, err = goodCh.PersonalBinding("agent-2", "shard-a")
	require.NoError(t, err)

	pubCh := b.GetConnection(&recordingOwner{})
	require.NoError(t, pubCh.Publish("agent-1", "shard-a", wireproto.Message{MessageID: "boom"}))
	require.NoError(t, pubCh.Publish("agent-2", "shard-a", wireproto.Message{MessageID: "fine"}))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&bad.calls) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return good.count() == 1 }, time.Second, time.Millisecond)
}

func TestInMemoryRevokeIsIdempotent(t *testing.T) {
	b := NewInMemory(nil)
	ch := b.GetConnection(&recordingOwner{})
	bind, err := ch.PersonalBinding("agent-1", "shard-a")
	require.NoError(t, err)

	bind.Revoke()
	assert.NotPanics(t, func() { bind.Revoke() })
	assert.Empty(t, ch.GetBindings("shard-a"))
}

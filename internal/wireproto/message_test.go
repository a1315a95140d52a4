package wireproto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageIsExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	msg := Message{ExpirationTime: 999}
	assert.True(t, msg.IsExpired(now))

	msg.ExpirationTime = 1001
	assert.False(t, msg.IsExpired(now))
}

func TestDescriptorCloneIsDeep(t *testing.T) {
	orig := Descriptor{
		DocID:   "doc-1",
		Payload: map[string]interface{}{"k": "v"},
	}
	clone := orig.Clone()
	clone.Payload["k"] = "changed"

	assert.Equal(t, "v", orig.Payload["k"])
	assert.Equal(t, "changed", clone.Payload["k"])
}

func TestNewMessageIDAndSessionIDAreUnique(t *testing.T) {
	assert.NotEqual(t, NewMessageID(), NewMessageID())
	assert.NotEqual(t, NewSessionID(), NewSessionID())
}

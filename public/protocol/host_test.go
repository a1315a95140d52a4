package protocol

import (
	"sync"
	"time"

	"github.com/corvid-systems/agency/internal/journal"
	"github.com/corvid-systems/agency/internal/wireproto"
	"github.com/corvid-systems/agency/public/medium"
)

// fakeHost is a minimal medium.HostMedium double used to exercise the
// protocol state machines without a real Medium or broker.
type fakeHost struct {
	mu        sync.Mutex
	now       time.Time
	sent      []wireproto.Message
	handovers []bool
	listeners map[string]bool
	unregistered []string
	created   []any
	createdEffects [][]journal.Effect
}

func newFakeHost() *fakeHost {
	return &fakeHost{now: time.Unix(1_700_000_000, 0), listeners: map[string]bool{}}
}

func (h *fakeHost) SendMsg(recipients []wireproto.Recipient, msg wireproto.Message, handover bool) (wireproto.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, msg)
	h.handovers = append(h.handovers, handover)
	return msg, nil
}

func (h *fakeHost) RegisterListener(l medium.Listener) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[l.SessionID()] = true
	return nil
}

func (h *fakeHost) UnregisterListener(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.listeners, sessionID)
	h.unregistered = append(h.unregistered, sessionID)
}

func (h *fakeHost) Now() time.Time { return h.now }

func (h *fakeHost) AgentID() string { return "agent-1" }

func (h *fakeHost) JournalProtocolCreated(input any, effects []journal.Effect) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created = append(h.created, input)
	h.createdEffects = append(h.createdEffects, effects)
}

func (h *fakeHost) Effects() *journal.EffectRecorder {
	return journal.NewRecordingEffectRecorder()
}

func (h *fakeHost) sentCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sent)
}

func (h *fakeHost) lastSent() wireproto.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sent[len(h.sent)-1]
}

func (h *fakeHost) lastHandover() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handovers[len(h.handovers)-1]
}

func (h *fakeHost) isRegistered(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listeners[sessionID]
}

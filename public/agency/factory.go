package agency

import (
	"fmt"
	"sync"

	"github.com/corvid-systems/agency/internal/agencyerr"
	"github.com/corvid-systems/agency/public/medium"
)

// Agent is implemented by the embedding application's agent types. Initiate
// runs once, right after the Medium is constructed and before it joins a
// shard or receives any message: it is where an agent registers its
// interests and kicks off its own initiator protocols.
type Agent interface {
	Initiate(m *medium.Medium) error
}

// Stoppable is optionally implemented by an Agent that needs to run
// cleanup before its Medium is torn down (spec §5.1 "stop_agent").
type Stoppable interface {
	Stop(m *medium.Medium) error
}

// AgentFactory constructs an Agent for a document whose document_type the
// factory was registered under.
type AgentFactory func() (Agent, error)

// factories is the static, process-wide mapping from document_type
// to AgentFactory described in SPEC_FULL §5.1's design note: the Python
// original resolves an agent's implementation through a dynamic runtime
// adaptation table; this module instead resolves it once, at factory
// registration time, through a static map keyed by document_type.
var (
	factoryMu sync.RWMutex
	factories = map[string]AgentFactory{}
)

// RegisterFactory associates documentType with factory. Re-registering
// the same document_type is a registry collision, a programming error.
func RegisterFactory(documentType string, factory AgentFactory) error {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, exists := factories[documentType]; exists {
		return fmt.Errorf("agency: document_type %q: %w", documentType, agencyerr.ErrRegistryCollision)
	}
	factories[documentType] = factory
	return nil
}

// resolveFactory looks up the AgentFactory registered for documentType.
func resolveFactory(documentType string) (AgentFactory, error) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	f, ok := factories[documentType]
	if !ok {
		return nil, fmt.Errorf("agency: document_type %q: %w", documentType, agencyerr.ErrUnknownAgentType)
	}
	return f, nil
}

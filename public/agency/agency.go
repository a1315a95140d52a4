// Package agency implements the top-level Agency: the process-local
// registry of running agents and their Mediums, the single owner of the
// Journal sink/serializer/registry, and the static AgentFactory registry
// agents are started from (spec §4.1, §5.1).
package agency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/corvid-systems/agency/internal/agencyerr"
	"github.com/corvid-systems/agency/internal/broker"
	"github.com/corvid-systems/agency/internal/journal"
	"github.com/corvid-systems/agency/internal/wireproto"
	"github.com/corvid-systems/agency/public/medium"
)

// Agency owns every running agent's Medium, the shared journal
// collaborators they're constructed with, and the broker shard agents
// join by default.
type Agency struct {
	log *logrus.Entry
	now func() time.Time

	broker      broker.ConnectionFactory
	sink        journal.Sink
	serializer  *journal.Serializer
	registry    *journal.Registry
	entryMetrics *journal.Metrics
	agentsGauge prometheus.Gauge

	defaultShard string

	mu      sync.Mutex
	mediums map[string]*medium.Medium
	agents  map[string]Agent
}

// Options configures a new Agency. Reg may be nil, in which case
// Prometheus metrics aren't registered.
type Options struct {
	Broker       broker.ConnectionFactory
	Sink         journal.Sink
	Registry     *journal.Registry
	Reg          prometheus.Registerer
	DefaultShard string
	Now          func() time.Time
	Log          *logrus.Entry
}

// New constructs an Agency. The journal Registry doubles as the
// Serializer's Identifier, so recorders registered with it are
// automatically externalized in every journal entry the Agency writes.
func New(opts Options) (*Agency, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("agency: Options.Broker is required")
	}
	reg := opts.Registry
	if reg == nil {
		reg = journal.NewRegistry()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	sink := opts.Sink
	if sink == nil {
		sink = journal.NewMemorySink()
	}
	shard := opts.DefaultShard
	if shard == "" {
		shard = "default"
	}

	a := &Agency{
		log:          log.WithField("component", "agency"),
		now:          now,
		broker:       opts.Broker,
		sink:         sink,
		serializer:   journal.NewSerializer(reg),
		registry:     reg,
		defaultShard: shard,
		mediums:      make(map[string]*medium.Medium),
		agents:       make(map[string]Agent),
	}
	if opts.Reg != nil {
		a.entryMetrics = journal.NewMetrics(opts.Reg)
		a.agentsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agency_active_agents",
			Help: "Number of agents with a live Medium.",
		})
		if err := opts.Reg.Register(a.agentsGauge); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// StartAgent resolves desc.DocumentType's registered AgentFactory,
// constructs its Medium, runs Agent.Initiate, and — only once Initiate
// succeeds — joins the default shard and records an agent_created entry.
// If Initiate fails, the Medium is discarded and an agent_deleted entry
// is recorded instead, so a partially-initiated agent never lingers in
// the registry (an Open Question the spec left unresolved, decided this
// way so start_agent's failure path can't leave a half-registered
// Medium that later looks alive but never joined its shard).
func (a *Agency) StartAgent(desc wireproto.Descriptor) (*medium.Medium, error) {
	factory, err := resolveFactory(desc.DocumentType)
	if err != nil {
		return nil, err
	}
	agent, err := factory()
	if err != nil {
		return nil, err
	}

	m := medium.New(desc, medium.Deps{
		ConnFactory: a.broker,
		Sink:        a.sink,
		Serializer:  a.serializer,
		Registry:    a.registry,
		Metrics:     a.entryMetrics,
		Now:         a.now,
		Log:         a.log,
	})

	if err := agent.Initiate(m); err != nil {
		a.writeAgencyEntry(desc.DocID, "agent_deleted", desc, nil)
		return nil, fmt.Errorf("agency: initiating agent %q: %w", desc.DocID, err)
	}

	if err := m.JoinShard(a.defaultShard); err != nil {
		a.writeAgencyEntry(desc.DocID, "agent_deleted", desc, nil)
		return nil, err
	}

	a.mu.Lock()
	a.mediums[desc.DocID] = m
	a.agents[desc.DocID] = agent
	a.mu.Unlock()
	if a.agentsGauge != nil {
		a.agentsGauge.Inc()
	}

	a.writeAgencyEntry(desc.DocID, "agent_created", desc, nil)
	return m, nil
}

// StopAgent runs the agent's optional Stop hook, leaves its shard, and
// records an agent_deleted entry.
func (a *Agency) StopAgent(docID string) error {
	a.mu.Lock()
	m, ok := a.mediums[docID]
	agent := a.agents[docID]
	if ok {
		delete(a.mediums, docID)
		delete(a.agents, docID)
	}
	a.mu.Unlock()
	if !ok {
		return agencyerr.ErrUnknownAgentType
	}

	var stopErr error
	if s, ok := agent.(Stoppable); ok {
		stopErr = s.Stop(m)
	}
	m.LeaveShard()
	if a.agentsGauge != nil {
		a.agentsGauge.Dec()
	}

	// descriptor_clone is a named side effect (spec §4.4): capture it so
	// replay can substitute the recorded descriptor instead of reading
	// the (by-then-stopped) Medium's live state.
	effects := m.Effects()
	desc, _ := journal.Recorded(effects, "descriptor_clone", nil, func() wireproto.Descriptor { return m.Descriptor() })
	a.writeAgencyEntry(docID, "agent_deleted", desc, effects.Effects())
	return stopErr
}

// Medium returns the running Medium for docID, if any.
func (a *Agency) Medium(docID string) (*medium.Medium, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.mediums[docID]
	return m, ok
}

func (a *Agency) writeAgencyEntry(agentID, label string, input any, effects []journal.Effect) {
	_, section := journal.Enter(context.Background(), label)
	defer section.Abort()

	entry := journal.Entry{
		AgentID:     agentID,
		InstanceID:  journal.AgencyInstanceID,
		EntryID:     uuid.NewString(),
		FiberID:     section.Descriptor.FiberID,
		FiberDepth:  section.Descriptor.Depth,
		Input:       a.serializer.Freeze(input),
		SideEffects: a.serializer.Freeze(effects),
		Output:      label,
	}
	a.sink.Append(entry)
	if a.entryMetrics != nil {
		a.entryMetrics.Observe(entry)
	}
}

// Entries returns every journal entry recorded so far, for replay tools.
func (a *Agency) Entries() []journal.Entry { return a.sink.Entries() }

// EntriesFor returns every journal entry recorded so far for a single
// agent, in append order — the "(agent_id, entries…)" input Replay
// takes (spec §4.4).
func (a *Agency) EntriesFor(agentID string) []journal.Entry { return a.sink.EntriesFor(agentID) }

package protocol

import (
	"time"

	"github.com/corvid-systems/agency/internal/agencyerr"
	"github.com/corvid-systems/agency/internal/wireproto"
	"github.com/corvid-systems/agency/public/medium"
)

// Task states, spec §3: "performing -> completed|error|expired". A task
// never receives inbound protocol messages; OnMessage being called at
// all is a programming error (spec §4.3).
const (
	TaskPerforming State = "performing"
	TaskCompleted  State = "completed"
	TaskError      State = "error"
	TaskExpired    State = "expired"
)

// TaskFunc is the unit of work a Task drives: it receives the task's
// agent-visible handle (for reporting progress or errors isn't modeled
// here; it simply returns the terminal result) and runs to completion or
// returns an error.
type TaskFunc func(t *Task) error

// TaskFactory starts a Task: a fire-and-forget unit of work scheduled on
// its own goroutine, journaled like any other protocol instance but with
// no wire messages and no interested side (spec §4.3's Task).
type TaskFactory struct {
	ProtoType string
	Timeout   time.Duration
	Run       TaskFunc

	// Expired, if set, runs exactly once when the task's timeout fires
	// before Run returns, mirroring the original's task.expired() hook
	// (_examples/original_source/src/feat/agencies/tasks.py's
	// AgencyTask._expired: set state to expired, then invoke the hook).
	Expired func(t *Task)
}

func (f TaskFactory) ProtocolType() string { return f.ProtoType }

// NewInitiator constructs the Task, registers it, arms its expiration
// timer, and kicks off Run asynchronously, matching the Python
// original's async `task.initiate(...)` call.
func (f TaskFactory) NewInitiator(host medium.HostMedium, recipients []wireproto.Recipient, args ...any) (medium.Listener, any, error) {
	t := &Task{
		machine: newMachine(host, f.ProtoType, wireproto.NewSessionID(), wireproto.NewSessionID(), TaskPerforming),
	}
	host.JournalProtocolCreated(struct {
		ProtocolType string `msgpack:"protocol_type"`
	}{f.ProtoType}, nil)
	t.scheduleExpiration(f.Timeout, func() {
		t.terminateWithHook(TaskExpired, func() {
			if f.Expired != nil {
				f.Expired(t)
			}
		})
	})

	go func() {
		err := f.Run(t)
		if !t.transitionResult(err) {
			return // already terminated (expired) before Run returned
		}
	}()

	return t, t, nil
}

// Task is the agent-visible and listener object for a task: a unit of
// work with no wire protocol of its own.
type Task struct {
	machine
	result error
}

// Result returns the task's terminal error, if it has finished.
func (t *Task) Result() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

func (t *Task) transitionResult(err error) bool {
	final := TaskCompleted
	if err != nil {
		final = TaskError
	}
	if !t.transition(final) {
		return false
	}
	t.mu.Lock()
	t.result = err
	t.mu.Unlock()
	t.terminate(final)
	return true
}

// OnMessage implements medium.Listener but must never be called: a Task
// holds no broker binding and is never addressable by receiver_id, so
// the Medium can't route a wire message to it. Panicking (rather than
// silently discarding) surfaces a routing bug immediately instead of
// masking it (spec §4.3: "a programming error, not a protocol error").
func (t *Task) OnMessage(wireproto.Message) bool {
	panic(agencyerr.ErrTaskCannotReceive)
}

// AgentSide implements medium.Listener.
func (t *Task) AgentSide() any { return t }

// Snapshot implements medium.Listener.
func (t *Task) Snapshot() any {
	t.mu.Lock()
	var errMsg string
	if t.result != nil {
		errMsg = t.result.Error()
	}
	t.mu.Unlock()
	return struct {
		Snapshot
		Error string `msgpack:"error,omitempty"`
	}{t.baseSnapshot(), errMsg}
}

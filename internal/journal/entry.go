package journal

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// AgencyInstanceID is the sentinel instance_id used for agency-level
// entries (agent_created, agent_deleted, protocol_created,
// protocol_deleted), per spec §3: "instance_id is either 'agency' or the
// protocol instance's stable id."
const AgencyInstanceID = "agency"

// Entry is the append-only recorded entry tuple from spec §3/§6:
// (agent_id, instance_id, entry_id, fiber_id, fiber_depth, input,
// side_effects, output), all already in tree form.
type Entry struct {
	AgentID      string `msgpack:"agent_id"`
	InstanceID   string `msgpack:"instance_id"`
	EntryID      string `msgpack:"entry_id"`
	FiberID      string `msgpack:"fiber_id"`
	FiberDepth   int    `msgpack:"fiber_depth"`
	Input        any    `msgpack:"input"`
	SideEffects  any    `msgpack:"side_effects"`
	Output       any    `msgpack:"output"`
}

// Sink is where the Agency appends entries. The reference in-memory sink
// never blocks on I/O, matching spec §4.1 ("Never blocks on I/O; the
// sink is an in-memory list in the reference design").
type Sink interface {
	Append(e Entry)
	Entries() []Entry
	EntriesFor(agentID string) []Entry
}

// MemorySink is the default, in-memory journal sink.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemorySink constructs an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *MemorySink) EntriesFor(agentID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.AgentID == agentID {
			out = append(out, e)
		}
	}
	return out
}

// FileSink is an append-only, msgpack-length-framed journal file, the
// concrete producer of "the journal stream (for offline tools)" from
// spec §6, grounded on atomic/logging/session.go's append-to-session-file
// pattern.
type FileSink struct {
	mu sync.Mutex
	w  io.Writer
	// mirrors every appended entry in memory too, so a single process can
	// both persist to disk and replay without re-reading the file.
	mem *MemorySink
}

// NewFileSink wraps w (typically an *os.File opened O_APPEND) as a
// journal sink.
func NewFileSink(w io.Writer) *FileSink {
	return &FileSink{w: w, mem: NewMemorySink()}
}

func (s *FileSink) Append(e Entry) {
	s.mem.Append(e)

	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := msgpack.Marshal(e)
	if err != nil {
		// A marshal failure here means the entry contains something the
		// serializer didn't reduce to plain data; that's a programming
		// error upstream, not something this sink can recover from.
		panic(fmt.Sprintf("journal: entry not serializable: %v", err))
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(data)))
	if _, err := s.w.Write(lenPrefix[:]); err != nil {
		return
	}
	_, _ = s.w.Write(data)
}

func (s *FileSink) Entries() []Entry                    { return s.mem.Entries() }
func (s *FileSink) EntriesFor(agentID string) []Entry    { return s.mem.EntriesFor(agentID) }

// ReadFileSink decodes every length-framed msgpack entry from r.
func ReadFileSink(r io.Reader) ([]Entry, error) {
	var entries []Entry
	for {
		var lenPrefix [4]byte
		if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
			if err == io.EOF {
				break
			}
			return entries, err
		}
		n := binary.BigEndian.Uint32(lenPrefix[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return entries, err
		}
		var e Entry
		if err := msgpack.Unmarshal(buf, &e); err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

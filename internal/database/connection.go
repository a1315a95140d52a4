package database

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// DefaultKnownRevisionsCapacity bounds the known_revisions cache. Spec §9
// documents the Python original's unbounded known_revisions as an
// intentional leak and asks for bounded retention while preserving the
// own-vs-foreign classification; this is that bound.
const DefaultKnownRevisionsCapacity = 10_000

// Document is the in-memory representation of a stored document: its id,
// current revision, and raw payload. Callers encode/decode Payload
// themselves; the Connection only tracks id/rev bookkeeping.
type Document struct {
	DocID   string
	Rev     string
	Payload []byte
}

// ChangesCallback is delivered an own/foreign-classified change.
type ChangesCallback func(docID, rev string, deleted, ownChange bool)

// Connection wraps a Driver with revision tracking (known_revisions) and
// own/foreign change classification, matching spec §4.5 and the
// Python original's agencies/database.py Connection/RevisionAnalytic.
type Connection struct {
	driver Driver
	log    *logrus.Entry

	mu    sync.Mutex
	known *lru.Cache[string, Revision]

	listenerMu sync.Mutex
	listeners  map[string][]string // our listenerID -> doc_ids (for cancel_listener by doc id)
}

// NewConnection wraps driver with a known_revisions cache bounded at cap
// entries (DefaultKnownRevisionsCapacity if cap <= 0).
func NewConnection(driver Driver, capacity int, log *logrus.Entry) (*Connection, error) {
	if capacity <= 0 {
		capacity = DefaultKnownRevisionsCapacity
	}
	cache, err := lru.New[string, Revision](capacity)
	if err != nil {
		return nil, fmt.Errorf("database: building known_revisions cache: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Connection{
		driver:    driver,
		log:       log.WithField("component", "database.connection"),
		known:     cache,
		listeners: make(map[string][]string),
	}, nil
}

// SaveDocument serializes doc, writes it, and adopts the returned
// revision into both the document and known_revisions.
func (c *Connection) SaveDocument(docID string, payload []byte) (Document, error) {
	rev, err := c.driver.SaveDoc(docID, payload)
	if err != nil {
		return Document{}, err
	}
	c.noticeRevision(docID, rev)
	c.driver.NotifyChange(docID, rev, false)
	return Document{DocID: docID, Rev: rev, Payload: payload}, nil
}

// GetDocument reads a document and records its revision as known.
func (c *Connection) GetDocument(docID string) (Document, error) {
	payload, rev, err := c.driver.OpenDoc(docID)
	if err != nil {
		return Document{}, err
	}
	c.noticeRevision(docID, rev)
	return Document{DocID: docID, Rev: rev, Payload: payload}, nil
}

// ReloadDocument re-fetches a document by id, discarding the stale copy.
func (c *Connection) ReloadDocument(docID string) (Document, error) {
	return c.GetDocument(docID)
}

// DeleteDocument deletes doc (by id+rev) and records the tombstone
// revision.
func (c *Connection) DeleteDocument(docID, rev string) (Document, error) {
	newRev, err := c.driver.DeleteDoc(docID, rev)
	if err != nil {
		return Document{}, err
	}
	c.noticeRevision(docID, newRev)
	c.driver.NotifyChange(docID, newRev, true)
	return Document{DocID: docID, Rev: newRev}, nil
}

// ChangesListener subscribes to changes on doc_ids; each notification is
// classified own vs foreign before cb is invoked.
func (c *Connection) ChangesListener(docIDs []string, cb ChangesCallback) (string, error) {
	lid, err := c.driver.ListenChanges(docIDs, func(ev ChangeEvent) {
		own := c.classifyOwnChange(ev.DocID, ev.Rev)
		cb(ev.DocID, ev.Rev, ev.Deleted, own)
	})
	if err != nil {
		return "", err
	}
	c.listenerMu.Lock()
	c.listeners[lid] = append([]string(nil), docIDs...)
	c.listenerMu.Unlock()
	return lid, nil
}

// CancelListener cancels every subscription registered for docID.
func (c *Connection) CancelListener(docID string) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	for lid, ids := range c.listeners {
		for _, id := range ids {
			if id == docID {
				c.driver.CancelListener(lid)
				delete(c.listeners, lid)
				break
			}
		}
	}
}

// Disconnect cancels every subscription this Connection created.
func (c *Connection) Disconnect() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	for lid := range c.listeners {
		c.driver.CancelListener(lid)
		delete(c.listeners, lid)
	}
}

// QueryView delegates to the driver's view query.
func (c *Connection) QueryView(viewName string, opts map[string]any) ([]ViewRow, error) {
	return c.driver.QueryView(viewName, opts)
}

func (c *Connection) noticeRevision(docID, rev string) {
	parsed, err := ParseRevision(rev)
	if err != nil {
		c.log.WithError(err).WithField("doc_id", docID).Warn("received malformed revision")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.known.Get(docID); ok && (parsed.Index < existing.Index ||
		(parsed.Index == existing.Index && parsed.Hash != existing.Hash)) {
		// Known-revision entries never regress: only replace when the new
		// index is strictly greater, or identical (idempotent refresh).
		return
	}
	c.known.Add(docID, parsed)
}

// classifyOwnChange implements the Revision Analytic from spec §4.5:
//
//	own_change := doc_id in known_revisions &&
//	              (known.index > incoming.index ||
//	               (known.index == incoming.index && known.hash == incoming.hash))
//
// A doc_id evicted from the bounded cache is treated as foreign — no
// local knowledge survives eviction, which is a documented, harmless
// weakening of "own" classification for cold documents (SPEC_FULL §5.5).
func (c *Connection) classifyOwnChange(docID, rev string) bool {
	incoming, err := ParseRevision(rev)
	if err != nil {
		c.log.WithError(err).WithField("doc_id", docID).Warn("change notification with malformed revision")
		return false
	}
	c.mu.Lock()
	known, ok := c.known.Peek(docID)
	c.mu.Unlock()
	if !ok {
		return false
	}
	if known.Index > incoming.Index {
		return true
	}
	if known.Index == incoming.Index && known.Hash == incoming.Hash {
		return true
	}
	return false
}

// KnownRevision exposes the current known_revisions entry for docID, used
// by tests asserting the boundary behaviors in spec §8.
func (c *Connection) KnownRevision(docID string) (Revision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.known.Peek(docID)
}

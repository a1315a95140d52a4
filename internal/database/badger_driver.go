package database

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// BadgerDriver implements Driver over an embedded Badger key/value store.
// It is the concrete stand-in for the out-of-scope document-store wire
// protocol (spec §6), grounded on the broker-relayed KV operations in
// cellorg/internal/storage/client.go, generalized into a direct document
// store rather than a broker round-trip.
//
// Each document is stored under its doc_id; a sibling key holds the
// current revision index so SaveDoc can compute the next "<index>-<hash>"
// revision deterministically from the document bytes.
type BadgerDriver struct {
	db *badger.DB

	mu        sync.Mutex
	listeners map[string]*changeListener // listenerID -> listener
}

type changeListener struct {
	docIDs map[string]struct{}
	cb     ChangeCallback
}

// NewBadgerDriver opens (or creates) a Badger database at dir. Tests use
// OpenInMemoryBadgerDriver instead.
func NewBadgerDriver(dir string) (*BadgerDriver, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("database: opening badger at %s: %w", dir, err)
	}
	return &BadgerDriver{db: db, listeners: make(map[string]*changeListener)}, nil
}

// OpenInMemoryBadgerDriver opens an in-memory Badger instance, used by
// tests and by embeddings that don't need durability across restarts.
func OpenInMemoryBadgerDriver() (*BadgerDriver, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("database: opening in-memory badger: %w", err)
	}
	return &BadgerDriver{db: db, listeners: make(map[string]*changeListener)}, nil
}

func (d *BadgerDriver) Close() error { return d.db.Close() }

func docKey(docID string) []byte  { return append([]byte("doc:"), docID...) }
func indexKey(docID string) []byte { return append([]byte("idx:"), docID...) }

// SaveDoc writes serialized under docID, computing the next revision as
// currentIndex+1 and a content hash via xxhash.
func (d *BadgerDriver) SaveDoc(docID string, serialized []byte) (string, error) {
	var rev Revision
	err := d.db.Update(func(txn *badger.Txn) error {
		idx, err := readIndex(txn, docID)
		if err != nil {
			return err
		}
		rev = Revision{Index: idx + 1, Hash: contentHash(serialized)}
		if err := txn.Set(docKey(docID), serialized); err != nil {
			return err
		}
		return txn.Set(indexKey(docID), encodeIndex(rev.Index))
	})
	if err != nil {
		return "", fmt.Errorf("database: save_doc %s: %w", docID, err)
	}
	return rev.String(), nil
}

// OpenDoc reads the document and reconstructs its current revision
// string from the stored index and the document's content hash.
func (d *BadgerDriver) OpenDoc(docID string) ([]byte, string, error) {
	var (
		serialized []byte
		rev        Revision
	)
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(docID))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("database: open_doc %s: %w", docID, errNotFoundSentinel)
		}
		if err != nil {
			return err
		}
		serialized, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}
		idx, err := readIndex(txn, docID)
		if err != nil {
			return err
		}
		rev = Revision{Index: idx, Hash: contentHash(serialized)}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return serialized, rev.String(), nil
}

// DeleteDoc requires the caller's rev to match the stored rev (optimistic
// concurrency), matching the Conflict persistence error in spec §7.
func (d *BadgerDriver) DeleteDoc(docID, rev string) (string, error) {
	var newRev Revision
	err := d.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(docID))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("database: delete_doc %s: %w", docID, errNotFoundSentinel)
		}
		if err != nil {
			return err
		}
		current, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		idx, err := readIndex(txn, docID)
		if err != nil {
			return err
		}
		currentRev := Revision{Index: idx, Hash: contentHash(current)}
		if currentRev.String() != rev {
			return fmt.Errorf("database: delete_doc %s: %w", docID, errConflictSentinel)
		}
		newRev = Revision{Index: idx + 1, Hash: "deleted"}
		if err := txn.Delete(docKey(docID)); err != nil {
			return err
		}
		return txn.Set(indexKey(docID), encodeIndex(newRev.Index))
	})
	if err != nil {
		return "", err
	}
	return newRev.String(), nil
}

func (d *BadgerDriver) ListenChanges(docIDs []string, cb ChangeCallback) (string, error) {
	set := make(map[string]struct{}, len(docIDs))
	for _, id := range docIDs {
		set[id] = struct{}{}
	}
	id := uuid.NewString()
	d.mu.Lock()
	d.listeners[id] = &changeListener{docIDs: set, cb: cb}
	d.mu.Unlock()
	return id, nil
}

func (d *BadgerDriver) CancelListener(listenerID string) {
	d.mu.Lock()
	delete(d.listeners, listenerID)
	d.mu.Unlock()
}

func (d *BadgerDriver) QueryView(viewName string, opts map[string]any) ([]ViewRow, error) {
	prefix := []byte("doc:")
	var rows []ViewRow
	err := d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rows = append(rows, ViewRow{
				Key:   string(item.Key()[len(prefix):]),
				Value: val,
			})
		}
		return nil
	})
	return rows, err
}

// NotifyChange implements Driver. The caller (Connection) invokes this
// once its own known_revisions bookkeeping for docID/rev is up to date,
// so a listener never observes a notification ahead of that state.
func (d *BadgerDriver) NotifyChange(docID, rev string, deleted bool) {
	d.mu.Lock()
	var cbs []ChangeCallback
	for _, l := range d.listeners {
		if _, ok := l.docIDs[docID]; ok {
			cbs = append(cbs, l.cb)
		}
	}
	d.mu.Unlock()
	ev := ChangeEvent{DocID: docID, Rev: rev, Deleted: deleted}
	for _, cb := range cbs {
		go cb(ev)
	}
}

func readIndex(txn *badger.Txn, docID string) (uint64, error) {
	item, err := txn.Get(indexKey(docID))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var idx uint64
	err = item.Value(func(val []byte) error {
		idx = decodeIndex(val)
		return nil
	})
	return idx, err
}

func encodeIndex(idx uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, idx)
	return buf
}

func decodeIndex(buf []byte) uint64 {
	if len(buf) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(buf)
}

func contentHash(data []byte) string {
	return fmt.Sprintf("%x", xxhash.Sum64(data))
}

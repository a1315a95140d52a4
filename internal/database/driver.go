package database

// ChangeEvent is what a Driver delivers to a subscribed callback when a
// watched document changes: its id, its new revision string, and whether
// it was deleted.
type ChangeEvent struct {
	DocID   string
	Rev     string
	Deleted bool
}

// ChangeCallback receives raw change notifications before they've been
// classified own/foreign; that classification is the Connection's job.
type ChangeCallback func(ev ChangeEvent)

// Driver is the external Document Store Driver capability the agency
// core consumes (spec §6). The wire protocol to the real document
// server is out of scope; BadgerDriver below is the reference
// implementation used for embedding and tests.
type Driver interface {
	SaveDoc(docID string, serialized []byte) (rev string, err error)
	OpenDoc(docID string) (serialized []byte, rev string, err error)
	DeleteDoc(docID, rev string) (newRev string, err error)
	ListenChanges(docIDs []string, cb ChangeCallback) (listenerID string, err error)
	CancelListener(listenerID string)
	QueryView(viewName string, opts map[string]any) ([]ViewRow, error)

	// NotifyChange fires every listener watching docID. The caller — the
	// Connection wrapping this Driver — is responsible for calling this
	// only after it has updated its own bookkeeping for the save/delete
	// that produced rev, so a listener can never observe a notification
	// for a revision the Connection doesn't know about yet.
	NotifyChange(docID, rev string, deleted bool)
}

// ViewRow is a single (key, value) pair rendered by a view query.
type ViewRow struct {
	Key   string
	Value []byte
}

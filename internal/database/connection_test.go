package database

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeDriver is a minimal in-memory Driver for exercising Connection's
// revision-tracking logic in isolation from Badger.
type fakeDriver struct {
	docs map[string][]byte
	revs map[string]Revision
	cb   ChangeCallback
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{docs: map[string][]byte{}, revs: map[string]Revision{}}
}

func (d *fakeDriver) SaveDoc(docID string, serialized []byte) (string, error) {
	next := d.revs[docID].Index + 1
	rev := Revision{Index: next, Hash: fmt.Sprintf("h%d", next)}
	d.docs[docID] = serialized
	d.revs[docID] = rev
	return rev.String(), nil
}

func (d *fakeDriver) OpenDoc(docID string) ([]byte, string, error) {
	return d.docs[docID], d.revs[docID].String(), nil
}

func (d *fakeDriver) DeleteDoc(docID, rev string) (string, error) {
	next := d.revs[docID].Index + 1
	newRev := Revision{Index: next, Hash: "deleted"}
	d.revs[docID] = newRev
	delete(d.docs, docID)
	return newRev.String(), nil
}

func (d *fakeDriver) ListenChanges(docIDs []string, cb ChangeCallback) (string, error) {
	d.cb = cb
	return "listener-1", nil
}

func (d *fakeDriver) CancelListener(string) {}

func (d *fakeDriver) QueryView(string, map[string]any) ([]ViewRow, error) { return nil, nil }

func (d *fakeDriver) NotifyChange(docID, rev string, deleted bool) {
	if d.cb != nil {
		d.cb(ChangeEvent{DocID: docID, Rev: rev, Deleted: deleted})
	}
}

func TestConnectionOwnChangeClassification(t *testing.T) {
	drv := newFakeDriver()
	conn, err := NewConnection(drv, 10, nil)
	require.NoError(t, err)

	doc, err := conn.SaveDocument("doc-1", []byte("v1"))
	require.NoError(t, err)
	require.Equal(t, "1-h1", doc.Rev)

	// known.index > incoming.index: our knowledge is ahead, so a change
	// notification citing a stale revision is our own echo.
	require.True(t, conn.classifyOwnChange("doc-1", "0-stale"))

	// known.index == incoming.index && hash matches: our own save echoed
	// back to us.
	require.True(t, conn.classifyOwnChange("doc-1", "1-h1"))

	// known.index == incoming.index but hash differs: someone else wrote
	// a conflicting revision at the same index.
	require.False(t, conn.classifyOwnChange("doc-1", "1-different"))

	// known.index < incoming.index: a genuinely newer foreign write.
	require.False(t, conn.classifyOwnChange("doc-1", "2-h2"))

	// never-seen doc id: foreign by default.
	require.False(t, conn.classifyOwnChange("doc-unknown", "1-h1"))
}

func TestConnectionNotifiesAfterKnownRevisionsUpdated(t *testing.T) {
	drv := newFakeDriver()
	conn, err := NewConnection(drv, 10, nil)
	require.NoError(t, err)

	var observedOwn bool
	_, err = conn.ChangesListener([]string{"doc-1"}, func(docID, rev string, deleted, ownChange bool) {
		observedOwn = ownChange
	})
	require.NoError(t, err)

	_, err = conn.SaveDocument("doc-1", []byte("v1"))
	require.NoError(t, err)

	require.True(t, observedOwn, "known_revisions must already reflect this save by the time the change callback fires")
}

func TestConnectionKnownRevisionNeverRegresses(t *testing.T) {
	drv := newFakeDriver()
	conn, err := NewConnection(drv, 10, nil)
	require.NoError(t, err)

	conn.noticeRevision("doc-1", "5-abc")
	conn.noticeRevision("doc-1", "3-older") // must not replace a higher known index
	rev, ok := conn.KnownRevision("doc-1")
	require.True(t, ok)
	require.Equal(t, uint64(5), rev.Index)

	conn.noticeRevision("doc-1", "7-newer")
	rev, ok = conn.KnownRevision("doc-1")
	require.True(t, ok)
	require.Equal(t, uint64(7), rev.Index)
}

func TestConnectionMalformedRevisionIsIgnored(t *testing.T) {
	drv := newFakeDriver()
	conn, err := NewConnection(drv, 10, nil)
	require.NoError(t, err)

	conn.noticeRevision("doc-1", "not-a-revision-at-all-")
	_, ok := conn.KnownRevision("doc-1")
	require.False(t, ok)
}

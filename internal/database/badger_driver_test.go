package database

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBadgerDriverSaveOpenDelete(t *testing.T) {
	drv, err := OpenInMemoryBadgerDriver()
	require.NoError(t, err)
	defer drv.Close()

	rev, err := drv.SaveDoc("doc-1", []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "1-"+contentHash([]byte("hello")), rev)

	data, rev2, err := drv.OpenDoc("doc-1")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
	require.Equal(t, rev, rev2)

	_, err = drv.DeleteDoc("doc-1", "wrong-rev")
	require.True(t, errors.Is(err, errConflictSentinel))

	newRev, err := drv.DeleteDoc("doc-1", rev)
	require.NoError(t, err)
	require.NotEqual(t, rev, newRev)

	_, _, err = drv.OpenDoc("doc-1")
	require.True(t, errors.Is(err, errNotFoundSentinel))
}

func TestBadgerDriverListenChanges(t *testing.T) {
	drv, err := OpenInMemoryBadgerDriver()
	require.NoError(t, err)
	defer drv.Close()

	events := make(chan ChangeEvent, 1)
	_, err = drv.ListenChanges([]string{"doc-1"}, func(ev ChangeEvent) {
		events <- ev
	})
	require.NoError(t, err)

	rev, err := drv.SaveDoc("doc-1", []byte("v1"))
	require.NoError(t, err)
	drv.NotifyChange("doc-1", rev, false)

	select {
	case ev := <-events:
		require.Equal(t, "doc-1", ev.DocID)
		require.False(t, ev.Deleted)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}

package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalSyncThenLoadRoundTrips(t *testing.T) {
	root := t.TempDir()
	j := newJournal(root)

	pending := map[string]*Entry{
		"GET /a": {Key: "GET /a", Body: []byte("body-a")},
		"GET /b": {Key: "GET /b", Body: []byte("body-b")},
	}
	j.Sync(pending)

	records := j.Load()
	require.Len(t, records, 2)

	byKey := make(map[string]*Entry, len(records))
	for _, r := range records {
		byKey[r.Key] = r.Entry
	}
	require.Contains(t, byKey, "GET /a")
	assert.Equal(t, []byte("body-a"), byKey["GET /a"].Body)
}

func TestJournalSyncWithEmptyPendingRemovesFile(t *testing.T) {
	root := t.TempDir()
	j := newJournal(root)

	j.Sync(map[string]*Entry{"GET /a": {Key: "GET /a"}})
	require.FileExists(t, filepath.Join(root, ".writebehind.journal"))

	j.Sync(map[string]*Entry{})
	assert.NoFileExists(t, filepath.Join(root, ".writebehind.journal"))
}

func TestJournalLoadMissingFileReturnsNil(t *testing.T) {
	j := newJournal(t.TempDir())
	assert.Nil(t, j.Load())
}

func TestJournalLoadCorruptFileDiscardsAndReturnsNil(t *testing.T) {
	root := t.TempDir()
	j := newJournal(root)
	path := filepath.Join(root, ".writebehind.journal")

	require.NoError(t, os.WriteFile(path, []byte("not-cbor"), 0o644))
	records := j.Load()
	assert.Nil(t, records)
	assert.NoFileExists(t, path)
}

package memstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icsfxd/icsfx/idset"
	"github.com/icsfxd/icsfx/propcodec"
	"github.com/icsfxd/icsfx/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, nil)
}

func TestCreateFolderAndMessageRoundTrip(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateFolder(0, 1, map[propcodec.Tag]propcodec.Value{
		propcodec.MakeTag(0x3001, propcodec.PTUnicode): propcodec.UnicodeValue("Inbox"),
	}))
	ok, err := s.OpenFolder(1)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.CreateMessage(1, 100))
	ok, err = s.OpenMessage(1, 100)
	require.NoError(t, err)
	assert.True(t, ok)

	subjectTag := propcodec.MakeTag(0x0037, propcodec.PTUnicode)
	require.NoError(t, s.SetMessageProperties(1, 100, map[propcodec.Tag]propcodec.Value{
		subjectTag: propcodec.UnicodeValue("hello"),
		propcodec.MakeTag(0x0E08, propcodec.PTLong): propcodec.LongValue(42),
	}))

	row, err := s.FetchRow(1, store.TableNormalMessages, 100, []propcodec.Tag{subjectTag})
	require.NoError(t, err)
	require.Contains(t, row, subjectTag)
	assert.Equal(t, "hello", row[subjectTag].Str)
}

func TestDeleteMessageRecordsTombstone(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateFolder(0, 1, nil))
	require.NoError(t, s.CreateMessage(1, 1))

	require.NoError(t, s.DeleteMessage(1, 1, store.DeleteSoft))

	ok, err := s.OpenMessage(1, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	fmids, err := s.DeletedFmids(1, store.TableNormalMessages, 0)
	require.NoError(t, err)
	assert.Contains(t, fmids, uint64(1))
}

func TestOpenTableRestrictsByChangeNumber(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateFolder(0, 1, nil))
	require.NoError(t, s.CreateMessage(1, 1))
	require.NoError(t, s.CreateMessage(1, 2))

	_, err := s.db.Exec(`UPDATE messages SET change_number = 5 WHERE mid = 1`)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE messages SET change_number = 10 WHERE mid = 2`)
	require.NoError(t, err)

	mids, err := s.OpenTable(1, store.TableNormalMessages, 5)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, mids)
}

func TestLocalReplicaGUIDIsStableAcrossCalls(t *testing.T) {
	s := newTestStore(t)

	first, err := s.LocalReplicaGUID()
	require.NoError(t, err)
	assert.NotEqual(t, idset.GUID{}, first)

	second, err := s.LocalReplicaGUID()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAllocatorCheckpointSaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	guid := idset.GUID{0xAB, 0xCD}

	_, ok, err := s.LoadAllocatorCheckpoint(guid)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveAllocatorCheckpoint(guid, 42))
	next, ok, err := s.LoadAllocatorCheckpoint(guid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(42), next)

	require.NoError(t, s.SaveAllocatorCheckpoint(guid, 99))
	next, ok, err = s.LoadAllocatorCheckpoint(guid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(99), next)
}

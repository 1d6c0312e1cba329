package importrop

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icsfxd/icsfx/icserr"
	"github.com/icsfxd/icsfx/ident"
	"github.com/icsfxd/icsfx/idset"
	"github.com/icsfxd/icsfx/propcodec"
	"github.com/icsfxd/icsfx/store"
	"github.com/icsfxd/icsfx/store/memstore"
)

func newFixture(t *testing.T) (*Importer, *memstore.Store, *ident.ReplicaTable) {
	t.Helper()
	db, err := memstore.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := memstore.New(db, nil)
	require.NoError(t, s.CreateFolder(0, 1, nil))

	replicas := ident.NewReplicaTable(idset.GUID{0x02})
	alloc := ident.NewLocalAllocator(1)
	return New(s, replicas, alloc), s, replicas
}

func TestImportMessageChangeCreatesAndSetsProperties(t *testing.T) {
	im, _, replicas := newFixture(t)

	fmid := ident.FmidPack(ident.LocalReplID, 7)
	key, err := ident.SourceKeyFromFmid(replicas, fmid)
	require.NoError(t, err)

	values := map[propcodec.Tag]propcodec.Value{
		propcodec.MakeTag(0x3001, propcodec.PTUnicode): propcodec.UnicodeValue("hello"),
	}

	mid, err := im.ImportMessageChange(1, key, values, true, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), mid)

	exists, err := im.Backend.OpenMessage(1, store.MessageRef(fmid))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestImportMessageChangeNonMapistoreIsNoSupport(t *testing.T) {
	im, _, replicas := newFixture(t)
	fmid := ident.FmidPack(ident.LocalReplID, 7)
	key, err := ident.SourceKeyFromFmid(replicas, fmid)
	require.NoError(t, err)

	_, err = im.ImportMessageChange(1, key, nil, false, false)
	assert.ErrorIs(t, err, icserr.NoSupport)
}

func TestImportMessageChangeDeniedIsNoAccess(t *testing.T) {
	im, _, replicas := newFixture(t)
	fmid := ident.FmidPack(ident.LocalReplID, 7)
	key, err := ident.SourceKeyFromFmid(replicas, fmid)
	require.NoError(t, err)

	_, err = im.ImportMessageChange(1, key, nil, true, true)
	assert.ErrorIs(t, err, icserr.NoAccess)
}

func TestImportMessageChangeInvalidSourceKeyIsNotFound(t *testing.T) {
	im, _, _ := newFixture(t)
	var badKey ident.SourceKey // zero GUID never provisioned
	_, err := im.ImportMessageChange(1, badKey, nil, true, false)
	assert.ErrorIs(t, err, icserr.NotFound)
}

func TestImportHierarchyChangeCreatesNewFolder(t *testing.T) {
	im, s, replicas := newFixture(t)

	rootKey, err := ident.SourceKeyFromFmid(replicas, 1) // folder fid 1, created by newFixture
	require.NoError(t, err)
	childFmid := ident.FmidPack(ident.LocalReplID, 9)
	childKey, err := ident.SourceKeyFromFmid(replicas, childFmid)
	require.NoError(t, err)

	values := map[propcodec.Tag]propcodec.Value{
		propcodec.MakeTag(0x3001, propcodec.PTUnicode): propcodec.UnicodeValue("Inbox/Sub"),
	}

	fid, err := im.ImportHierarchyChange(context.Background(), rootKey, childKey, values)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), fid)

	exists, err := s.OpenFolder(store.FolderRef(childFmid))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestImportHierarchyChangeUpdatesExistingFolder(t *testing.T) {
	im, s, replicas := newFixture(t)

	existingFmid := ident.FmidPack(ident.LocalReplID, 9)
	require.NoError(t, s.CreateFolder(1, store.FolderRef(existingFmid), nil))

	rootKey, err := ident.SourceKeyFromFmid(replicas, 1) // folder fid 1, created by newFixture
	require.NoError(t, err)
	existingKey, err := ident.SourceKeyFromFmid(replicas, existingFmid)
	require.NoError(t, err)

	values := map[propcodec.Tag]propcodec.Value{
		propcodec.MakeTag(0x3001, propcodec.PTUnicode): propcodec.UnicodeValue("renamed"),
	}
	_, err = im.ImportHierarchyChange(context.Background(), rootKey, existingKey, values)
	require.NoError(t, err)
}

func TestImportDeletesMessagesSkipsUnresolvableKeys(t *testing.T) {
	im, s, replicas := newFixture(t)

	fmid := ident.FmidPack(ident.LocalReplID, 3)
	require.NoError(t, s.CreateMessage(1, store.MessageRef(fmid)))
	goodKey, err := ident.SourceKeyFromFmid(replicas, fmid)
	require.NoError(t, err)
	var badKey ident.SourceKey

	im.ImportDeletes(1, 0, []ident.SourceKey{goodKey, badKey})

	exists, err := s.OpenMessage(1, store.MessageRef(fmid))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestImportDeletesHierarchyRemovesSubtree(t *testing.T) {
	im, s, replicas := newFixture(t)

	childFmid := ident.FmidPack(ident.LocalReplID, 4)
	require.NoError(t, s.CreateFolder(1, store.FolderRef(childFmid), nil))
	key, err := ident.SourceKeyFromFmid(replicas, childFmid)
	require.NoError(t, err)

	im.ImportDeletes(1, DeleteHierarchy, []ident.SourceKey{key})

	exists, err := s.OpenFolder(store.FolderRef(childFmid))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestImportMessageMoveRelocatesMessage(t *testing.T) {
	im, s, replicas := newFixture(t)

	require.NoError(t, s.CreateFolder(1, 2, nil))

	sourceMid := ident.FmidPack(ident.LocalReplID, 10)
	require.NoError(t, s.CreateMessage(1, store.MessageRef(sourceMid)))
	destMid := ident.FmidPack(ident.LocalReplID, 11)

	sourceFidKey, err := ident.SourceKeyFromFmid(replicas, 1) // folder fid 1, created by newFixture
	require.NoError(t, err)
	sourceMidKey, err := ident.SourceKeyFromFmid(replicas, sourceMid)
	require.NoError(t, err)
	destMidKey, err := ident.SourceKeyFromFmid(replicas, destMid)
	require.NoError(t, err)

	_, err = im.ImportMessageMove(2, sourceFidKey, sourceMidKey, destMidKey, []byte{0x01, 0x02}, true)
	require.NoError(t, err)

	exists, err := s.OpenMessage(2, store.MessageRef(destMid))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestImportMessageMoveUnknownSourceFolderIsNotFound(t *testing.T) {
	im, _, replicas := newFixture(t)

	var badFolderKey ident.SourceKey
	midKey, err := ident.SourceKeyFromFmid(replicas, ident.FmidPack(ident.LocalReplID, 1))
	require.NoError(t, err)

	_, err = im.ImportMessageMove(1, badFolderKey, midKey, midKey, nil, true)
	assert.ErrorIs(t, err, icserr.NotFound)
}

func TestImportReadStateChangesTogglesFlag(t *testing.T) {
	im, s, replicas := newFixture(t)

	fmid := ident.FmidPack(ident.LocalReplID, 5)
	require.NoError(t, s.CreateMessage(1, store.MessageRef(fmid)))
	key, err := ident.SourceKeyFromFmid(replicas, fmid)
	require.NoError(t, err)

	var badKey ident.SourceKey
	im.ImportReadStateChanges(1, []ReadStateEntry{
		{Mid: key, Read: true},
		{Mid: badKey, Read: true},
	})
}

func TestGetLocalReplicaIdsReturnsDisjointRanges(t *testing.T) {
	im, _, replicas := newFixture(t)

	guid1, first1, err := im.GetLocalReplicaIds(context.Background(), 5)
	require.NoError(t, err)
	guid2, first2, err := im.GetLocalReplicaIds(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, replicas.LocalGUID(), guid1)
	assert.Equal(t, guid1, guid2)
	assert.GreaterOrEqual(t, first2-first1, uint64(5))
}

func TestSetLocalReplicaMidsetDeletedIsNoOp(t *testing.T) {
	im, _, _ := newFixture(t)
	assert.NoError(t, im.SetLocalReplicaMidsetDeleted(idset.NewSet(false)))
}

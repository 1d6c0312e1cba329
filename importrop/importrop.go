// Package importrop implements the import (upload) ROPs of spec component
// C8: applying client-originated changes to the store backend. Each
// exported function corresponds to one ROP and returns the reply fields (or
// an icserr.Kind-wrapped error) a transport layer would marshal back to the
// wire; this package owns no transport of its own.
package importrop

import (
	"context"

	"github.com/icsfxd/icsfx/icserr"
	"github.com/icsfxd/icsfx/ident"
	"github.com/icsfxd/icsfx/idset"
	"github.com/icsfxd/icsfx/internal/log"
	"github.com/icsfxd/icsfx/propcodec"
	"github.com/icsfxd/icsfx/store"
)

// Importer bundles the collaborators every import ROP needs: the store
// backend, the owner's replica-GUID<->replid table, and a cn allocator for
// GetLocalReplicaIds.
type Importer struct {
	Backend   store.Backend
	Replicas  *ident.ReplicaTable
	Allocator ident.CNAllocator
}

// New returns an Importer wired to backend, replicas and allocator.
func New(backend store.Backend, replicas *ident.ReplicaTable, allocator ident.CNAllocator) *Importer {
	return &Importer{Backend: backend, Replicas: replicas, Allocator: allocator}
}

// ImportMessageChange resolves the target message from the SourceKey carried
// as the first property value, opens it (creating it if absent), and
// applies every supplied property. The reply MessageId is always 0 per
// spec.
func (im *Importer) ImportMessageChange(fid store.FolderRef, sourceKey ident.SourceKey, values map[propcodec.Tag]propcodec.Value, mapistore, denied bool) (messageID uint64, err error) {
	if !mapistore {
		return 0, icserr.New(icserr.NoSupport, "importrop: ImportMessageChange against a non-mapistore parent")
	}
	if denied {
		return 0, icserr.New(icserr.NoAccess, "importrop: ImportMessageChange denied for folder %d", fid)
	}

	fmid, err := ident.FmidFromSourceKey(im.Replicas, sourceKey)
	if err != nil {
		return 0, icserr.Wrap(icserr.NotFound, err)
	}
	mid := store.MessageRef(fmid)

	exists, err := im.Backend.OpenMessage(fid, mid)
	if err != nil {
		return 0, icserr.Wrap(icserr.BackendError, err)
	}
	if !exists {
		if err := im.Backend.CreateMessage(fid, mid); err != nil {
			return 0, icserr.Wrap(icserr.BackendError, err)
		}
		if err := im.Backend.IndexAdd(mid); err != nil {
			return 0, icserr.Wrap(icserr.BackendError, err)
		}
	}

	if err := im.Backend.SetMessageProperties(fid, mid, values); err != nil {
		return 0, icserr.Wrap(icserr.BackendError, err)
	}
	return 0, nil
}

// ImportHierarchyChange resolves the parent fmid (index 0) and the folder's
// own fmid (index 1) from a pair of SourceKeys, opens the folder if it
// exists, otherwise allocates a new change number and creates it with the
// merged hierarchy+property row set. The reply FolderId is always 0.
func (im *Importer) ImportHierarchyChange(ctx context.Context, parentKey, folderKey ident.SourceKey, values map[propcodec.Tag]propcodec.Value) (folderID uint64, err error) {
	parentFmid, err := ident.FmidFromSourceKey(im.Replicas, parentKey)
	if err != nil {
		return 0, icserr.Wrap(icserr.NotFound, err)
	}
	folderFmid, err := ident.FmidFromSourceKey(im.Replicas, folderKey)
	if err != nil {
		return 0, icserr.Wrap(icserr.NotFound, err)
	}

	parent := store.FolderRef(parentFmid)
	fid := store.FolderRef(folderFmid)

	exists, err := im.Backend.OpenFolder(fid)
	if err != nil {
		return 0, icserr.Wrap(icserr.BackendError, err)
	}
	if exists {
		if err := im.Backend.SetFolderProperties(fid, values); err != nil {
			return 0, icserr.Wrap(icserr.BackendError, err)
		}
		return 0, nil
	}

	if im.Allocator != nil {
		if _, err := im.Allocator.ReserveRange(ctx, 1); err != nil {
			return 0, icserr.Wrap(icserr.BackendError, err)
		}
	}
	if err := im.Backend.CreateFolder(parent, fid, values); err != nil {
		return 0, icserr.Wrap(icserr.BackendError, err)
	}
	return 0, nil
}

// ImportDeletesFlags mirrors the SyncImportDeletes request flags bit this
// package cares about.
type ImportDeletesFlags uint32

const (
	DeleteHierarchy ImportDeletesFlags = 1 << iota
	DeleteHard
)

// ImportDeletes applies a batch of deletions described by sourceKeys.
// DeleteHierarchy routes each key to a folder-subtree delete; otherwise each
// key resolves to a message delete, soft unless DeleteHard is set, followed
// by an index removal. Per-key failures are logged and skipped rather than
// aborting the whole batch (spec §4.8).
func (im *Importer) ImportDeletes(fid store.FolderRef, flags ImportDeletesFlags, sourceKeys []ident.SourceKey) {
	mode := store.DeleteSoft
	if flags&DeleteHard != 0 {
		mode = store.DeleteHard
	}

	for _, key := range sourceKeys {
		fmid, err := ident.FmidFromSourceKey(im.Replicas, key)
		if err != nil {
			log.WarnLog.Printf("importrop: ImportDeletes: unresolvable source key, skipping: %v", err)
			continue
		}

		if flags&DeleteHierarchy != 0 {
			if err := im.Backend.DeleteFolderSubtree(store.FolderRef(fmid)); err != nil {
				log.WarnLog.Printf("importrop: ImportDeletes: folder subtree delete failed for fid %d, skipping: %v", fmid, err)
			}
			continue
		}

		mid := store.MessageRef(fmid)
		if err := im.Backend.DeleteMessage(fid, mid, mode); err != nil {
			log.WarnLog.Printf("importrop: ImportDeletes: message delete failed for mid %d, skipping: %v", fmid, err)
			continue
		}
		if err := im.Backend.IndexRemove(mid); err != nil {
			log.WarnLog.Printf("importrop: ImportDeletes: index removal failed for mid %d: %v", fmid, err)
		}
	}
}

// ImportMessageMove relocates a single message, identified by source folder
// and source mid blobs, to destMid under destFid, stamping changeKey as its
// new change key. sourceFolderKey, sourceMidKey and destMidKey are
// replica-GUID-prefixed SourceKey blobs; decoding any of them against an
// unknown replica GUID is NotFound. changeKey is passed to the backend as is.
func (im *Importer) ImportMessageMove(destFid store.FolderRef, sourceFolderKey, sourceMidKey, destMidKey ident.SourceKey, changeKey []byte, mapistore bool) (messageID uint64, err error) {
	if !mapistore {
		return 0, icserr.New(icserr.NoSupport, "importrop: ImportMessageMove against a non-mapistore source")
	}

	sourceFid, err := ident.FmidFromSourceKey(im.Replicas, sourceFolderKey)
	if err != nil {
		return 0, icserr.Wrap(icserr.NotFound, err)
	}
	sourceMid, err := ident.FmidFromSourceKey(im.Replicas, sourceMidKey)
	if err != nil {
		return 0, icserr.Wrap(icserr.NotFound, err)
	}
	destMid, err := ident.FmidFromSourceKey(im.Replicas, destMidKey)
	if err != nil {
		return 0, icserr.Wrap(icserr.NotFound, err)
	}

	exists, err := im.Backend.OpenFolder(store.FolderRef(sourceFid))
	if err != nil {
		return 0, icserr.Wrap(icserr.BackendError, err)
	}
	if !exists {
		return 0, icserr.New(icserr.NotFound, "importrop: ImportMessageMove: source folder %d not found", sourceFid)
	}

	err = im.Backend.MoveMessages(
		store.FolderRef(sourceFid),
		[]store.MessageRef{store.MessageRef(sourceMid)},
		destFid,
		[]store.MessageRef{store.MessageRef(destMid)},
		changeKey,
	)
	if err != nil {
		return 0, icserr.Wrap(icserr.BackendError, err)
	}
	return 0, nil
}

// ReadStateEntry is one parsed (mid, flag) pair of an ImportReadStateChanges
// stream (spec §4.8's "(mid_blob_size:u16, mid_blob, flag:u8)").
type ReadStateEntry struct {
	Mid  ident.SourceKey
	Read bool // true = SUPPRESS_RECEIPT|CLEAR_RN_PENDING, false = CLEAR_READ_FLAG|CLEAR_NRN_PENDING
}

// ImportReadStateChanges toggles the read flag of every message whose mid
// blob resolves against the owner's replica table. Entries whose replica
// GUID or replid is unresolvable are skipped, not fatal.
func (im *Importer) ImportReadStateChanges(fid store.FolderRef, entries []ReadStateEntry) {
	for _, e := range entries {
		fmid, err := ident.FmidFromSourceKey(im.Replicas, e.Mid)
		if err != nil {
			log.WarnLog.Printf("importrop: ImportReadStateChanges: unresolvable mid, skipping: %v", err)
			continue
		}
		mid := store.MessageRef(fmid)
		exists, err := im.Backend.OpenMessage(fid, mid)
		if err != nil || !exists {
			log.WarnLog.Printf("importrop: ImportReadStateChanges: mid %d not open, skipping", fmid)
			continue
		}
		if err := im.Backend.SetReadFlag(fid, mid, e.Read); err != nil {
			log.WarnLog.Printf("importrop: ImportReadStateChanges: SetReadFlag failed for mid %d: %v", fmid, err)
		}
	}
}

// GetLocalReplicaIds reserves count consecutive fmid globcnts on the local
// replica and returns the owner's replica GUID alongside the first
// reserved globcnt (spec §4.8).
func (im *Importer) GetLocalReplicaIds(ctx context.Context, count uint64) (guid idset.GUID, firstGlobcnt uint64, err error) {
	if im.Allocator == nil {
		return idset.GUID{}, 0, icserr.New(icserr.NoSupport, "importrop: GetLocalReplicaIds: no cn allocator configured")
	}
	first, err := im.Allocator.ReserveRange(ctx, count)
	if err != nil {
		return idset.GUID{}, 0, err
	}
	return im.Replicas.LocalGUID(), first, nil
}

// SetLocalReplicaMidsetDeleted accepts a tombstone set for bookkeeping.
// Backends that don't track tombstones treat this as a no-op (spec §4.8).
func (im *Importer) SetLocalReplicaMidsetDeleted(tombstones *idset.Set) error {
	return nil
}

// Package store declares the persistent-store backend collaborator (spec §6):
// the boundary between the sync engine (C6/C7/C8) and whatever holds
// folders, messages, recipients, attachments, and the change-number
// sequence. This package is interfaces only; store/memstore provides a
// SQLite-backed reference/test implementation.
package store

import (
	"github.com/icsfxd/icsfx/idset"
	"github.com/icsfxd/icsfx/propcodec"
)

// TableType selects which child rowset an OpenTable call returns.
type TableType int

const (
	TableNormalMessages TableType = iota
	TableFAIMessages
	TableAttachments
	TableRecipients
	TableFolders
)

// DeleteMode distinguishes a soft (tombstoned) delete from a hard removal,
// as requested by SyncImportDeletes' flags (spec §4.8).
type DeleteMode int

const (
	DeleteSoft DeleteMode = iota
	DeleteHard
)

// Row is one fetched record: tag -> value, prefiltered to the columns the
// caller asked for. A missing key means the backend had no value for that
// property on this row (spec §4.7's "missing column value ⇒ NotFound").
type Row map[propcodec.Tag]propcodec.Value

// FolderRef and MessageRef identify objects by their 64-bit fmid (spec §3).
type FolderRef uint64
type MessageRef uint64

// Backend is the store-backend collaborator's full operation surface.
type Backend interface {
	// OpenFolder resolves an existing folder by fmid.
	OpenFolder(fid FolderRef) (bool, error)
	// OpenMessage resolves an existing message by fmid within folder fid.
	OpenMessage(fid FolderRef, mid MessageRef) (bool, error)

	// OpenTable returns the fmids of folder fid's rows of the given type,
	// restricted to rows whose ChangeNumber globcnt is > sinceGlobcnt (0
	// means no restriction).
	OpenTable(fid FolderRef, tt TableType, sinceGlobcnt uint64) ([]uint64, error)

	// FetchRow returns the requested property tags for one row (a message,
	// folder, attachment, or recipient identified by its fmid/rowID within
	// the given table). Tags the backend has no value for are simply
	// absent from the returned Row rather than erroring.
	FetchRow(fid FolderRef, tt TableType, id uint64, tags []propcodec.Tag) (Row, error)

	// RowCount reports the number of rows OpenTable would return.
	RowCount(fid FolderRef, tt TableType, sinceGlobcnt uint64) (int, error)

	// AttachmentNums lists a message's attachment numbers, in row order.
	AttachmentNums(mid MessageRef) ([]uint32, error)
	// RecipientRows lists a message's recipient row ids, in row order.
	RecipientRows(mid MessageRef) ([]uint32, error)

	// ChildFolders lists the immediate child folders of fid, for hierarchy
	// sync's depth-first walk.
	ChildFolders(fid FolderRef) ([]FolderRef, error)

	// SetMessageProperties applies values to an existing or newly created
	// message, all-or-nothing (spec §4.8 import atomicity).
	SetMessageProperties(fid FolderRef, mid MessageRef, values map[propcodec.Tag]propcodec.Value) error

	// SetFolderProperties applies values to an existing folder, all-or-nothing,
	// for ImportHierarchyChange's update-in-place path (spec §4.8).
	SetFolderProperties(fid FolderRef, values map[propcodec.Tag]propcodec.Value) error

	// CreateMessage creates a new message in fid with the given mid, before
	// SetMessageProperties is called to populate it.
	CreateMessage(fid FolderRef, mid MessageRef) error
	// CreateFolder creates a new child folder under parent with the given
	// hierarchy + property rows.
	CreateFolder(parent FolderRef, fid FolderRef, values map[propcodec.Tag]propcodec.Value) error

	// DeleteMessage removes mid from fid per mode.
	DeleteMessage(fid FolderRef, mid MessageRef, mode DeleteMode) error
	// DeleteFolderSubtree removes fid and every descendant.
	DeleteFolderSubtree(fid FolderRef) error

	// DeletedFmids reports fmids of rows of type tt in fid removed since
	// sinceGlobcnt, for tombstone-aware deletion sync.
	DeletedFmids(fid FolderRef, tt TableType, sinceGlobcnt uint64) ([]uint64, error)

	// MoveMessages relocates messages (by mid) from their current folder
	// into destination fid, assigning new destination mids/change keys.
	MoveMessages(sourceFid FolderRef, sourceMids []MessageRef, destFid FolderRef, destMids []MessageRef, changeKey []byte) error

	// SetReadFlag toggles a message's read state.
	SetReadFlag(fid FolderRef, mid MessageRef, read bool) error

	// IndexAdd/IndexRemove maintain the engine's source-key <-> fmid lookup
	// map alongside backend mutations.
	IndexAdd(mid MessageRef) error
	IndexRemove(mid MessageRef) error
}

// ReplicaIDs is the subset of Backend concerned with reserving id ranges on
// behalf of GetLocalReplicaIds (spec §4.8), kept separate because it talks
// to C4's allocator rather than to folder/message storage.
type ReplicaIDs interface {
	ReserveRange(count uint32) (firstGlobcnt uint64, guid idset.GUID, err error)
}

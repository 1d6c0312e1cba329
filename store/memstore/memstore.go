// Package memstore is the reference/test-double implementation of
// store.Backend (spec §6): a sqlite3 database reached through sqlx +
// squirrel, migrated with golang-migrate, with an optional S3 offload for
// large attachment payloads. It exists so C6/C7/C8 have something real to
// run against in tests; it is not the production store the spec places out
// of scope.
package memstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/icsfxd/icsfx/icserr"
	"github.com/icsfxd/icsfx/idset"
	"github.com/icsfxd/icsfx/namedprop"
	"github.com/icsfxd/icsfx/propcodec"
	"github.com/icsfxd/icsfx/store"
)

// noopRegistry satisfies namedprop.Registry for the property blobs memstore
// persists: every tag stored here already carries its final mapped id, so
// named-prefix resolution never triggers (propcodec.Tag.IsNamed is false
// for every tag below 0x8000, and store rows only ever use resolved tags).
type noopRegistry struct{}

func (noopRegistry) GetMapped(namedprop.Kind, idset.GUID, namedprop.Key) (uint16, error) {
	return 0, icserr.New(icserr.NotFound, "memstore: noopRegistry never resolves")
}
func (noopRegistry) GetName(uint16) (namedprop.Record, error) {
	return namedprop.Record{}, icserr.New(icserr.NotFound, "memstore: noopRegistry never resolves")
}
func (noopRegistry) GetOrCreate(namedprop.Kind, idset.GUID, namedprop.Key, uint16) (uint16, error) {
	return 0, icserr.New(icserr.NoSupport, "memstore: noopRegistry cannot assign ids")
}

const (
	ownerKindMessage = 0
	ownerKindFolder  = 1
)

// Store is the sqlite-backed store.Backend reference implementation.
type Store struct {
	db    *sqlx.DB
	blobs BlobStore // optional

	mu    sync.Mutex
	index map[store.MessageRef]bool
}

// New wraps an already-migrated *sqlx.DB (see Open). blobs may be nil.
func New(db *sqlx.DB, blobs BlobStore) *Store {
	return &Store{db: db, blobs: blobs, index: map[store.MessageRef]bool{}}
}

// DB exposes the underlying connection for callers (migrations tooling,
// maintenance jobs, tests) that need to reach columns store.Backend doesn't
// surface, such as the messages.change_number restriction column a real
// import path keeps in lockstep with PidTagChangeNumber.
func (s *Store) DB() *sqlx.DB { return s.db }

func encodeProp(tag propcodec.Tag, val propcodec.Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := propcodec.Push(&buf, tag, val, noopRegistry{}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeProp(blob []byte) (propcodec.Tag, propcodec.Value, error) {
	return propcodec.Pull(bytes.NewReader(blob), noopRegistry{})
}

func (s *Store) OpenFolder(fid store.FolderRef) (bool, error) {
	var n int
	err := s.db.Get(&n, `SELECT count(*) FROM folders WHERE fid = ? AND deleted = 0`, uint64(fid))
	if err != nil {
		return false, icserr.Wrap(icserr.BackendError, err)
	}
	return n > 0, nil
}

func (s *Store) OpenMessage(fid store.FolderRef, mid store.MessageRef) (bool, error) {
	var n int
	err := s.db.Get(&n, `SELECT count(*) FROM messages WHERE fid = ? AND mid = ? AND deleted = 0`, uint64(fid), uint64(mid))
	if err != nil {
		return false, icserr.Wrap(icserr.BackendError, err)
	}
	return n > 0, nil
}

func tableName(tt store.TableType) (string, error) {
	switch tt {
	case store.TableNormalMessages, store.TableFAIMessages:
		return "messages", nil
	case store.TableAttachments:
		return "attachments", nil
	case store.TableRecipients:
		return "recipients", nil
	case store.TableFolders:
		return "folders", nil
	default:
		return "", icserr.New(icserr.InvalidParameter, "memstore: unknown table type %d", tt)
	}
}

// OpenTable implements store.Backend for the two message tables; attachment
// and recipient tables are addressed per-message by FetchRow's owner id
// instead, so OpenTable only supports TableNormalMessages/TableFAIMessages.
func (s *Store) OpenTable(fid store.FolderRef, tt store.TableType, sinceGlobcnt uint64) ([]uint64, error) {
	if tt != store.TableNormalMessages && tt != store.TableFAIMessages {
		return nil, icserr.New(icserr.NoSupport, "memstore: OpenTable only supports message tables")
	}
	associated := 0
	if tt == store.TableFAIMessages {
		associated = 1
	}

	q := sq.Select("mid").From("messages").
		Where(sq.Eq{"fid": uint64(fid), "associated": associated, "deleted": 0}).
		Where(sq.Gt{"change_number": sinceGlobcnt}).
		OrderBy("mid")
	query, args, err := q.ToSql()
	if err != nil {
		return nil, icserr.Wrap(icserr.BackendError, err)
	}

	var mids []uint64
	if err := s.db.Select(&mids, query, args...); err != nil {
		return nil, icserr.Wrap(icserr.BackendError, err)
	}
	return mids, nil
}

// ChildFolders implements store.Backend.
func (s *Store) ChildFolders(fid store.FolderRef) ([]store.FolderRef, error) {
	var fids []uint64
	err := s.db.Select(&fids, `SELECT fid FROM folders WHERE parent_fid = ? AND deleted = 0 ORDER BY fid`, uint64(fid))
	if err != nil {
		return nil, icserr.Wrap(icserr.BackendError, err)
	}
	out := make([]store.FolderRef, len(fids))
	for i, f := range fids {
		out[i] = store.FolderRef(f)
	}
	return out, nil
}

func (s *Store) RowCount(fid store.FolderRef, tt store.TableType, sinceGlobcnt uint64) (int, error) {
	mids, err := s.OpenTable(fid, tt, sinceGlobcnt)
	if err != nil {
		return 0, err
	}
	return len(mids), nil
}

// FetchRow reads the requested tags for a message (tt = Normal/FAI, id=mid),
// an attachment (tt = Attachments, id packs (mid<<32 | attachNum) by
// convention of the caller), or a recipient (tt = Recipients, id packs
// (mid<<32 | rowID)).
func (s *Store) FetchRow(fid store.FolderRef, tt store.TableType, id uint64, tags []propcodec.Tag) (store.Row, error) {
	table, err := tableName(tt)
	if err != nil {
		return nil, err
	}

	switch tt {
	case store.TableNormalMessages, store.TableFAIMessages:
		return s.selectProps("message_props", "owner_id", id, tags, sq.Eq{"owner_kind": ownerKindMessage})
	case store.TableFolders:
		return s.selectProps("message_props", "owner_id", id, tags, sq.Eq{"owner_kind": ownerKindFolder})
	case store.TableAttachments:
		mid := id >> 32
		attachNum := id & 0xFFFFFFFF
		return s.selectProps(table, "mid", mid, tags, sq.Eq{"attach_num": attachNum})
	case store.TableRecipients:
		mid := id >> 32
		rowID := id & 0xFFFFFFFF
		return s.selectProps(table, "mid", mid, tags, sq.Eq{"row_id": rowID})
	default:
		return nil, icserr.New(icserr.NoSupport, "memstore: unsupported table type %d", tt)
	}
}

func (s *Store) selectProps(table, idCol string, id uint64, tags []propcodec.Tag, extra sq.Eq) (store.Row, error) {
	tagInts := make([]uint32, len(tags))
	for i, t := range tags {
		tagInts[i] = uint32(t)
	}

	where := sq.Eq{idCol: id, "tag": tagInts}
	for k, v := range extra {
		where[k] = v
	}
	query, args, err := sq.Select("tag", "blob").From(table).Where(where).ToSql()
	if err != nil {
		return nil, icserr.Wrap(icserr.BackendError, err)
	}

	type blobRow struct {
		Tag  uint32 `db:"tag"`
		Blob []byte `db:"blob"`
	}
	var rows []blobRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, icserr.Wrap(icserr.BackendError, err)
	}

	out := store.Row{}
	for _, r := range rows {
		tag, val, err := decodeProp(r.Blob)
		if err != nil {
			return nil, err
		}
		out[tag] = val
	}
	return out, nil
}

func (s *Store) setProps(table, idCol string, id uint64, values map[propcodec.Tag]propcodec.Value, extra map[string]interface{}) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return icserr.Wrap(icserr.BackendError, err)
	}
	defer tx.Rollback()

	for tag, val := range values {
		blob, err := encodeProp(tag, val)
		if err != nil {
			return err
		}
		cols := []string{idCol, "tag", "blob"}
		vals := []interface{}{id, uint32(tag), blob}
		_, ownerKindSet := extra["owner_kind"]
		for k, v := range extra {
			cols = append(cols, k)
			vals = append(vals, v)
		}
		if table == "message_props" && !ownerKindSet {
			cols = append(cols, "owner_kind")
			vals = append(vals, ownerKindMessage)
		}

		query, args, err := sq.Insert(table).Options("OR REPLACE").Columns(cols...).Values(vals...).ToSql()
		if err != nil {
			return icserr.Wrap(icserr.BackendError, err)
		}
		if _, err := tx.Exec(query, args...); err != nil {
			return icserr.Wrap(icserr.TransactionConflict, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return icserr.Wrap(icserr.TransactionConflict, err)
	}
	return nil
}

// PutAttachmentProps writes one attachment row's properties, keyed by its
// 0-based attachNum within mid.
func (s *Store) PutAttachmentProps(mid uint64, attachNum uint32, values map[propcodec.Tag]propcodec.Value) error {
	return s.setProps("attachments", "mid", mid, values, map[string]interface{}{"attach_num": attachNum})
}

// PutRecipientProps writes one recipient row's properties, keyed by its
// 0-based rowID within mid.
func (s *Store) PutRecipientProps(mid uint64, rowID uint32, values map[propcodec.Tag]propcodec.Value) error {
	return s.setProps("recipients", "mid", mid, values, map[string]interface{}{"row_id": rowID})
}

// AttachmentNums implements store.Backend, listing a message's attachment
// numbers in row order.
func (s *Store) AttachmentNums(mid store.MessageRef) ([]uint32, error) {
	var nums []uint32
	err := s.db.Select(&nums, `SELECT DISTINCT attach_num FROM attachments WHERE mid = ? ORDER BY attach_num`, uint64(mid))
	if err != nil {
		return nil, icserr.Wrap(icserr.BackendError, err)
	}
	return nums, nil
}

// RecipientRows implements store.Backend, listing a message's recipient
// row ids in row order.
func (s *Store) RecipientRows(mid store.MessageRef) ([]uint32, error) {
	var rows []uint32
	err := s.db.Select(&rows, `SELECT DISTINCT row_id FROM recipients WHERE mid = ? ORDER BY row_id`, uint64(mid))
	if err != nil {
		return nil, icserr.Wrap(icserr.BackendError, err)
	}
	return rows, nil
}

func (s *Store) SetMessageProperties(fid store.FolderRef, mid store.MessageRef, values map[propcodec.Tag]propcodec.Value) error {
	ok, err := s.OpenMessage(fid, mid)
	if err != nil {
		return err
	}
	if !ok {
		return icserr.New(icserr.NotFound, "memstore: no message %x in folder %x", uint64(mid), uint64(fid))
	}
	return s.setProps("message_props", "owner_id", uint64(mid), values, nil)
}

func (s *Store) SetFolderProperties(fid store.FolderRef, values map[propcodec.Tag]propcodec.Value) error {
	ok, err := s.OpenFolder(fid)
	if err != nil {
		return err
	}
	if !ok {
		return icserr.New(icserr.NotFound, "memstore: no folder %x", uint64(fid))
	}
	return s.setProps("message_props", "owner_id", uint64(fid), values, map[string]interface{}{"owner_kind": ownerKindFolder})
}

func (s *Store) CreateMessage(fid store.FolderRef, mid store.MessageRef) error {
	ok, err := s.OpenFolder(fid)
	if err != nil {
		return err
	}
	if !ok {
		return icserr.New(icserr.NotFound, "memstore: no folder %x", uint64(fid))
	}
	_, err = s.db.Exec(`INSERT INTO messages (mid, fid, associated) VALUES (?, ?, 0)`, uint64(mid), uint64(fid))
	if err != nil {
		return icserr.Wrap(icserr.BackendError, err)
	}
	return nil
}

func (s *Store) CreateFolder(parent store.FolderRef, fid store.FolderRef, values map[propcodec.Tag]propcodec.Value) error {
	_, err := s.db.Exec(`INSERT INTO folders (fid, parent_fid) VALUES (?, ?)`, uint64(fid), uint64(parent))
	if err != nil {
		return icserr.Wrap(icserr.BackendError, err)
	}
	return s.setProps("message_props", "owner_id", uint64(fid), values, map[string]interface{}{"owner_kind": ownerKindFolder})
}

func (s *Store) DeleteMessage(fid store.FolderRef, mid store.MessageRef, mode store.DeleteMode) error {
	var globcnt uint64
	err := s.db.Get(&globcnt, `SELECT change_number FROM messages WHERE fid = ? AND mid = ?`, uint64(fid), uint64(mid))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return icserr.Wrap(icserr.BackendError, err)
	}

	if mode == store.DeleteHard {
		if _, err := s.db.Exec(`DELETE FROM messages WHERE fid = ? AND mid = ?`, uint64(fid), uint64(mid)); err != nil {
			return icserr.Wrap(icserr.BackendError, err)
		}
	} else {
		if _, err := s.db.Exec(`UPDATE messages SET deleted = 1 WHERE fid = ? AND mid = ?`, uint64(fid), uint64(mid)); err != nil {
			return icserr.Wrap(icserr.BackendError, err)
		}
	}

	_, err = s.db.Exec(`INSERT INTO deleted_fmids (fid, table_type, fmid, globcnt) VALUES (?, ?, ?, ?)`,
		uint64(fid), int(store.TableNormalMessages), uint64(mid), globcnt)
	if err != nil {
		return icserr.Wrap(icserr.BackendError, err)
	}
	return nil
}

func (s *Store) DeleteFolderSubtree(fid store.FolderRef) error {
	var children []uint64
	if err := s.db.Select(&children, `SELECT fid FROM folders WHERE parent_fid = ?`, uint64(fid)); err != nil {
		return icserr.Wrap(icserr.BackendError, err)
	}
	for _, child := range children {
		if err := s.DeleteFolderSubtree(store.FolderRef(child)); err != nil {
			return err
		}
	}
	if _, err := s.db.Exec(`DELETE FROM messages WHERE fid = ?`, uint64(fid)); err != nil {
		return icserr.Wrap(icserr.BackendError, err)
	}
	if _, err := s.db.Exec(`DELETE FROM folders WHERE fid = ?`, uint64(fid)); err != nil {
		return icserr.Wrap(icserr.BackendError, err)
	}
	return nil
}

func (s *Store) DeletedFmids(fid store.FolderRef, tt store.TableType, sinceGlobcnt uint64) ([]uint64, error) {
	var fmids []uint64
	query := `SELECT fmid FROM deleted_fmids WHERE fid = ? AND table_type = ?`
	args := []interface{}{uint64(fid), int(tt)}
	if sinceGlobcnt > 0 {
		query += ` AND globcnt > ?`
		args = append(args, sinceGlobcnt)
	}
	err := s.db.Select(&fmids, query+` ORDER BY globcnt`, args...)
	if err != nil {
		return nil, icserr.Wrap(icserr.BackendError, err)
	}
	return fmids, nil
}

func (s *Store) MoveMessages(sourceFid store.FolderRef, sourceMids []store.MessageRef, destFid store.FolderRef, destMids []store.MessageRef, changeKey []byte) error {
	if len(sourceMids) != len(destMids) {
		return icserr.New(icserr.InvalidParameter, "memstore: source/destination mid count mismatch")
	}
	for i, srcMid := range sourceMids {
		destMid := destMids[i]
		_, err := s.db.Exec(`UPDATE messages SET fid = ?, mid = ? WHERE fid = ? AND mid = ?`,
			uint64(destFid), uint64(destMid), uint64(sourceFid), uint64(srcMid))
		if err != nil {
			return icserr.Wrap(icserr.BackendError, err)
		}
		_, err = s.db.Exec(`UPDATE message_props SET owner_id = ? WHERE owner_kind = ? AND owner_id = ?`,
			uint64(destMid), ownerKindMessage, uint64(srcMid))
		if err != nil {
			return icserr.Wrap(icserr.BackendError, err)
		}
	}
	return nil
}

func (s *Store) SetReadFlag(fid store.FolderRef, mid store.MessageRef, read bool) error {
	v := 0
	if read {
		v = 1
	}
	_, err := s.db.Exec(`UPDATE messages SET read_flag = ? WHERE fid = ? AND mid = ?`, v, uint64(fid), uint64(mid))
	if err != nil {
		return icserr.Wrap(icserr.BackendError, err)
	}
	return nil
}

func (s *Store) IndexAdd(mid store.MessageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[mid] = true
	return nil
}

func (s *Store) IndexRemove(mid store.MessageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.index, mid)
	return nil
}

// SaveAllocatorCheckpoint persists the cn allocator's next-globcnt watermark
// for replicaGUID, for the maintenance scheduler's periodic checkpoint job
// (spec §5: "the cn allocator must be atomic").
func (s *Store) SaveAllocatorCheckpoint(replicaGUID idset.GUID, next uint64) error {
	_, err := s.db.Exec(`
		INSERT INTO allocator_checkpoint (replica_guid, next_globcnt) VALUES (?, ?)
		ON CONFLICT(replica_guid) DO UPDATE SET next_globcnt = excluded.next_globcnt`,
		replicaGUID[:], next)
	if err != nil {
		return icserr.Wrap(icserr.BackendError, err)
	}
	return nil
}

// LoadAllocatorCheckpoint returns the last persisted watermark for
// replicaGUID, or ok=false if none was ever saved.
func (s *Store) LoadAllocatorCheckpoint(replicaGUID idset.GUID) (next uint64, ok bool, err error) {
	err = s.db.Get(&next, `SELECT next_globcnt FROM allocator_checkpoint WHERE replica_guid = ?`, replicaGUID[:])
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, icserr.Wrap(icserr.BackendError, err)
	}
	return next, true, nil
}

// LocalReplicaGUID returns this process's stable local replica GUID,
// generating and persisting one via google/uuid on first call (spec §3: the
// local replica's GUID must survive a process restart so fmids it issued
// before stay resolvable after).
func (s *Store) LocalReplicaGUID() (idset.GUID, error) {
	var blob []byte
	err := s.db.Get(&blob, `SELECT guid FROM local_replica WHERE id = 1`)
	if err == nil {
		var guid idset.GUID
		copy(guid[:], blob)
		return guid, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return idset.GUID{}, icserr.Wrap(icserr.BackendError, err)
	}

	raw, err := uuid.NewRandom()
	if err != nil {
		return idset.GUID{}, icserr.Wrap(icserr.BackendError, err)
	}
	guid := idset.GUID(raw)
	if _, err := s.db.Exec(`INSERT INTO local_replica (id, guid) VALUES (1, ?)`, guid[:]); err != nil {
		return idset.GUID{}, icserr.Wrap(icserr.BackendError, err)
	}
	return guid, nil
}

// PutAttachmentBlob stores an attachment's PidTagAttachDataBinary payload,
// offloading to the configured BlobStore when it exceeds
// largeAttachmentThreshold, and returns the bytes (or a reference blob) to
// embed as the attachment row's own value.
func (s *Store) PutAttachmentBlob(ctx context.Context, mid uint64, attachNum uint32, data []byte) ([]byte, error) {
	if s.blobs == nil || len(data) <= largeAttachmentThreshold {
		return data, nil
	}
	key := attachmentBlobKey(mid, attachNum)
	if err := s.blobs.Put(ctx, key, data); err != nil {
		return nil, icserr.Wrap(icserr.BackendError, err)
	}
	return []byte("s3:" + key), nil
}

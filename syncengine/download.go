package syncengine

import (
	"github.com/icsfxd/icsfx/fastxfer"
	"github.com/icsfxd/icsfx/icserr"
	"github.com/icsfxd/icsfx/ident"
	"github.com/icsfxd/icsfx/idset"
	"github.com/icsfxd/icsfx/metrics"
	"github.com/icsfxd/icsfx/namedprop"
	"github.com/icsfxd/icsfx/propcodec"
	"github.com/icsfxd/icsfx/store"
)

// Downloader materializes a SyncContext into a FastTransfer stream (spec
// §4.7, FastTransferSourceGetBuffer's first call): it walks the backend's
// contents or hierarchy tables, skips rows the client has already seen, and
// appends the common state section. A Downloader is single-use per context;
// callers build a fresh one whenever the context's staged state changes.
type Downloader struct {
	sc       *SyncContext
	backend  store.Backend
	reg      namedprop.Registry
	replicas *ident.ReplicaTable
	metrics  *metrics.Registry
}

// NewDownloader wires a materializer against the backend and replica table
// the session's store and identity layers already maintain.
func NewDownloader(sc *SyncContext, backend store.Backend, reg namedprop.Registry, replicas *ident.ReplicaTable) *Downloader {
	return &Downloader{sc: sc, backend: backend, reg: reg, replicas: replicas}
}

// WithMetrics attaches a metrics registry the downloader reports row and
// byte counters to. m may be nil, in which case reporting is a no-op.
//
// AddBytes is reported once per Materialize/GetTransferState call, as the
// total size of the buffer produced -- a FastTransferSourceGetBuffer caller
// then reads that buffer in its own chunked calls, outside this type's
// control, so "bytes per GetBuffer call" is approximated here as "bytes per
// materialize call" rather than threading metrics into fastxfer.Reader.
func (d *Downloader) WithMetrics(m *metrics.Registry) *Downloader {
	d.metrics = m
	return d
}

func (d *Downloader) syncMode() string {
	if d.sc.ContentsMode {
		return "contents"
	}
	return "hierarchy"
}

// downloadAccum holds the globcnts this pass newly records, kept separate
// from the context's own client_* sets (which are read-only inputs to a
// download) until the state section merges them (spec §4.7 state section).
type downloadAccum struct {
	newCnsetSeen  *idset.Raw
	newIdsetGiven *idset.Raw
}

func newAccum() *downloadAccum {
	return &downloadAccum{
		newCnsetSeen:  idset.NewRaw(true),
		newIdsetGiven: idset.NewRaw(false),
	}
}

// localThreshold returns max_globcnt(client_cnset_seen[local_replica]),
// the change-number restriction floor of spec §4.7 step 2.
func (d *Downloader) localThreshold() uint64 {
	g, ok := d.sc.CnsetSeen.MaxGlobcnt(d.replicas.LocalGUID())
	if !ok {
		return 0
	}
	return g
}

// Materialize builds the full change-record + state stream.
func (d *Downloader) Materialize() (*fastxfer.Reader, error) {
	s := fastxfer.NewStream()
	acc := newAccum()
	var deletedRaw *idset.Raw

	if d.sc.ContentsMode {
		if d.sc.Options.Normal {
			if err := d.walkContents(s, acc, store.TableNormalMessages, d.sc.NormalProps); err != nil {
				return nil, err
			}
		}
		if d.sc.Options.FAI {
			if err := d.walkContents(s, acc, store.TableFAIMessages, d.sc.FAIProps); err != nil {
				return nil, err
			}
		}
		if !d.sc.Options.NoDeletions {
			raw, err := d.emitDeletions(s, store.TableNormalMessages)
			if err != nil {
				return nil, err
			}
			deletedRaw = raw
		}
	} else {
		if err := d.walkHierarchy(s, acc, d.sc.Folder, true); err != nil {
			return nil, err
		}
	}

	if err := d.emitStateSection(s, acc, deletedRaw); err != nil {
		return nil, err
	}
	reader := s.Finalize()
	d.metrics.AddBytes(d.syncMode(), reader.Len())
	return reader, nil
}

// GetTransferState implements the SyncGetTransferState variant (spec §4.7):
// walks the current folder's subtree/tables to compute the union of the
// client's prior state with whatever currently exists, but emits only the
// state section -- no change records.
func (d *Downloader) GetTransferState() (*fastxfer.Reader, error) {
	s := fastxfer.NewStream()
	acc := newAccum()

	if d.sc.ContentsMode {
		if d.sc.Options.Normal {
			if err := d.scanContentsState(acc, store.TableNormalMessages); err != nil {
				return nil, err
			}
		}
		if d.sc.Options.FAI {
			if err := d.scanContentsState(acc, store.TableFAIMessages); err != nil {
				return nil, err
			}
		}
	} else {
		if err := d.scanHierarchyState(acc, d.sc.Folder); err != nil {
			return nil, err
		}
	}

	if err := d.emitStateSection(s, acc, nil); err != nil {
		return nil, err
	}
	reader := s.Finalize()
	d.metrics.AddBytes(d.syncMode(), reader.Len())
	return reader, nil
}

func (d *Downloader) walkContents(s *fastxfer.Stream, acc *downloadAccum, tt store.TableType, props []propcodec.Tag) error {
	mids, err := d.backend.OpenTable(d.sc.Folder, tt, d.localThreshold())
	if err != nil {
		return err
	}
	for _, mid := range mids {
		if err := d.emitMessage(s, acc, tt, mid, props); err != nil {
			return err
		}
	}
	return nil
}

func (d *Downloader) cnGUIDAndGlobcnt(cn uint64) (idset.GUID, uint64, bool) {
	replid, globcnt := ident.FmidUnpack(cn)
	guid, ok := d.replicas.GUIDForReplID(replid)
	return guid, globcnt, ok
}

// emitMessage runs one row's state machine of spec §4.7 step 3: skip if
// already seen, otherwise IncrSyncChg, header block, IncrSyncMsg, remaining
// properties, recipients, attachments.
func (d *Downloader) emitMessage(s *fastxfer.Stream, acc *downloadAccum, tt store.TableType, mid uint64, props []propcodec.Tag) error {
	row, err := d.backend.FetchRow(d.sc.Folder, tt, mid, props)
	if err != nil {
		return err
	}

	cnVal, ok := row[PidTagChangeNumber]
	if !ok {
		return icserr.New(icserr.NotFound, "syncengine: row %x missing ChangeNumber", mid)
	}
	cnGUID, cnGlobcnt, ok := d.cnGUIDAndGlobcnt(cnVal.U64)
	if !ok {
		return icserr.New(icserr.NotFound, "syncengine: row %x change number has unknown replid", mid)
	}
	if d.sc.CnsetSeen.Includes(cnGUID, cnGlobcnt) {
		d.metrics.AddSkipped("message")
		return nil
	}
	acc.newCnsetSeen.Push(cnGUID, cnGlobcnt)
	d.metrics.AddRow("message")

	midGUID, midGlobcnt, ok := d.cnGUIDAndGlobcnt(mid)
	if !ok {
		return icserr.New(icserr.NotFound, "syncengine: row %x has unknown replid", mid)
	}
	acc.newIdsetGiven.Push(midGUID, midGlobcnt)

	sourceKey, err := ident.SourceKeyFromFmid(d.replicas, mid)
	if err != nil {
		return err
	}

	s.WriteMarker(fastxfer.IncrSyncChg)

	header := map[uint16]bool{}
	writeHeader := func(tag propcodec.Tag, val propcodec.Value) error {
		header[tag.PropID()] = true
		return s.WriteProperty(tag, val, d.reg)
	}

	if err := writeHeader(PidTagSourceKey, propcodec.BinaryValue(sourceKey[:])); err != nil {
		return err
	}
	for _, tag := range []propcodec.Tag{PidTagLastModificationTime, PidTagChangeKey, PidTagPredecessorChangeList, PidTagAssociated} {
		if v, ok := row[tag]; ok {
			if err := writeHeader(tag, v); err != nil {
				return err
			}
		}
	}
	if d.sc.Options.RequestEID {
		if err := writeHeader(PidTagMid, propcodec.I8Value(mid)); err != nil {
			return err
		}
	}
	if d.sc.Options.RequestMessageSize {
		if v, ok := row[PidTagMessageSize]; ok {
			if err := writeHeader(PidTagMessageSize, v); err != nil {
				return err
			}
		}
	}
	if d.sc.Options.RequestCN {
		if err := writeHeader(PidTagChangeNumber, cnVal); err != nil {
			return err
		}
	}

	s.WriteMarker(fastxfer.IncrSyncMsg)

	for _, tag := range props {
		if header[tag.PropID()] {
			continue
		}
		if v, ok := row[tag]; ok {
			if err := s.WriteProperty(tag, v, d.reg); err != nil {
				return err
			}
		}
	}

	if err := d.emitRecipients(s, store.MessageRef(mid)); err != nil {
		return err
	}
	return d.emitAttachments(s, store.MessageRef(mid))
}

// emitRecipients writes the recipients sub-block of spec §4.7. A message
// with no recipients emits nothing, matching "missing column value ⇒
// NotFound; the codec skips unsuccessful entries" for the degenerate case
// of an empty recipient table.
func (d *Downloader) emitRecipients(s *fastxfer.Stream, mid store.MessageRef) error {
	rowIDs, err := d.backend.RecipientRows(mid)
	if err != nil {
		return err
	}
	if len(rowIDs) == 0 {
		return nil
	}

	s.WriteMarker(fastxfer.FXDelProp)
	for _, rowID := range rowIDs {
		packed := uint64(mid)<<32 | uint64(rowID)
		row, err := d.backend.FetchRow(d.sc.Folder, store.TableRecipients, packed, recipientColumns)
		if err != nil {
			return err
		}

		s.WriteMarker(fastxfer.StartRecip)
		if err := s.WriteProperty(PidTagRowID, propcodec.LongValue(rowID), d.reg); err != nil {
			return err
		}
		for _, tag := range recipientColumns {
			if v, ok := row[tag]; ok {
				if err := s.WriteProperty(tag, v, d.reg); err != nil {
					return err
				}
			}
		}
		s.WriteMarker(fastxfer.EndToRecip)
		d.metrics.AddRow("recipient")
	}
	return nil
}

// emitAttachments writes the attachments sub-block of spec §4.7.
func (d *Downloader) emitAttachments(s *fastxfer.Stream, mid store.MessageRef) error {
	nums, err := d.backend.AttachmentNums(mid)
	if err != nil {
		return err
	}
	for _, num := range nums {
		packed := uint64(mid)<<32 | uint64(num)
		row, err := d.backend.FetchRow(d.sc.Folder, store.TableAttachments, packed, attachmentColumns)
		if err != nil {
			return err
		}

		s.WriteMarker(fastxfer.NewAttach)
		if err := s.WriteProperty(PidTagAttachNumber, propcodec.LongValue(num), d.reg); err != nil {
			return err
		}
		for _, tag := range attachmentColumns {
			if tag == PidTagAttachNumber {
				continue
			}
			if v, ok := row[tag]; ok {
				if err := s.WriteProperty(tag, v, d.reg); err != nil {
					return err
				}
			}
		}
		s.WriteMarker(fastxfer.EndAttach)
		d.metrics.AddRow("attachment")
	}
	return nil
}

// emitDeletions writes the IncrSyncDel/IdsetDeleted block of spec §4.7 step
// 4 and returns the raw deleted-globcnt set so the state section can remove
// those entries from the IdsetGiven it reports going forward.
func (d *Downloader) emitDeletions(s *fastxfer.Stream, tt store.TableType) (*idset.Raw, error) {
	fmids, err := d.backend.DeletedFmids(d.sc.Folder, tt, d.localThreshold())
	if err != nil {
		return nil, err
	}
	if len(fmids) == 0 {
		return nil, nil
	}

	raw := idset.NewRaw(false)
	for _, fmid := range fmids {
		if guid, globcnt, ok := d.cnGUIDAndGlobcnt(fmid); ok {
			raw.Push(guid, globcnt)
		}
	}

	deletedSet := idset.RawToRanged(raw)
	deletedSet.IDBased = true

	s.WriteMarker(fastxfer.IncrSyncDel)
	if err := s.WriteIdsetProperty(fastxfer.IdsetDeleted, deletedSet, d.replicas); err != nil {
		return nil, err
	}
	return raw, nil
}

// walkHierarchy recurses depth-first over the folder subtree (spec §4.7
// hierarchy mode). topLevel marks direct children of the context's own
// folder, whose parent source key is emitted as an empty blob.
func (d *Downloader) walkHierarchy(s *fastxfer.Stream, acc *downloadAccum, fid store.FolderRef, topLevel bool) error {
	children, err := d.backend.ChildFolders(fid)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := d.emitFolder(s, acc, fid, child, topLevel); err != nil {
			return err
		}
		if err := d.walkHierarchy(s, acc, child, false); err != nil {
			return err
		}
	}
	return nil
}

func (d *Downloader) emitFolder(s *fastxfer.Stream, acc *downloadAccum, parent, fid store.FolderRef, topLevel bool) error {
	row, err := d.backend.FetchRow(fid, store.TableFolders, uint64(fid), d.sc.NormalProps)
	if err != nil {
		return err
	}

	cnVal, ok := row[PidTagChangeNumber]
	if !ok {
		return icserr.New(icserr.NotFound, "syncengine: folder %x missing ChangeNumber", uint64(fid))
	}
	cnGUID, cnGlobcnt, ok := d.cnGUIDAndGlobcnt(cnVal.U64)
	if !ok {
		return icserr.New(icserr.NotFound, "syncengine: folder %x change number has unknown replid", uint64(fid))
	}
	if d.sc.CnsetSeen.Includes(cnGUID, cnGlobcnt) {
		d.metrics.AddSkipped("folder")
		return nil
	}
	acc.newCnsetSeen.Push(cnGUID, cnGlobcnt)
	d.metrics.AddRow("folder")

	fidGUID, fidGlobcnt, ok := d.cnGUIDAndGlobcnt(uint64(fid))
	if !ok {
		return icserr.New(icserr.NotFound, "syncengine: folder %x has unknown replid", uint64(fid))
	}
	acc.newIdsetGiven.Push(fidGUID, fidGlobcnt)

	sourceKey, err := ident.SourceKeyFromFmid(d.replicas, uint64(fid))
	if err != nil {
		return err
	}
	var parentSourceKeyBlob []byte
	if !topLevel {
		parentSourceKey, err := ident.SourceKeyFromFmid(d.replicas, uint64(parent))
		if err != nil {
			return err
		}
		parentSourceKeyBlob = parentSourceKey[:]
	}

	s.WriteMarker(fastxfer.IncrSyncChg)

	header := map[uint16]bool{}
	writeHeader := func(tag propcodec.Tag, val propcodec.Value) error {
		header[tag.PropID()] = true
		return s.WriteProperty(tag, val, d.reg)
	}

	if err := writeHeader(PidTagParentSourceKey, propcodec.BinaryValue(parentSourceKeyBlob)); err != nil {
		return err
	}
	if err := writeHeader(PidTagSourceKey, propcodec.BinaryValue(sourceKey[:])); err != nil {
		return err
	}
	for _, tag := range []propcodec.Tag{PidTagLastModificationTime, PidTagChangeKey, PidTagPredecessorChangeList, PidTagDisplayNameUnicode} {
		if v, ok := row[tag]; ok {
			if err := writeHeader(tag, v); err != nil {
				return err
			}
		}
	}
	if d.sc.Options.RequestEID {
		if err := writeHeader(PidTagFid, propcodec.I8Value(uint64(fid))); err != nil {
			return err
		}
		if err := writeHeader(PidTagParentFid, propcodec.I8Value(uint64(parent))); err != nil {
			return err
		}
	}

	s.WriteMarker(fastxfer.IncrSyncMsg)

	for _, tag := range d.sc.NormalProps {
		if header[tag.PropID()] {
			continue
		}
		if v, ok := row[tag]; ok {
			if err := s.WriteProperty(tag, v, d.reg); err != nil {
				return err
			}
		}
	}
	return nil
}

// scanContentsState records every row's globcnts with no skip check, for
// SyncGetTransferState's "union of prior state with whatever currently
// exists" contract.
func (d *Downloader) scanContentsState(acc *downloadAccum, tt store.TableType) error {
	mids, err := d.backend.OpenTable(d.sc.Folder, tt, 0)
	if err != nil {
		return err
	}
	for _, mid := range mids {
		row, err := d.backend.FetchRow(d.sc.Folder, tt, mid, []propcodec.Tag{PidTagChangeNumber})
		if err != nil {
			return err
		}
		if cnVal, ok := row[PidTagChangeNumber]; ok {
			if guid, globcnt, ok := d.cnGUIDAndGlobcnt(cnVal.U64); ok {
				acc.newCnsetSeen.Push(guid, globcnt)
			}
		}
		if guid, globcnt, ok := d.cnGUIDAndGlobcnt(mid); ok {
			acc.newIdsetGiven.Push(guid, globcnt)
		}
	}
	return nil
}

func (d *Downloader) scanHierarchyState(acc *downloadAccum, fid store.FolderRef) error {
	children, err := d.backend.ChildFolders(fid)
	if err != nil {
		return err
	}
	for _, child := range children {
		row, err := d.backend.FetchRow(child, store.TableFolders, uint64(child), []propcodec.Tag{PidTagChangeNumber})
		if err != nil {
			return err
		}
		if cnVal, ok := row[PidTagChangeNumber]; ok {
			if guid, globcnt, ok := d.cnGUIDAndGlobcnt(cnVal.U64); ok {
				acc.newCnsetSeen.Push(guid, globcnt)
			}
		}
		if guid, globcnt, ok := d.cnGUIDAndGlobcnt(uint64(child)); ok {
			acc.newIdsetGiven.Push(guid, globcnt)
		}
		if err := d.scanHierarchyState(acc, child); err != nil {
			return err
		}
	}
	return nil
}

// emitStateSection writes the common state section of spec §4.7: merged
// CnsetSeen, conditional CnsetSeenFAI, merged IdsetGiven (with deletedRaw
// subtracted, if any), conditional CnsetRead.
func (d *Downloader) emitStateSection(s *fastxfer.Stream, acc *downloadAccum, deletedRaw *idset.Raw) error {
	newCnsetSeen := idset.RawToRanged(acc.newCnsetSeen)
	newIdsetGiven := idset.RawToRanged(acc.newIdsetGiven)

	cnsetSeen := idset.Merge(d.sc.CnsetSeen, newCnsetSeen)
	d.metrics.ObserveMerge("cnset_seen", rangeCount(d.sc.CnsetSeen)+rangeCount(newCnsetSeen))
	idsetGiven := idset.Merge(d.sc.IdsetGiven, newIdsetGiven)
	d.metrics.ObserveMerge("idset_given", rangeCount(d.sc.IdsetGiven)+rangeCount(newIdsetGiven))
	if deletedRaw != nil {
		idsetGiven.Remove(deletedRaw)
	}

	s.WriteMarker(fastxfer.IncrSyncStateBegin)
	if err := s.WriteIdsetProperty(fastxfer.CnsetSeen, cnsetSeen, d.replicas); err != nil {
		return err
	}
	if d.sc.ContentsMode && d.sc.Options.FAI {
		cnsetSeenFAI := idset.Merge(d.sc.CnsetSeenFAI, newCnsetSeen)
		d.metrics.ObserveMerge("cnset_seen_fai", rangeCount(d.sc.CnsetSeenFAI)+rangeCount(newCnsetSeen))
		if err := s.WriteIdsetProperty(fastxfer.CnsetSeenFAI, cnsetSeenFAI, d.replicas); err != nil {
			return err
		}
	}
	if err := s.WriteIdsetProperty(fastxfer.IdsetGiven, idsetGiven, d.replicas); err != nil {
		return err
	}
	if d.sc.ContentsMode && d.sc.Options.ReadState {
		if err := s.WriteIdsetProperty(fastxfer.CnsetRead, d.sc.CnsetRead, d.replicas); err != nil {
			return err
		}
	}
	s.WriteMarker(fastxfer.IncrSyncStateEnd)
	s.WriteMarker(fastxfer.IncrSyncEnd)
	return nil
}

// rangeCount sums the per-replica range count of s, the cheap proxy
// emitStateSection reports as idset.Merge's input size for the merge-ranges
// histogram.
func rangeCount(s *idset.Set) int {
	n := 0
	for _, guid := range s.Replicas() {
		n += len(s.Ranges(guid))
	}
	return n
}

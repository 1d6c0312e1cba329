// Package ident implements the identifier primitives of spec component C4:
// fmid <-> (replid, globcnt) packing, source-key blobs, change-number
// allocation, and the per-owner replica-GUID <-> replid bijection.
package ident

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"

	"github.com/icsfxd/icsfx/icserr"
	"github.com/icsfxd/icsfx/idset"
)

// LocalReplID is the replid of the mailbox owner's own (local) replica.
const LocalReplID uint16 = 0x0001

const globcntMask = (uint64(1) << 48) - 1

// FmidPack combines a replid and 48-bit globcnt into a 64-bit fmid/cn value:
// (globcnt << 16) | replid.
func FmidPack(replid uint16, globcnt uint64) uint64 {
	return (globcnt&globcntMask)<<16 | uint64(replid)
}

// FmidUnpack splits a 64-bit fmid/cn value back into (replid, globcnt).
func FmidUnpack(fmid uint64) (replid uint16, globcnt uint64) {
	return uint16(fmid & 0xFFFF), (fmid >> 16) & globcntMask
}

// SourceKey is the 22-byte on-wire identity: 16-byte GUID followed by a
// 6-byte little-endian globcnt.
type SourceKey [22]byte

// ReplicaTable is the per-owner, read-mostly GUID<->replid bijection of
// spec §3/§5. Writes happen only on replica provisioning and are rare and
// guarded by a mutex; reads take the same mutex since the table is tiny.
type ReplicaTable struct {
	mu        sync.RWMutex
	guidToID  map[idset.GUID]uint16
	idToGUID  map[uint16]idset.GUID
	nextReply uint16
}

// NewReplicaTable returns a table pre-seeded with the local replica.
func NewReplicaTable(localGUID idset.GUID) *ReplicaTable {
	t := &ReplicaTable{
		guidToID: map[idset.GUID]uint16{},
		idToGUID: map[uint16]idset.GUID{},
	}
	t.guidToID[localGUID] = LocalReplID
	t.idToGUID[LocalReplID] = localGUID
	t.nextReply = LocalReplID + 1
	return t
}

// GUIDForReplID satisfies idset.ReplicaResolver.
func (t *ReplicaTable) GUIDForReplID(replid uint16) (idset.GUID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	g, ok := t.idToGUID[replid]
	return g, ok
}

// ReplIDForGUID satisfies idset.ReplicaResolver.
func (t *ReplicaTable) ReplIDForGUID(guid idset.GUID) (uint16, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.guidToID[guid]
	return id, ok
}

// LocalGUID returns the owner's own replica GUID.
func (t *ReplicaTable) LocalGUID() idset.GUID {
	g, _ := t.GUIDForReplID(LocalReplID)
	return g
}

// Provision assigns a fresh replid to a newly-seen replica GUID, generating
// one via google/uuid if guid is the zero value. This is rare (remote
// replica introduction) and happens under the write lock.
func (t *ReplicaTable) Provision(guid idset.GUID) (uint16, idset.GUID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if guid == (idset.GUID{}) {
		raw, err := uuid.NewRandom()
		if err != nil {
			return 0, idset.GUID{}, icserr.Wrap(icserr.BackendError, err)
		}
		guid = idset.GUID(raw)
	}

	if id, ok := t.guidToID[guid]; ok {
		return id, guid, nil
	}

	id := t.nextReply
	t.nextReply++
	t.guidToID[guid] = id
	t.idToGUID[id] = guid
	return id, guid, nil
}

// FmidFromSourceKey resolves a 22-byte source key into an fmid, verifying
// that the embedded replica GUID is known to owner.
func FmidFromSourceKey(owner *ReplicaTable, key SourceKey) (uint64, error) {
	var guid idset.GUID
	copy(guid[:], key[:16])

	replid, ok := owner.ReplIDForGUID(guid)
	if !ok {
		return 0, icserr.New(icserr.NotFound, "ident: unknown replica guid %s in source key", guid)
	}

	globcnt := uint64(key[16]) | uint64(key[17])<<8 | uint64(key[18])<<16 |
		uint64(key[19])<<24 | uint64(key[20])<<32 | uint64(key[21])<<40

	return FmidPack(replid, globcnt), nil
}

// SourceKeyFromFmid is the inverse of FmidFromSourceKey.
func SourceKeyFromFmid(owner *ReplicaTable, fmid uint64) (SourceKey, error) {
	replid, globcnt := FmidUnpack(fmid)

	guid, ok := owner.GUIDForReplID(replid)
	if !ok {
		return SourceKey{}, icserr.New(icserr.NotFound, "ident: unknown replid %d for owner", replid)
	}

	var key SourceKey
	copy(key[:16], guid[:])
	var gc [6]byte
	binary.LittleEndian.PutUint32(gc[:4], uint32(globcnt))
	gc[4] = byte(globcnt >> 32)
	gc[5] = byte(globcnt >> 40)
	copy(key[16:], gc[:])
	return key, nil
}

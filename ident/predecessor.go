package ident

import (
	"github.com/icsfxd/icsfx/icserr"
	"github.com/icsfxd/icsfx/internal/log"
)

// PredecessorChangeList is a length-prefixed concatenation of (cb, change-key)
// entries, newest first (spec §4.4): each modification prepends a fresh
// entry built from the change that just happened.
type PredecessorChangeList []byte

// Prepend builds a new predecessor change list with changeKey inserted
// before the existing entries.
func Prepend(existing PredecessorChangeList, changeKey []byte) PredecessorChangeList {
	if len(changeKey) > 0xFF {
		// The legacy format this mirrors caps an individual change-key at one
		// byte of length; a key this long can't happen from this package's
		// own SourceKeyFromFmid-derived keys, but guard rather than truncate
		// silently.
		log.Warnf("ident: predecessor change-key of length %d exceeds 255, truncating", len(changeKey))
		changeKey = changeKey[:0xFF]
	}

	out := make(PredecessorChangeList, 0, len(changeKey)+1+len(existing))
	out = append(out, byte(len(changeKey)))
	out = append(out, changeKey...)
	out = append(out, existing...)
	return out
}

// ChangeKeyFromFmidCN builds a change-key from an allocated cn: the cn's
// replica GUID followed by its 6-byte globcnt (SourceKeyFromFmid applied to
// the cn), the conventional "this replica, this change" identity used as a
// predecessor entry. The object's own fmid is not part of the key.
func ChangeKeyFromFmidCN(owner *ReplicaTable, cn uint64) ([]byte, error) {
	key, err := SourceKeyFromFmid(owner, cn)
	if err != nil {
		return nil, err
	}
	return key[:], nil
}

// Entries parses a PredecessorChangeList into its (cb, change-key) entries,
// newest first. A truncated entry is a malformed stream, not a partial
// success -- per §7, it is reported as IdSetMalformed since the predecessor
// list shares the same "self-describing stream" shape as an idset.
func Entries(list PredecessorChangeList) ([][]byte, error) {
	var out [][]byte
	for len(list) > 0 {
		cb := int(list[0])
		list = list[1:]
		if cb > len(list) {
			return nil, icserr.New(icserr.IdSetMalformed, "ident: truncated predecessor change-key, want %d bytes have %d", cb, len(list))
		}
		out = append(out, list[:cb])
		list = list[cb:]
	}
	return out, nil
}

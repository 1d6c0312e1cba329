// Package namedprop implements the named-property registry (spec component
// C3): the persistent (kind, guid, id|name) <-> mapped_id bijection that lets
// a 16-bit tag stand in for an arbitrary named property in both the wire
// stream (C2) and the store backend.
package namedprop

import "github.com/icsfxd/icsfx/idset"

// Kind discriminates how a named property's key is carried.
type Kind uint8

const (
	ByID Kind = iota
	ByString
)

func (k Kind) String() string {
	if k == ByString {
		return "ByString"
	}
	return "ById"
}

// Key is the (id | name) half of a named-property identity. Exactly one of
// ID/Name is meaningful, selected by the owning Kind.
type Key struct {
	ID   uint32
	Name string
}

// Record is one row of the registry: a full (kind, guid, key) <-> mapped_id
// mapping, as returned by GetName and iterated by a seed loader.
type Record struct {
	MappedID uint16
	Kind     Kind
	GUID     idset.GUID
	Key      Key
	PropType uint16 // reserved, carried through from the seed descriptor
}

// Registry is the C3 operation surface. Implementations must serialize the
// next_unused+create pair (spec §4.3, §5) so concurrent callers never claim
// the same mapped_id for distinct tuples, and must make create idempotent on
// an identical tuple.
type Registry interface {
	// GetMapped looks up an existing mapping; returns icserr.NotFound if absent.
	GetMapped(kind Kind, guid idset.GUID, key Key) (mappedID uint16, err error)

	// GetName is the inverse lookup, keyed by mapped_id.
	GetName(mappedID uint16) (Record, error)

	// GetOrCreate returns the existing mapping for (kind, guid, key), or
	// atomically assigns and persists a fresh one (next_unused + create,
	// wrapped in a single backend transaction).
	GetOrCreate(kind Kind, guid idset.GUID, key Key, propType uint16) (mappedID uint16, err error)
}

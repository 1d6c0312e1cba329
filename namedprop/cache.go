package namedprop

import (
	"sync"

	"github.com/icsfxd/icsfx/idset"
)

// CachingRegistry wraps a backing Registry with an in-memory read cache,
// keyed on both lookup directions. The named-property registry is read far
// more often than written (spec §5: "process-wide mutable state" with rare
// writes on new-property discovery), so caching the forward/reverse maps
// avoids a backend round trip on the hot path once warmed.
type CachingRegistry struct {
	backing Registry

	mu       sync.RWMutex
	byKey    map[cacheKey]uint16
	byMapped map[uint16]Record
}

type cacheKey struct {
	kind Kind
	guid idset.GUID
	id   uint32
	name string
}

// NewCachingRegistry wraps backing with an empty cache.
func NewCachingRegistry(backing Registry) *CachingRegistry {
	return &CachingRegistry{
		backing:  backing,
		byKey:    map[cacheKey]uint16{},
		byMapped: map[uint16]Record{},
	}
}

func toCacheKey(kind Kind, guid idset.GUID, key Key) cacheKey {
	return cacheKey{kind: kind, guid: guid, id: key.ID, name: key.Name}
}

func (c *CachingRegistry) put(rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[toCacheKey(rec.Kind, rec.GUID, rec.Key)] = rec.MappedID
	c.byMapped[rec.MappedID] = rec
}

// GetMapped serves from cache when warm, otherwise falls through to the
// backing registry and caches the result.
func (c *CachingRegistry) GetMapped(kind Kind, guid idset.GUID, key Key) (uint16, error) {
	ck := toCacheKey(kind, guid, key)
	c.mu.RLock()
	if id, ok := c.byKey[ck]; ok {
		c.mu.RUnlock()
		return id, nil
	}
	c.mu.RUnlock()

	id, err := c.backing.GetMapped(kind, guid, key)
	if err != nil {
		return 0, err
	}
	c.put(Record{MappedID: id, Kind: kind, GUID: guid, Key: key})
	return id, nil
}

// GetName serves from cache when warm, otherwise falls through.
func (c *CachingRegistry) GetName(mappedID uint16) (Record, error) {
	c.mu.RLock()
	if rec, ok := c.byMapped[mappedID]; ok {
		c.mu.RUnlock()
		return rec, nil
	}
	c.mu.RUnlock()

	rec, err := c.backing.GetName(mappedID)
	if err != nil {
		return Record{}, err
	}
	c.put(rec)
	return rec, nil
}

// GetOrCreate always writes through the backing registry (creation must
// serialize on its transaction, spec §5), caching the result either way.
func (c *CachingRegistry) GetOrCreate(kind Kind, guid idset.GUID, key Key, propType uint16) (uint16, error) {
	id, err := c.backing.GetOrCreate(kind, guid, key, propType)
	if err != nil {
		return 0, err
	}
	c.put(Record{MappedID: id, Kind: kind, GUID: guid, Key: key, PropType: propType})
	return id, nil
}

// WarmUp preloads the cache with every record the backing registry knows
// about, up to maxMappedID. It is meant to run once at startup and
// periodically thereafter (the maintenance scheduler's cache warm-up job),
// so the hot GetMapped/GetName path rarely misses.
func (c *CachingRegistry) WarmUp(maxMappedID uint16) int {
	n := 0
	for id := uint16(0); id < maxMappedID; id++ {
		rec, err := c.backing.GetName(id)
		if err != nil {
			continue
		}
		c.put(rec)
		n++
	}
	return n
}

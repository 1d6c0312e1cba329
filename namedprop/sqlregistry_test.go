package namedprop

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icsfxd/icsfx/idset"
)

func newTestRegistry(t *testing.T) *SQLRegistry {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "namedprop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLRegistry(db)
}

func TestGetOrCreateAssignsSequentialIDs(t *testing.T) {
	reg := newTestRegistry(t)
	guid := idset.GUID{1, 2, 3}

	id1, err := reg.GetOrCreate(ByString, guid, Key{Name: "X-Custom"}, 0x001F)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x8000), id1)

	id2, err := reg.GetOrCreate(ByString, guid, Key{Name: "X-Custom"}, 0x001F)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := reg.GetOrCreate(ByString, guid, Key{Name: "X-Other"}, 0x001F)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x8001), id3)
}

func TestGetOrCreateConcurrentNoDuplicates(t *testing.T) {
	reg := newTestRegistry(t)
	guid := idset.GUID{9}

	const n = 20
	var wg sync.WaitGroup
	ids := make([]uint16, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := reg.GetOrCreate(ByID, guid, Key{ID: uint32(i)}, 0x0003)
			if err == nil {
				ids[i] = id
			}
		}(i)
	}
	wg.Wait()

	seen := map[uint16]bool{}
	for _, id := range ids {
		if id == 0 {
			continue
		}
		assert.False(t, seen[id], "duplicate mapped_id %d", id)
		seen[id] = true
	}
}

func TestGetNameRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	guid := idset.GUID{7}

	id, err := reg.GetOrCreate(ByID, guid, Key{ID: 42}, 0x0003)
	require.NoError(t, err)

	rec, err := reg.GetName(id)
	require.NoError(t, err)
	assert.Equal(t, ByID, rec.Kind)
	assert.Equal(t, guid, rec.GUID)
	assert.Equal(t, uint32(42), rec.Key.ID)
}

func TestBootstrapSeed(t *testing.T) {
	reg := newTestRegistry(t)
	seed := []byte(`[
		{"objectClass":"MNID_ID","oleguid":"00062008-0000-0000-C000-000000000046","propId":34,"mappedId":32768,"propType":"PT_LONG"},
		{"objectClass":"MNID_STRING","oleguid":"00062008-0000-0000-C000-000000000046","propName":"ReminderSet","mappedId":32769,"propType":"PT_BOOLEAN"}
	]`)

	require.NoError(t, Bootstrap(reg, seed))

	guid, err := parseOleGUID("00062008-0000-0000-C000-000000000046")
	require.NoError(t, err)

	id, err := reg.GetMapped(ByID, guid, Key{ID: 34})
	require.NoError(t, err)
	assert.Equal(t, uint16(32768), id)
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}

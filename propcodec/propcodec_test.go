package propcodec

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icsfxd/icsfx/idset"
	"github.com/icsfxd/icsfx/namedprop"
)

// fakeRegistry is a minimal in-memory namedprop.Registry double, enough to
// exercise Push/Pull's named-property resolution path without a SQLite
// backend.
type fakeRegistry struct {
	byMapped map[uint16]namedprop.Record
	byTuple  map[string]uint16
	next     uint16
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		byMapped: map[uint16]namedprop.Record{},
		byTuple:  map[string]uint16{},
		next:     0x8000,
	}
}

func tupleKey(kind namedprop.Kind, guid idset.GUID, key namedprop.Key) string {
	if kind == namedprop.ByID {
		return fmt.Sprintf("%x#id#%d", guid, key.ID)
	}
	return fmt.Sprintf("%x#name#%s", guid, key.Name)
}

func (f *fakeRegistry) GetMapped(kind namedprop.Kind, guid idset.GUID, key namedprop.Key) (uint16, error) {
	id, ok := f.byTuple[tupleKey(kind, guid, key)]
	if !ok {
		return 0, assertNotFound()
	}
	return id, nil
}

func (f *fakeRegistry) GetName(mappedID uint16) (namedprop.Record, error) {
	rec, ok := f.byMapped[mappedID]
	if !ok {
		return namedprop.Record{}, assertNotFound()
	}
	return rec, nil
}

func (f *fakeRegistry) GetOrCreate(kind namedprop.Kind, guid idset.GUID, key namedprop.Key, propType uint16) (uint16, error) {
	tk := tupleKey(kind, guid, key)
	if id, ok := f.byTuple[tk]; ok {
		return id, nil
	}
	id := f.next
	f.next++
	f.byTuple[tk] = id
	f.byMapped[id] = namedprop.Record{MappedID: id, Kind: kind, GUID: guid, Key: key, PropType: propType}
	return id, nil
}

func assertNotFound() error {
	return &notFoundErr{}
}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

func roundTrip(t *testing.T, reg namedprop.Registry, tag Tag, val Value) (Tag, Value) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Push(&buf, tag, val, reg))
	r := bytes.NewReader(buf.Bytes())
	gotTag, gotVal, err := Pull(r, reg)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len(), "pull must consume the entire push output")
	return gotTag, gotVal
}

func TestRoundTripScalarTypes(t *testing.T) {
	reg := newFakeRegistry()

	cases := []struct {
		name string
		tag  Tag
		val  Value
	}{
		{"bool", MakeTag(0x0017, PTBoolean), BoolValue(true)},
		{"long", MakeTag(0x0E06, PTLong), LongValue(123456)},
		{"i8", MakeTag(0x3008, PTI8), I8Value(0xDEADBEEFCAFE)},
		{"systime", MakeTag(0x3007, PTSysTime), SysTimeValue(132900000000000000)},
		{"double", MakeTag(0x6600, PTDouble), DoubleValue(3.14159265)},
		{"string8", MakeTag(0x3001, PTString8), String8Value("hello")},
		{"unicode", MakeTag(0x3001, PTUnicode), UnicodeValue("héllo wörld")},
		{"binary", MakeTag(0x0FFF, PTBinary), BinaryValue([]byte{1, 2, 3, 4})},
		{"clsid", MakeTag(0x0048, PTClsid), ClsidValue(idset.GUID{1, 2, 3, 4})},
		{"null", MakeTag(0x1234, PTNull), NullValue()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotTag, gotVal := roundTrip(t, reg, tc.tag, tc.val)
			assert.Equal(t, tc.tag, gotTag)
			assert.Equal(t, tc.val, gotVal)
		})
	}
}

func TestRoundTripMultiValued(t *testing.T) {
	reg := newFakeRegistry()

	gotTag, gotVal := roundTrip(t, reg,
		MakeTag(0x3A00, PTLong|PTMVFlag),
		MVLongValue([]uint32{1, 2, 3, 4}))
	assert.Equal(t, Tag(MakeTag(0x3A00, PTLong|PTMVFlag)), gotTag)
	assert.Equal(t, []uint32{1, 2, 3, 4}, gotVal.U32s)

	gotTag, gotVal = roundTrip(t, reg,
		MakeTag(0x3A01, PTUnicode|PTMVFlag),
		MVUnicodeValue([]string{"a", "bb", "ccc"}))
	assert.Equal(t, Tag(MakeTag(0x3A01, PTUnicode|PTMVFlag)), gotTag)
	assert.Equal(t, []string{"a", "bb", "ccc"}, gotVal.Strs)

	gotTag, gotVal = roundTrip(t, reg,
		MakeTag(0x3A02, PTBinary|PTMVFlag),
		MVBinaryValue([][]byte{{1, 2}, {3, 4, 5}}))
	assert.Equal(t, Tag(MakeTag(0x3A02, PTBinary|PTMVFlag)), gotTag)
	assert.Equal(t, [][]byte{{1, 2}, {3, 4, 5}}, gotVal.Bins)
}

func TestRoundTripNamedPropertyByID(t *testing.T) {
	reg := newFakeRegistry()
	guid := idset.GUID{0x00, 0x06, 0x20, 0x08}

	mappedID, err := reg.GetOrCreate(namedprop.ByID, guid, namedprop.Key{ID: 0x8102}, PTLong)
	require.NoError(t, err)

	tag := MakeTag(mappedID, PTLong)
	gotTag, gotVal := roundTrip(t, reg, tag, LongValue(99))

	assert.Equal(t, tag, gotTag)
	assert.Equal(t, uint32(99), gotVal.U32)
}

func TestRoundTripNamedPropertyByStringAssignsOnFirstPull(t *testing.T) {
	senderReg := newFakeRegistry()
	receiverReg := newFakeRegistry()
	guid := idset.GUID{0xAA, 0xBB}

	id, err := senderReg.GetOrCreate(namedprop.ByString, guid, namedprop.Key{Name: "X-Custom-Header"}, PTUnicode)
	require.NoError(t, err)
	require.Equal(t, uint16(0x8000), id)

	var buf bytes.Buffer
	require.NoError(t, Push(&buf, MakeTag(id, PTUnicode), UnicodeValue("value"), senderReg))

	r := bytes.NewReader(buf.Bytes())
	gotTag, gotVal, err := Pull(r, receiverReg)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x8000), gotTag.PropID())
	assert.Equal(t, "value", gotVal.Str)

	rec, err := receiverReg.GetName(gotTag.PropID())
	require.NoError(t, err)
	assert.Equal(t, "X-Custom-Header", rec.Key.Name)
}

func TestPullUnsupportedType(t *testing.T) {
	reg := newFakeRegistry()
	var buf bytes.Buffer
	writeU32(&buf, uint32(MakeTag(0x3001, 0x00FE)))
	_, _, err := Pull(bytes.NewReader(buf.Bytes()), reg)
	assert.Error(t, err)
}

package idset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guid(b byte) GUID {
	var g GUID
	g[0] = b
	return g
}

func TestRawToRangedCoalesces(t *testing.T) {
	raw := NewRaw(false)
	g := guid(1)
	for _, v := range []uint64{5, 1, 2, 3, 10, 11, 3, 7} {
		raw.Push(g, v)
	}

	ranged := RawToRanged(raw)
	got := ranged.Ranges(g)
	want := []Range{{1, 3}, {5, 5}, {7, 7}, {10, 11}}
	assert.Equal(t, want, got)
}

func TestMergeIdentityAndIdempotence(t *testing.T) {
	raw := NewRaw(false)
	g := guid(2)
	raw.Push(g, 1)
	raw.Push(g, 2)
	raw.Push(g, 9)
	x := RawToRanged(raw)
	empty := NewSet(false)

	assert.Equal(t, x.Ranges(g), Merge(x, empty).Ranges(g))
	assert.Equal(t, x.Ranges(g), Merge(empty, x).Ranges(g))
	assert.Equal(t, x.Ranges(g), Merge(x, x).Ranges(g))
}

func TestIncludesAgreesWithMerge(t *testing.T) {
	raw := NewRaw(false)
	g := guid(3)
	raw.Push(g, 4)
	raw.Push(g, 5)
	x := RawToRanged(raw)

	assert.True(t, x.Includes(g, 4))
	assert.True(t, x.Includes(g, 5))
	assert.False(t, x.Includes(g, 6))

	single := NewRaw(false)
	single.Push(g, 6)
	merged := Merge(x, RawToRanged(single))
	assert.NotEqual(t, x.Ranges(g), merged.Ranges(g))
}

func TestCanonicalFormGapInvariant(t *testing.T) {
	raw := NewRaw(false)
	g := guid(4)
	for _, v := range []uint64{1, 2, 3, 100, 101} {
		raw.Push(g, v)
	}
	ranges := RawToRanged(raw).Ranges(g)
	for i := 1; i < len(ranges); i++ {
		assert.Greater(t, ranges[i].Low, ranges[i-1].High+1)
	}
}

func TestSerializeParseRoundTrip(t *testing.T) {
	raw := NewRaw(true)
	g1, g2 := guid(1), guid(2)
	raw.Push(g1, 1)
	raw.Push(g1, 2)
	raw.Push(g1, 3)
	raw.Push(g1, 1000)
	raw.Push(g2, 42)
	x := RawToRanged(raw)

	data, err := Serialize(x, nil)
	require.NoError(t, err)

	back, err := Parse(data, true, nil)
	require.NoError(t, err)

	assert.Equal(t, x.Ranges(g1), back.Ranges(g1))
	assert.Equal(t, x.Ranges(g2), back.Ranges(g2))
}

func TestParseMalformedRejected(t *testing.T) {
	_, err := Parse([]byte{0xFF, 0xFF}, true, nil)
	require.Error(t, err)
}

func TestRemoveSubtractsRaw(t *testing.T) {
	raw := NewRaw(false)
	g := guid(5)
	for _, v := range []uint64{1, 2, 3, 4, 5} {
		raw.Push(g, v)
	}
	x := RawToRanged(raw)

	del := NewRaw(false)
	del.Push(g, 3)
	x.Remove(del)

	assert.Equal(t, []Range{{1, 2}, {4, 5}}, x.Ranges(g))
}

func TestEmptySetSerializeRoundTrip(t *testing.T) {
	x := NewSet(false)
	data, err := Serialize(x, nil)
	require.NoError(t, err)
	back, err := Parse(data, false, nil)
	require.NoError(t, err)
	assert.Empty(t, back.Replicas())
}

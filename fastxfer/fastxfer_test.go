package fastxfer

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icsfxd/icsfx/idset"
	"github.com/icsfxd/icsfx/namedprop"
	"github.com/icsfxd/icsfx/propcodec"
)

type nopRegistry struct{}

func (nopRegistry) GetMapped(namedprop.Kind, idset.GUID, namedprop.Key) (uint16, error) {
	return 0, nil
}
func (nopRegistry) GetName(uint16) (namedprop.Record, error) { return namedprop.Record{}, nil }
func (nopRegistry) GetOrCreate(namedprop.Kind, idset.GUID, namedprop.Key, uint16) (uint16, error) {
	return 0, nil
}

// emptySyncState builds the minimal S1 "empty sync" stream: a state section
// with empty CnsetSeen/IdsetGiven and the trailing end markers.
func emptySyncState(t *testing.T) *Stream {
	t.Helper()
	s := NewStream()
	s.WriteMarker(IncrSyncStateBegin)
	require.NoError(t, s.WriteIdsetProperty(CnsetSeen, idset.NewSet(true), nil))
	require.NoError(t, s.WriteIdsetProperty(IdsetGiven, idset.NewSet(false), nil))
	s.WriteMarker(IncrSyncStateEnd)
	s.WriteMarker(IncrSyncEnd)
	return s
}

func TestEmptySyncSingleChunkDone(t *testing.T) {
	s := emptySyncState(t)
	r := s.Finalize()

	chunk, status, err := r.Read(8192)
	require.NoError(t, err)
	assert.Equal(t, Done, status)
	assert.Equal(t, 1, r.TotalSteps())
	assert.Equal(t, s.Len(), len(chunk))
}

func TestCutmarkMonotonicAndTerminated(t *testing.T) {
	s := emptySyncState(t)
	r := s.Finalize()

	require.Greater(t, len(r.cutmarks), 1)
	for i := 1; i < len(r.cutmarks)-1; i++ {
		assert.Less(t, r.cutmarks[i-1], r.cutmarks[i], "cutmarks must be strictly increasing")
	}
	assert.Equal(t, cutmarkEnd, r.cutmarks[len(r.cutmarks)-1])
}

func TestChunkingPreservesFullStream(t *testing.T) {
	s := NewStream()
	for i := 0; i < 50; i++ {
		require.NoError(t, s.WriteProperty(propcodec.MakeTag(0x3001, propcodec.PTLong), propcodec.LongValue(uint32(i)), nopRegistry{}))
	}
	s.WriteMarker(IncrSyncEnd)
	full := append([]byte(nil), s.buf.Bytes()...)

	r := s.Finalize()

	var reassembled []byte
	var prevPos int
	totalSteps := -1
	for {
		chunk, status, err := r.Read(17)
		require.NoError(t, err)
		reassembled = append(reassembled, chunk...)
		assert.LessOrEqual(t, r.Pos(), prevPos+17)
		if totalSteps == -1 {
			totalSteps = r.TotalSteps()
		}
		assert.GreaterOrEqual(t, r.TotalSteps(), totalSteps)
		totalSteps = r.TotalSteps()
		prevPos = r.Pos()
		if status == Done {
			break
		}
	}

	assert.Equal(t, full, reassembled)
}

func TestReadRejectsNonPositiveMax(t *testing.T) {
	s := emptySyncState(t)
	r := s.Finalize()
	_, _, err := r.Read(0)
	assert.Error(t, err)
}

func TestSingleMessageDeltaProducesSourceKeyAndState(t *testing.T) {
	s := NewStream()
	s.WriteMarker(IncrSyncChg)

	var sourceKey bytes.Buffer
	sourceKey.Write(make([]byte, 16)) // replica guid, zeroed stand-in
	binary.Write(&sourceKey, binary.LittleEndian, uint64(0x01))
	require.NoError(t, s.WriteProperty(propcodec.MakeTag(0x65E0 /* PidTagSourceKey */, propcodec.PTBinary),
		propcodec.BinaryValue(sourceKey.Bytes()[:22]), nopRegistry{}))

	s.WriteMarker(IncrSyncMsg)

	givenRaw := idset.NewRaw(false)
	givenRaw.Push(idset.GUID{}, 1)
	ranged := idset.RawToRanged(givenRaw)

	seenRaw := idset.NewRaw(true)
	seenRaw.Push(idset.GUID{}, 2)
	seen := idset.RawToRanged(seenRaw)

	s.WriteMarker(IncrSyncStateBegin)
	require.NoError(t, s.WriteIdsetProperty(CnsetSeen, seen, nil))
	require.NoError(t, s.WriteIdsetProperty(IdsetGiven, ranged, nil))
	s.WriteMarker(IncrSyncStateEnd)
	s.WriteMarker(IncrSyncEnd)

	r := s.Finalize()
	chunk, status, err := r.Read(1024)
	require.NoError(t, err)
	assert.Equal(t, Done, status)
	assert.NotEmpty(t, chunk)
}

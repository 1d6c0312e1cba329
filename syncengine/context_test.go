package syncengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icsfxd/icsfx/icserr"
	"github.com/icsfxd/icsfx/ident"
	"github.com/icsfxd/icsfx/idset"
	"github.com/icsfxd/icsfx/propcodec"
)

func newTestReplicas() *ident.ReplicaTable {
	return ident.NewReplicaTable(idset.GUID{0x01})
}

func TestConfigureContentsMandatoryAlwaysPresent(t *testing.T) {
	replicas := newTestReplicas()
	sc, err := Configure(1, SyncContents, Options{}, nil, nil, replicas)
	require.NoError(t, err)

	ids := map[uint16]bool{}
	for _, tag := range sc.NormalProps {
		ids[tag.PropID()] = true
	}
	for _, tag := range contentsMandatory {
		assert.True(t, ids[tag.PropID()], "mandatory tag %04x missing from computed list", tag.PropID())
	}
}

func TestConfigureDedupesRequestedAgainstMandatory(t *testing.T) {
	replicas := newTestReplicas()
	sc, err := Configure(1, SyncContents, Options{OnlySpecifiedProperties: true},
		[]propcodec.Tag{PidTagMid, PidTagDisplayNameUnicode}, nil, replicas)
	require.NoError(t, err)

	seen := map[uint16]int{}
	for _, tag := range sc.NormalProps {
		seen[tag.PropID()]++
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "tag %04x appeared %d times, want exactly once", id, count)
	}
}

func TestConfigureExclusionModeDropsAlwaysExcluded(t *testing.T) {
	replicas := newTestReplicas()
	sc, err := Configure(1, SyncContents, Options{},
		nil, []propcodec.Tag{PidTagRowType, PidTagInstanceKey, PidTagBodyHTML}, replicas)
	require.NoError(t, err)

	for _, tag := range sc.NormalProps {
		assert.NotEqual(t, PidTagRowType.PropID(), tag.PropID())
		assert.NotEqual(t, PidTagInstanceKey.PropID(), tag.PropID())
	}
}

func TestConfigureBestBodyForceIncludesBodyTags(t *testing.T) {
	replicas := newTestReplicas()
	sc, err := Configure(1, SyncContents, Options{BestBody: true}, nil, nil, replicas)
	require.NoError(t, err)

	ids := map[uint16]bool{}
	for _, tag := range sc.NormalProps {
		ids[tag.PropID()] = true
	}
	assert.True(t, ids[PidTagBodyHTML.PropID()])
	assert.True(t, ids[PidTagBodyUnicode.PropID()])
}

func TestUploadFSMBeginContinueEnd(t *testing.T) {
	replicas := newTestReplicas()
	sc, err := Configure(1, SyncContents, Options{}, nil, nil, replicas)
	require.NoError(t, err)

	require.NoError(t, sc.BeginUpload(PropertyCnsetSeen))
	assert.Equal(t, PropertyCnsetSeen, sc.StagedProperty())

	raw := idset.NewRaw(true)
	raw.Push(replicas.LocalGUID(), 5)
	set := idset.RawToRanged(raw)
	payload, err := idset.Serialize(set, replicas)
	require.NoError(t, err)

	require.NoError(t, sc.ContinueUpload(payload))
	require.NoError(t, sc.EndUpload())

	assert.Equal(t, PropertyNone, sc.StagedProperty())
	g, ok := sc.CnsetSeen.MaxGlobcnt(replicas.LocalGUID())
	require.True(t, ok)
	assert.Equal(t, uint64(5), g)
}

func TestUploadFSMBeginWhileStagedIsRejected(t *testing.T) {
	replicas := newTestReplicas()
	sc, err := Configure(1, SyncContents, Options{}, nil, nil, replicas)
	require.NoError(t, err)

	require.NoError(t, sc.BeginUpload(PropertyIdsetGiven))
	err = sc.BeginUpload(PropertyCnsetRead)
	assert.ErrorIs(t, err, icserr.NotInitialized)
}

func TestUploadFSMEndWhileIdleIsRejected(t *testing.T) {
	replicas := newTestReplicas()
	sc, err := Configure(1, SyncContents, Options{}, nil, nil, replicas)
	require.NoError(t, err)

	assert.ErrorIs(t, sc.EndUpload(), icserr.NotInitialized)
}

// S4: Begin(IdsetGiven), Continue(malformed bytes), End. Expected: reply
// error IdSetMalformed and the context's idset_given left unchanged from
// its prior value (spec §8 S4).
func TestUploadMalformedBufferPreservesPriorState(t *testing.T) {
	replicas := newTestReplicas()
	sc, err := Configure(1, SyncContents, Options{}, nil, nil, replicas)
	require.NoError(t, err)

	prior := sc.IdsetGiven

	require.NoError(t, sc.BeginUpload(PropertyIdsetGiven))
	require.NoError(t, sc.ContinueUpload([]byte{0xFF, 0xFF}))
	err = sc.EndUpload()

	assert.ErrorIs(t, err, icserr.IdSetMalformed)
	assert.Same(t, prior, sc.IdsetGiven)
	assert.Equal(t, PropertyNone, sc.StagedProperty())
}

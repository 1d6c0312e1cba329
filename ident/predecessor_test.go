package ident

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icsfxd/icsfx/icserr"
	"github.com/icsfxd/icsfx/idset"
)

func TestPrependThenEntriesRoundTrips(t *testing.T) {
	table := NewReplicaTable(idset.GUID{0x01})

	key1, err := ChangeKeyFromFmidCN(table, 1)
	require.NoError(t, err)
	key2, err := ChangeKeyFromFmidCN(table, 2)
	require.NoError(t, err)

	var list PredecessorChangeList
	list = Prepend(list, key1)
	list = Prepend(list, key2)

	entries, err := Entries(list)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, key2, entries[0])
	assert.Equal(t, key1, entries[1])
}

func TestEntriesRejectsTruncatedList(t *testing.T) {
	malformed := PredecessorChangeList([]byte{22, 1, 2, 3})
	_, err := Entries(malformed)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, icserr.IdSetMalformed))
}

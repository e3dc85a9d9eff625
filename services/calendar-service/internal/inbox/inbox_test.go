package inbox

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_RecordsOnce(t *testing.T) {
	ctx := context.Background()
	in, err := NewMemory(8)
	require.NoError(t, err)

	ok, err := in.Record(ctx, "evt-1", "lead.updated")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = in.Record(ctx, "evt-1", "lead.updated")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	in, err := NewMemory(2)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := in.Record(ctx, fmt.Sprintf("evt-%d", i), "lead.updated")
		require.NoError(t, err)
	}

	ok, err := in.Record(ctx, "evt-0", "lead.updated")
	require.NoError(t, err)
	assert.True(t, ok, "evicted id is accepted again")
}

func TestMemory_RejectsEmptyID(t *testing.T) {
	in, err := NewMemory(2)
	require.NoError(t, err)
	_, err = in.Record(context.Background(), "", "lead.updated")
	require.Error(t, err)
}

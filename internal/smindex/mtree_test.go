package smindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMTreeSoundnessCompleteness(t *testing.T) {
	db := randomVectorDB(t, 60, 3, 11)
	path := filepath.Join(t.TempDir(), "idx")
	idx := NewMTree()
	require.NoError(t, idx.Build(context.Background(), db, BuildConfig{NodeCapacity: 4}, path))
	defer idx.Close()
	checkSMSoundnessCompleteness(t, idx, db, []float64{5, 20, 50, 200}, []int{1, 5, 15})
}

func TestMTreeSmallDataset(t *testing.T) {
	db := randomVectorDB(t, 3, 2, 99)
	path := filepath.Join(t.TempDir(), "idx")
	idx := NewMTree()
	require.NoError(t, idx.Build(context.Background(), db, BuildConfig{NodeCapacity: 4}, path))
	defer idx.Close()
	checkSMSoundnessCompleteness(t, idx, db, []float64{1, 500}, []int{1, 2, 3})
}

func TestMTreeBuildPersistReopenQuery(t *testing.T) {
	db := randomVectorDB(t, 50, 3, 5)
	path := filepath.Join(t.TempDir(), "idx")

	builder := NewMTree()
	require.NoError(t, builder.Build(context.Background(), db, BuildConfig{NodeCapacity: 4}, path))
	require.NoError(t, builder.Close())

	reopened := NewMTree()
	require.NoError(t, reopened.Open(path, db))
	defer reopened.Close()

	checkSMSoundnessCompleteness(t, reopened, db, []float64{10, 40, 150}, []int{1, 5})
}

func TestMTreeDegeneratePartitionTerminates(t *testing.T) {
	// 25 random points on a line with node capacity 2: if farthest-first/
	// nearest-center partitioning dumps everyone into a single group,
	// evenChunks must still split it and the build must terminate.
	db := randomVectorDB(t, 25, 1, 3)
	path := filepath.Join(t.TempDir(), "idx")
	idx := NewMTree()
	require.NoError(t, idx.Build(context.Background(), db, BuildConfig{NodeCapacity: 2}, path))
	defer idx.Close()
	checkSMSoundnessCompleteness(t, idx, db, []float64{5, 1000}, []int{1, 3})
}

func TestMTreeLargerCapacityStillSound(t *testing.T) {
	db := randomVectorDB(t, 80, 4, 21)
	path := filepath.Join(t.TempDir(), "idx")
	idx := NewMTree()
	require.NoError(t, idx.Build(context.Background(), db, BuildConfig{NodeCapacity: 8}, path))
	defer idx.Close()
	checkSMSoundnessCompleteness(t, idx, db, []float64{30, 100}, []int{1, 10})
}

func TestMTreePageCountersIncrease(t *testing.T) {
	db := randomVectorDB(t, 40, 3, 8)
	path := filepath.Join(t.TempDir(), "idx")
	idx := NewMTree()
	require.NoError(t, idx.Build(context.Background(), db, BuildConfig{NodeCapacity: 4}, path))
	defer idx.Close()
	require.Greater(t, idx.Counters().PageWrites, int64(0))

	idx.ResetCounters()
	idx.RangeSearch(0, 1000)
	require.Greater(t, idx.Counters().PageReads, int64(0))
}

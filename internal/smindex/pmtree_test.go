package smindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPMTreeSoundnessCompleteness(t *testing.T) {
	db := randomVectorDB(t, 60, 3, 13)
	path := filepath.Join(t.TempDir(), "idx")
	idx := NewPMTree()
	require.NoError(t, idx.Build(context.Background(), db, BuildConfig{NodeCapacity: 4, PivotCount: 4}, path))
	defer idx.Close()
	checkSMSoundnessCompleteness(t, idx, db, []float64{5, 20, 50, 200}, []int{1, 5, 15})
}

func TestPMTreeBuildPersistReopenQuery(t *testing.T) {
	db := randomVectorDB(t, 45, 3, 17)
	path := filepath.Join(t.TempDir(), "idx")

	builder := NewPMTree()
	require.NoError(t, builder.Build(context.Background(), db, BuildConfig{NodeCapacity: 4, PivotCount: 5}, path))
	require.NoError(t, builder.Close())

	reopened := NewPMTree()
	require.NoError(t, reopened.Open(path, db))
	defer reopened.Close()

	checkSMSoundnessCompleteness(t, reopened, db, []float64{10, 40, 150}, []int{1, 5})
}

func TestPMTreeSmallDataset(t *testing.T) {
	db := randomVectorDB(t, 3, 2, 101)
	path := filepath.Join(t.TempDir(), "idx")
	idx := NewPMTree()
	require.NoError(t, idx.Build(context.Background(), db, BuildConfig{NodeCapacity: 4, PivotCount: 2}, path))
	defer idx.Close()
	checkSMSoundnessCompleteness(t, idx, db, []float64{1, 500}, []int{1, 2, 3})
}

func TestPMTreePageCountersIncrease(t *testing.T) {
	db := randomVectorDB(t, 40, 3, 9)
	path := filepath.Join(t.TempDir(), "idx")
	idx := NewPMTree()
	require.NoError(t, idx.Build(context.Background(), db, BuildConfig{NodeCapacity: 4, PivotCount: 4}, path))
	defer idx.Close()
	require.Greater(t, idx.Counters().PageWrites, int64(0))

	idx.ResetCounters()
	idx.RangeSearch(0, 1000)
	require.Greater(t, idx.Counters().PageReads, int64(0))
}

package smindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMIndexStarSoundnessCompleteness(t *testing.T) {
	db := randomVectorDB(t, 60, 3, 91)
	path := filepath.Join(t.TempDir(), "idx")
	idx := NewMIndexStar()
	require.NoError(t, idx.Build(context.Background(), db, BuildConfig{PivotCount: 4}, path))
	defer idx.Close()
	checkSMSoundnessCompleteness(t, idx, db, []float64{5, 20, 50, 200}, []int{1, 5})
}

func TestMIndexStarBuildPersistReopenQuery(t *testing.T) {
	db := randomVectorDB(t, 50, 3, 97)
	path := filepath.Join(t.TempDir(), "idx")

	builder := NewMIndexStar()
	require.NoError(t, builder.Build(context.Background(), db, BuildConfig{PivotCount: 3}, path))
	require.NoError(t, builder.Close())

	reopened := NewMIndexStar()
	require.NoError(t, reopened.Open(path, db))
	defer reopened.Close()

	checkSMSoundnessCompleteness(t, reopened, db, []float64{10, 40, 150}, []int{1, 5})
}

func TestMIndexStarSmallDataset(t *testing.T) {
	db := randomVectorDB(t, 3, 2, 101)
	path := filepath.Join(t.TempDir(), "idx")
	idx := NewMIndexStar()
	require.NoError(t, idx.Build(context.Background(), db, BuildConfig{PivotCount: 2}, path))
	defer idx.Close()
	checkSMSoundnessCompleteness(t, idx, db, []float64{1, 500}, []int{1, 2, 3})
}

func TestMIndexStarPageCountersIncrease(t *testing.T) {
	db := randomVectorDB(t, 80, 3, 103)
	path := filepath.Join(t.TempDir(), "idx")
	idx := NewMIndexStar()
	require.NoError(t, idx.Build(context.Background(), db, BuildConfig{PivotCount: 4}, path))
	defer idx.Close()
	require.Greater(t, idx.Counters().PageWrites, int64(0))

	idx.ResetCounters()
	idx.RangeSearch(0, 1000)
	require.GreaterOrEqual(t, idx.Counters().PageReads, int64(0))
}

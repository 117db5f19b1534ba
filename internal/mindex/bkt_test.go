package mindex

import (
	"testing"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
	"github.com/stretchr/testify/require"
)

func TestBKTSoundnessCompleteness(t *testing.T) {
	db := sixPointDB(t)
	idx := NewBKT()
	buildIndex(t, idx, db, BuildConfig{Step: 3, BucketSize: 1})
	checkSoundnessAndCompleteness(t, idx, db, []float64{0, 1, 1.5, 5, 20}, []int{1, 2, 3, 6, 10})
}

func TestBKTRandomDataset(t *testing.T) {
	db := randomVectorDB(t, 60, 4, 7)
	idx := NewBKT()
	buildIndex(t, idx, db, BuildConfig{Step: 10, BucketSize: 2})
	checkSoundnessAndCompleteness(t, idx, db, []float64{5, 20, 50, 200}, []int{1, 5, 15})
}

func TestBKTDeterministicUnderSeed(t *testing.T) {
	db := randomVectorDB(t, 30, 3, 11)
	a, b := NewBKT(), NewBKT()
	buildIndex(t, a, db, BuildConfig{Step: 5, BucketSize: 1, Seed: 42})
	buildIndex(t, b, db, BuildConfig{Step: 5, BucketSize: 1, Seed: 42})
	require.Equal(t, a.RangeSearch(0, 50), b.RangeSearch(0, 50))
}

func TestBKTSingleObjectDataset(t *testing.T) {
	db := randomVectorDB(t, 1, 2, 1)
	idx := NewBKT()
	buildIndex(t, idx, db, BuildConfig{Step: 1, BucketSize: 1})
	require.Equal(t, []objectdb.ObjId{0}, idx.RangeSearch(0, 0))
	knn := idx.KNNSearch(0, 5)
	require.Len(t, knn, 1)
}

func TestBKTZeroRadiusAndZeroK(t *testing.T) {
	db := sixPointDB(t)
	idx := NewBKT()
	buildIndex(t, idx, db, BuildConfig{Step: 3, BucketSize: 1})
	require.Equal(t, []objectdb.ObjId{0}, idx.RangeSearch(0, 0))
	require.Empty(t, idx.KNNSearch(0, 0))
}

func TestBKTCountersResetAndAccumulate(t *testing.T) {
	db := sixPointDB(t)
	idx := NewBKT()
	buildIndex(t, idx, db, BuildConfig{Step: 3, BucketSize: 1})
	idx.ResetCounters()
	require.Equal(t, int64(0), idx.Counters().CompDist)
	idx.RangeSearch(0, 5)
	require.Greater(t, idx.Counters().CompDist, int64(0))
}

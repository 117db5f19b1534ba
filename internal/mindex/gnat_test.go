package mindex

import (
	"testing"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
	"github.com/stretchr/testify/require"
)

func TestGNATSoundnessCompleteness(t *testing.T) {
	db := sixPointDB(t)
	idx := NewGNAT()
	buildIndex(t, idx, db, BuildConfig{PivotCount: 2, BucketSize: 1})
	checkSoundnessAndCompleteness(t, idx, db, []float64{0, 1, 1.5, 5, 20}, []int{1, 2, 3, 6, 10})
}

func TestGNATRandomDataset(t *testing.T) {
	db := randomVectorDB(t, 60, 4, 13)
	idx := NewGNAT()
	buildIndex(t, idx, db, BuildConfig{PivotCount: 3, BucketSize: 2})
	checkSoundnessAndCompleteness(t, idx, db, []float64{5, 20, 50, 200}, []int{1, 5, 15})
}

func TestGNATSingleObjectDataset(t *testing.T) {
	db := randomVectorDB(t, 1, 2, 1)
	idx := NewGNAT()
	buildIndex(t, idx, db, BuildConfig{PivotCount: 3, BucketSize: 1})
	require.Equal(t, []objectdb.ObjId{0}, idx.RangeSearch(0, 0))
}

func TestGNATZeroK(t *testing.T) {
	db := sixPointDB(t)
	idx := NewGNAT()
	buildIndex(t, idx, db, BuildConfig{PivotCount: 2, BucketSize: 1})
	require.Empty(t, idx.KNNSearch(0, 0))
}

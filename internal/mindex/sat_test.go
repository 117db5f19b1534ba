package mindex

import (
	"testing"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
	"github.com/stretchr/testify/require"
)

func TestSATSoundnessCompleteness(t *testing.T) {
	db := sixPointDB(t)
	idx := NewSAT()
	buildIndex(t, idx, db, BuildConfig{})
	checkSoundnessAndCompleteness(t, idx, db, []float64{0, 1, 1.5, 5, 20}, []int{1, 2, 3, 6, 10})
}

func TestSATRandomDataset(t *testing.T) {
	db := randomVectorDB(t, 60, 4, 17)
	idx := NewSAT()
	buildIndex(t, idx, db, BuildConfig{})
	checkSoundnessAndCompleteness(t, idx, db, []float64{5, 20, 50, 200}, []int{1, 5, 15})
}

func TestSATSingleObjectDataset(t *testing.T) {
	db := randomVectorDB(t, 1, 2, 1)
	idx := NewSAT()
	buildIndex(t, idx, db, BuildConfig{})
	require.Equal(t, []objectdb.ObjId{0}, idx.RangeSearch(0, 0))
	require.Len(t, idx.KNNSearch(0, 5), 1)
}

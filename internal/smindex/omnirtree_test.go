package smindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOmniRTreeSoundnessCompleteness(t *testing.T) {
	db := randomVectorDB(t, 50, 3, 61)
	path := filepath.Join(t.TempDir(), "idx")
	idx := NewOmniRTree()
	require.NoError(t, idx.Build(context.Background(), db, BuildConfig{NodeCapacity: 4, PivotCount: 4}, path))
	defer idx.Close()
	checkSMSoundnessCompleteness(t, idx, db, []float64{5, 20, 50, 200}, []int{1, 5})
}

func TestOmniRTreeBuildPersistReopenQuery(t *testing.T) {
	db := randomVectorDB(t, 40, 3, 67)
	path := filepath.Join(t.TempDir(), "idx")

	builder := NewOmniRTree()
	require.NoError(t, builder.Build(context.Background(), db, BuildConfig{NodeCapacity: 4, PivotCount: 3}, path))
	require.NoError(t, builder.Close())

	reopened := NewOmniRTree()
	require.NoError(t, reopened.Open(path, db))
	defer reopened.Close()

	checkSMSoundnessCompleteness(t, reopened, db, []float64{10, 40, 150}, []int{1, 5})
}

func TestOmniRTreeSmallDataset(t *testing.T) {
	db := randomVectorDB(t, 3, 2, 71)
	path := filepath.Join(t.TempDir(), "idx")
	idx := NewOmniRTree()
	require.NoError(t, idx.Build(context.Background(), db, BuildConfig{NodeCapacity: 4, PivotCount: 2}, path))
	defer idx.Close()
	checkSMSoundnessCompleteness(t, idx, db, []float64{1, 500}, []int{1, 2, 3})
}

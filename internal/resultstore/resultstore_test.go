package resultstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_InMemory_InitializesSchema(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	ids, err := s.RunIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_Save_AndQuery_RoundTrips(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	records := []Record{
		{RunID: "run-1", Index: "bkt", Dataset: "iris", Category: "MM", QueryType: "MRQ",
			Selectivity: 0.02, Radius: 1.5, CompDists: 42.5, TimeMs: 3.1, Pages: 0, NQueries: 100},
		{RunID: "run-1", Index: "mtree", Dataset: "iris", Category: "DM", QueryType: "MkNN",
			K: 10, CompDists: 55.0, TimeMs: 4.2, Pages: 12, NQueries: 100},
	}
	require.NoError(t, s.Save(ctx, records))

	ids, err := s.RunIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, ids)

	got, err := s.ResultsForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "bkt", got[0].Index)
	assert.Equal(t, "mtree", got[1].Index)
}

func TestStore_Save_EmptyBatch_IsNoop(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(context.Background(), nil))
}

func TestStore_Save_AfterClose_ReturnsError(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Save(context.Background(), []Record{{RunID: "run-1", Index: "bkt"}})
	assert.Error(t, err)
}

func TestOpen_FilePath_CreatesDBFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(context.Background(), []Record{
		{RunID: "run-1", Index: "gnat", Dataset: "colors", Category: "MM", QueryType: "MRQ", NQueries: 100},
	}))

	ids, err := s.RunIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, ids)
}

func TestStore_ResultsForRun_UnknownRun_ReturnsEmpty(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	got, err := s.ResultsForRun(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, got)
}

package mindex

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Aman-CERP/metricbench/internal/bruteforce"
	"github.com/Aman-CERP/metricbench/internal/objectdb"
	"github.com/stretchr/testify/require"
)

// randomVectorDB writes and loads an n-point, dim-dimensional L2 dataset
// with a fixed RNG seed so every test run sees the same fixture.
func randomVectorDB(t *testing.T, n, dim int, seed int64) objectdb.DB {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d %d 2\n", dim, n)
	for i := 0; i < n; i++ {
		for j := 0; j < dim; j++ {
			if j > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%.6f", rng.Float64()*100)
		}
		sb.WriteByte('\n')
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.txt")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	db, err := objectdb.Load(path)
	require.NoError(t, err)
	return db
}

// sixPointDB is the six 2D points from spec §8's worked L2 scenario.
func sixPointDB(t *testing.T) objectdb.DB {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "six.txt")
	content := "2 6 2\n0 0\n1 0\n0 1\n10 10\n10 11\n11 10\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	db, err := objectdb.Load(path)
	require.NoError(t, err)
	return db
}

// checkSoundnessAndCompleteness cross-checks idx's RangeSearch/KNNSearch
// against the brute-force oracle for every query object and a spread of
// radii/k values, for both idx's declared build config.
func checkSoundnessAndCompleteness(t *testing.T, idx Index, db objectdb.DB, radii []float64, ks []int) {
	t.Helper()
	n := db.Size()
	for q := 0; q < n; q++ {
		qid := objectdb.ObjId(q)
		for _, r := range radii {
			got := idx.RangeSearch(qid, r)
			want := bruteforce.RangeSearch(db, qid, r)
			requireSameSet(t, want, got, fmt.Sprintf("range q=%d r=%.3f", q, r))
		}
		for _, k := range ks {
			got := idx.KNNSearch(qid, k)
			want := bruteforce.KNNSearch(db, qid, k)
			require.Equal(t, len(want), len(got), "knn q=%d k=%d count", q, k)
			for i := range want {
				require.InDelta(t, want[i].Dist, got[i].Dist, 1e-6,
					"knn q=%d k=%d rank=%d distance mismatch", q, k, i)
				require.Equal(t, want[i].ID, got[i].ID,
					"knn q=%d k=%d rank=%d identity mismatch (tie-break by ObjId ascending)", q, k, i)
			}
		}
	}
}

func requireSameSet(t *testing.T, want []objectdb.ObjId, got []objectdb.ObjId, msg string) {
	t.Helper()
	wantSet := make(map[objectdb.ObjId]bool, len(want))
	for _, w := range want {
		wantSet[w] = true
	}
	gotSet := make(map[objectdb.ObjId]bool, len(got))
	for _, g := range got {
		gotSet[g] = true
	}
	require.Equal(t, len(wantSet), len(gotSet), "%s: size mismatch, want=%v got=%v", msg, want, got)
	for w := range wantSet {
		require.True(t, gotSet[w], "%s: missing expected id %d (want=%v got=%v)", msg, w, want, got)
	}
}

func buildIndex(t *testing.T, idx Index, db objectdb.DB, cfg BuildConfig) {
	t.Helper()
	require.NoError(t, idx.Build(context.Background(), db, cfg))
}

package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/metricbench/internal/config"
	"github.com/Aman-CERP/metricbench/internal/mindex"
	"github.com/Aman-CERP/metricbench/internal/resultstore"
)

func writeFixtureDataset(t *testing.T, dir, name string) string {
	t.Helper()
	points := [][]float64{{0, 0}, {1, 0}, {0, 1}, {5, 5}, {6, 6}, {10, 10}}
	var lines []string
	lines = append(lines, fmt.Sprintf("%d %d 2", len(points[0]), len(points)))
	for _, p := range points {
		lines = append(lines, fmt.Sprintf("%.4f %.4f", p[0], p[1]))
	}
	path := filepath.Join(dir, name+".ascii")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeFixtureSidecar(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "queries2k"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "radii2k"), 0o755))

	queries, err := json.Marshal([]int{0, 3})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "queries2k", name+"_queries.json"), queries, 0o644))

	radii, err := json.Marshal(map[string]float64{"0.5": 2.0})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "radii2k", name+"_radii.json"), radii, 0o644))
}

func TestHarness_Run_ProducesRecordsForEveryFactory(t *testing.T) {
	dir := t.TempDir()
	datasetPath := writeFixtureDataset(t, dir, "fixture")
	writeFixtureSidecar(t, dir, "fixture")

	cfg := config.NewConfig()
	cfg.Datasets.Dir = dir
	cfg.Output.Dir = filepath.Join(dir, "out")

	h := New(cfg, nil, nil, nil, "test-run")
	h.SidecarDir = dir

	factory := mmFactory("bkt", "MM", 0, func() mindex.Index { return mindex.NewBKT() }, cfg.Indexes)

	report, err := h.Run(context.Background(),
		[]Dataset{{Name: "fixture", Path: datasetPath}},
		[]Factory{factory},
		Workloads{Selectivities: []float64{0.5}, KValues: []int{1, 2}},
	)
	require.NoError(t, err)

	assert.Equal(t, "test-run", report.RunID)
	require.Len(t, report.Records, 3) // 1 MRQ + 2 MkNN
	for _, rec := range report.Records {
		assert.Equal(t, "bkt", rec.Index)
		assert.Equal(t, "fixture", rec.Dataset)
		assert.Equal(t, 2, rec.NQueries)
		assert.Equal(t, "test-run", rec.RunID)
	}
}

func TestHarness_Run_MissingDataset_SkipsWithoutAborting(t *testing.T) {
	dir := t.TempDir()

	cfg := config.NewConfig()
	cfg.Datasets.Dir = dir
	cfg.Output.Dir = filepath.Join(dir, "out")

	h := New(cfg, nil, nil, nil, "test-run")
	h.SidecarDir = dir

	factory := mmFactory("bkt", "MM", 0, func() mindex.Index { return mindex.NewBKT() }, cfg.Indexes)

	report, err := h.Run(context.Background(),
		[]Dataset{{Name: "missing", Path: filepath.Join(dir, "does-not-exist.ascii")}},
		[]Factory{factory},
		Workloads{Selectivities: []float64{0.5}, KValues: []int{1}},
	)
	require.NoError(t, err)
	assert.Empty(t, report.Records)
}

func TestHarness_Run_MissingRadius_SkipsThatSelectivityOnly(t *testing.T) {
	dir := t.TempDir()
	datasetPath := writeFixtureDataset(t, dir, "fixture")
	writeFixtureSidecar(t, dir, "fixture")

	cfg := config.NewConfig()
	cfg.Datasets.Dir = dir
	cfg.Output.Dir = filepath.Join(dir, "out")

	h := New(cfg, nil, nil, nil, "test-run")
	h.SidecarDir = dir

	factory := mmFactory("bkt", "MM", 0, func() mindex.Index { return mindex.NewBKT() }, cfg.Indexes)

	report, err := h.Run(context.Background(),
		[]Dataset{{Name: "fixture", Path: datasetPath}},
		[]Factory{factory},
		Workloads{Selectivities: []float64{0.5, 0.9}, KValues: nil},
	)
	require.NoError(t, err)
	require.Len(t, report.Records, 1)
	assert.Equal(t, 0.5, report.Records[0].Selectivity)
}

func TestHarness_Run_PersistsToResultStore(t *testing.T) {
	dir := t.TempDir()
	datasetPath := writeFixtureDataset(t, dir, "fixture")
	writeFixtureSidecar(t, dir, "fixture")

	cfg := config.NewConfig()
	cfg.Datasets.Dir = dir
	cfg.Output.Dir = filepath.Join(dir, "out")

	store, err := resultstore.Open("")
	require.NoError(t, err)
	defer store.Close()

	h := New(cfg, nil, nil, store, "test-run")
	h.SidecarDir = dir

	factory := mmFactory("bkt", "MM", 0, func() mindex.Index { return mindex.NewBKT() }, cfg.Indexes)

	_, err = h.Run(context.Background(),
		[]Dataset{{Name: "fixture", Path: datasetPath}},
		[]Factory{factory},
		Workloads{Selectivities: []float64{0.5}, KValues: []int{1}},
	)
	require.NoError(t, err)

	rows, err := store.ResultsForRun(context.Background(), "test-run")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestDefaultFactories_FiltersByConfiguredNames(t *testing.T) {
	cfg := config.IndexesConfig{MM: []string{"bkt", "gnat"}, SM: []string{"mtree"}}
	factories := DefaultFactories(cfg)

	var names []string
	for _, f := range factories {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"bkt", "gnat", "mtree"}, names)
}

func TestDefaultFactories_EmptyFilterIncludesEverything(t *testing.T) {
	factories := DefaultFactories(config.IndexesConfig{})
	assert.Len(t, factories, len(mmOrder)+1+len(smOrder)) // +1 for the hnsw baseline
}

func TestDefaultFactories_ExcludingHNSWByName(t *testing.T) {
	cfg := config.IndexesConfig{MM: []string{"bkt"}}
	factories := DefaultFactories(cfg)
	require.Len(t, factories, 1)
	assert.Equal(t, "bkt", factories[0].Name)
}

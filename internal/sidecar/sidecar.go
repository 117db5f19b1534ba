// Package sidecar loads the JSON files the external dataset pipeline
// prepares alongside each dataset: precomputed query positions, the
// selectivity-to-radius map, and HFI-selected pivot sets (spec §6).
//
// Dataset preparation is not on the single-threaded index-query path, so
// a dataset's three sidecar files are fetched concurrently, and loads of
// the same path that are in flight at the same time share one read.
// Results are not cached: a later load of the same path reads the file
// again.
package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
)

// Set bundles the three sidecar files for one dataset.
type Set struct {
	Queries []objectdb.ObjId
	Radii   map[float64]float64 // selectivity -> radius
	Pivots  map[int][]objectdb.ObjId // pivot count L -> pivot set
}

// Loader fetches sidecar files (without caching them) rooted at Dir, the directory
// holding queries2k/, radii2k/, and pivots2k/ (spec §6).
type Loader struct {
	Dir string

	group singleflight.Group
}

// NewLoader returns a Loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{Dir: dir}
}

func (l *Loader) queriesPath(dataset string) string {
	return filepath.Join(l.Dir, "queries2k", dataset+"_queries.json")
}

func (l *Loader) radiiPath(dataset string) string {
	return filepath.Join(l.Dir, "radii2k", dataset+"_radii.json")
}

func (l *Loader) pivotsPath(dataset string, pivotCount int) string {
	return filepath.Join(l.Dir, "pivots2k", fmt.Sprintf("%s_pivots_%d.json", dataset, pivotCount))
}

// Load fetches queries, radii, and the pivot sets for every pivotCount in
// pivotCounts, concurrently, returning a single error if anything failed
// to decode (missing files must be checked separately via Probe so the
// harness's failure policy of "log + skip" can apply per spec §4.1/§7).
func (l *Loader) Load(ctx context.Context, dataset string, pivotCounts []int) (*Set, error) {
	g, gctx := errgroup.WithContext(ctx)
	_ = gctx

	set := &Set{Pivots: make(map[int][]objectdb.ObjId, len(pivotCounts))}

	g.Go(func() error {
		qs, err := l.loadQueries(dataset)
		if err != nil {
			return err
		}
		set.Queries = qs
		return nil
	})
	g.Go(func() error {
		r, err := l.loadRadii(dataset)
		if err != nil {
			return err
		}
		set.Radii = r
		return nil
	})
	pivotSets := make([][]objectdb.ObjId, len(pivotCounts))
	for i, pc := range pivotCounts {
		i, pc := i, pc
		g.Go(func() error {
			ps, err := l.loadPivots(dataset, pc)
			if err != nil {
				return err
			}
			pivotSets[i] = ps
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, pc := range pivotCounts {
		set.Pivots[pc] = pivotSets[i]
	}
	return set, nil
}

// loadQueries reads queries2k/<dataset>_queries.json: a JSON array of
// integer ObjIds. Concurrent calls for the same dataset share one read.
func (l *Loader) loadQueries(dataset string) ([]objectdb.ObjId, error) {
	path := l.queriesPath(dataset)
	v, err, _ := l.group.Do("q:"+path, func() (interface{}, error) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("sidecar: queries %s: %w", path, err)
		}
		var ints []int
		if err := json.Unmarshal(raw, &ints); err != nil {
			return nil, fmt.Errorf("sidecar: decode queries %s: %w", path, err)
		}
		ids := make([]objectdb.ObjId, len(ints))
		for i, n := range ints {
			ids[i] = objectdb.ObjId(n)
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]objectdb.ObjId), nil
}

// loadRadii reads radii2k/<dataset>_radii.json: an object mapping a
// stringified selectivity to the radius that yields it.
func (l *Loader) loadRadii(dataset string) (map[float64]float64, error) {
	path := l.radiiPath(dataset)
	v, err, _ := l.group.Do("r:"+path, func() (interface{}, error) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("sidecar: radii %s: %w", path, err)
		}
		var obj map[string]float64
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("sidecar: decode radii %s: %w", path, err)
		}
		out := make(map[float64]float64, len(obj))
		for k, radius := range obj {
			sel, err := strconv.ParseFloat(k, 64)
			if err != nil {
				return nil, fmt.Errorf("sidecar: radii %s: bad selectivity key %q: %w", path, k, err)
			}
			out[sel] = radius
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[float64]float64), nil
}

// loadPivots reads pivots2k/<dataset>_pivots_<L>.json: a JSON array of L
// integer ObjIds, the HFI-selected pivots for that pivot count.
func (l *Loader) loadPivots(dataset string, pivotCount int) ([]objectdb.ObjId, error) {
	path := l.pivotsPath(dataset, pivotCount)
	v, err, _ := l.group.Do("p:"+path, func() (interface{}, error) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("sidecar: pivots %s: %w", path, err)
		}
		var ints []int
		if err := json.Unmarshal(raw, &ints); err != nil {
			return nil, fmt.Errorf("sidecar: decode pivots %s: %w", path, err)
		}
		ids := make([]objectdb.ObjId, len(ints))
		for i, n := range ints {
			ids[i] = objectdb.ObjId(n)
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]objectdb.ObjId), nil
}

// Probe reports which of a dataset's three sidecar files exist, letting
// the harness skip a (dataset, selectivity) tuple per the missing-file
// failure policy in spec §4.1 without treating it as a hard error.
func (l *Loader) Probe(dataset string, pivotCounts []int) (hasQueries, hasRadii bool, missingPivots []int) {
	if _, err := os.Stat(l.queriesPath(dataset)); err == nil {
		hasQueries = true
	}
	if _, err := os.Stat(l.radiiPath(dataset)); err == nil {
		hasRadii = true
	}
	for _, pc := range pivotCounts {
		if _, err := os.Stat(l.pivotsPath(dataset, pc)); err != nil {
			missingPivots = append(missingPivots, pc)
		}
	}
	return
}

// Package dataset loads subject-indexed epoch feature recordings. Each
// subject is one CSV file of per-epoch rows: feature columns prefixed by the
// modality that produced them (e.g. "act_", "hrv_") plus ground-truth label
// columns. All access is read-only.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

var ErrUnknownModality = errors.New("unknown modality")

// Label columns recognized in subject files; every other column is a feature.
var labelColumns = map[string]struct{}{
	"sleep":  {},
	"5stage": {},
	"4stage": {},
	"3stage": {},
}

const filePrefix = "features_"

type subjectData struct {
	features [][]float64
	labels   map[string][]int
}

// Dataset is an immutable view over a set of subjects. Subset produces
// narrower views sharing the loaded data.
type Dataset struct {
	subjects    []string
	featureCols []string
	byID        map[string]*subjectData
}

// Load reads every features_<subject>.csv under dir, in parallel. All files
// must agree on their column layout.
func Load(dir string) (*Dataset, error) {
	paths, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.csv"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no %s*.csv files under %s", filePrefix, dir)
	}
	sort.Strings(paths)

	ds := &Dataset{byID: make(map[string]*subjectData, len(paths))}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(8)

	for _, path := range paths {
		path := path
		g.Go(func() error {
			id := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), filePrefix), ".csv")
			data, cols, err := readSubjectFile(path)
			if err != nil {
				return fmt.Errorf("subject %s: %w", id, err)
			}

			mu.Lock()
			defer mu.Unlock()
			if ds.featureCols == nil {
				ds.featureCols = cols
			} else if strings.Join(ds.featureCols, ",") != strings.Join(cols, ",") {
				return fmt.Errorf("subject %s: feature columns %v do not match %v", id, cols, ds.featureCols)
			}
			ds.byID[id] = data
			ds.subjects = append(ds.subjects, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(ds.subjects)
	return ds, nil
}

func readSubjectFile(path string) (*subjectData, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) < 2 {
		return nil, nil, fmt.Errorf("no data rows")
	}

	header := records[0]
	featureIdx := make([]int, 0, len(header))
	featureCols := make([]string, 0, len(header))
	labelIdx := make(map[string]int)
	for i, col := range header {
		if _, ok := labelColumns[col]; ok {
			labelIdx[col] = i
		} else {
			featureIdx = append(featureIdx, i)
			featureCols = append(featureCols, col)
		}
	}
	if len(labelIdx) == 0 {
		return nil, nil, fmt.Errorf("no label columns in header %v", header)
	}

	data := &subjectData{labels: make(map[string][]int, len(labelIdx))}
	for _, row := range records[1:] {
		if len(row) != len(header) {
			return nil, nil, fmt.Errorf("row has %d fields, header has %d", len(row), len(header))
		}

		features := make([]float64, len(featureIdx))
		for j, idx := range featureIdx {
			v, err := strconv.ParseFloat(row[idx], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("column %q: %w", header[idx], err)
			}
			features[j] = v
		}
		data.features = append(data.features, features)

		for col, idx := range labelIdx {
			v, err := strconv.Atoi(row[idx])
			if err != nil {
				return nil, nil, fmt.Errorf("label %q: %w", col, err)
			}
			data.labels[col] = append(data.labels[col], v)
		}
	}
	return data, featureCols, nil
}

// Subjects returns the sorted subject ids in this view.
func (d *Dataset) Subjects() []string {
	return append([]string(nil), d.subjects...)
}

// Len returns the number of subjects in this view.
func (d *Dataset) Len() int {
	return len(d.subjects)
}

// Subset returns a view restricted to the given subject ids.
func (d *Dataset) Subset(ids []string) (*Dataset, error) {
	sub := &Dataset{featureCols: d.featureCols, byID: d.byID}
	for _, id := range ids {
		if _, ok := d.byID[id]; !ok {
			return nil, fmt.Errorf("subject %q not in dataset", id)
		}
		sub.subjects = append(sub.subjects, id)
	}
	sort.Strings(sub.subjects)
	return sub, nil
}

// Features concatenates the modality-selected feature rows of every subject
// in the view, in sorted subject order.
func (d *Dataset) Features(modalities []string) ([][]float64, error) {
	cols, err := d.modalityColumns(modalities)
	if err != nil {
		return nil, err
	}

	var out [][]float64
	for _, id := range d.subjects {
		for _, row := range d.byID[id].features {
			selected := make([]float64, len(cols))
			for j, c := range cols {
				selected[j] = row[c]
			}
			out = append(out, selected)
		}
	}
	return out, nil
}

// Labels concatenates every label column over the view, in the same row
// order as Features.
func (d *Dataset) Labels() map[string][]int {
	out := make(map[string][]int)
	for _, id := range d.subjects {
		for col, values := range d.byID[id].labels {
			out[col] = append(out[col], values...)
		}
	}
	return out
}

// SubjectFeatures returns one subject's modality-selected feature rows, for
// inference-time prediction.
func (d *Dataset) SubjectFeatures(id string, modalities []string) ([][]float64, error) {
	data, ok := d.byID[id]
	if !ok {
		return nil, fmt.Errorf("subject %q not in dataset", id)
	}
	cols, err := d.modalityColumns(modalities)
	if err != nil {
		return nil, err
	}

	out := make([][]float64, len(data.features))
	for i, row := range data.features {
		selected := make([]float64, len(cols))
		for j, c := range cols {
			selected[j] = row[c]
		}
		out[i] = selected
	}
	return out, nil
}

// modalityColumns maps modality names to feature column indexes by prefix
// match. An empty modality list selects every feature column.
func (d *Dataset) modalityColumns(modalities []string) ([]int, error) {
	if len(modalities) == 0 {
		cols := make([]int, len(d.featureCols))
		for i := range cols {
			cols[i] = i
		}
		return cols, nil
	}

	var cols []int
	for _, m := range modalities {
		prefix := m + "_"
		matched := false
		for i, name := range d.featureCols {
			if strings.HasPrefix(name, prefix) {
				cols = append(cols, i)
				matched = true
			}
		}
		if !matched {
			return nil, fmt.Errorf("%w: %q has no feature columns", ErrUnknownModality, m)
		}
	}
	sort.Ints(cols)
	return cols, nil
}

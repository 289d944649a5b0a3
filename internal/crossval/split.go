package crossval

import (
	"fmt"
	"math/rand"
	"sort"
)

// Fold is one train/test partition at subject granularity. A subject never
// appears on both sides of the same fold.
type Fold struct {
	Train []string
	Test  []string
}

// GroupKFold partitions subject ids into k folds. Test sets are disjoint and
// cover every subject exactly once. Assignment is deterministic given the
// seed and the id set.
func GroupKFold(subjects []string, k int, seed int64) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("fold count must be >= 2, got %d", k)
	}
	if len(subjects) < k {
		return nil, fmt.Errorf("%d subjects cannot fill %d folds", len(subjects), k)
	}

	shuffled := append([]string(nil), subjects...)
	sort.Strings(shuffled)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	folds := make([]Fold, k)
	for i, id := range shuffled {
		folds[i%k].Test = append(folds[i%k].Test, id)
	}
	for f := range folds {
		testSet := make(map[string]struct{}, len(folds[f].Test))
		for _, id := range folds[f].Test {
			testSet[id] = struct{}{}
		}
		for _, id := range shuffled {
			if _, ok := testSet[id]; !ok {
				folds[f].Train = append(folds[f].Train, id)
			}
		}
		sort.Strings(folds[f].Train)
		sort.Strings(folds[f].Test)
	}
	return folds, nil
}

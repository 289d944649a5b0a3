package study

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"gorm.io/gorm"
)

// medianPruner stops a trial whose intermediate value at a step is worse
// than the running median of the values other trials reported at the same
// step. No decision is made during the first warmupSteps steps, and pruning
// needs at least one other trial to compare against. Other trials may still
// be running; reading their in-progress reports is accepted non-determinism.
type medianPruner struct {
	direction   string
	warmupSteps int
}

func (p *medianPruner) shouldPrune(db *gorm.DB, studyID uuid.UUID, trialNumber, step int, value float64) (bool, error) {
	if step <= p.warmupSteps {
		return false, nil
	}

	var others []float64
	if err := db.Model(&IntermediateValue{}).
		Where("study_id = ? AND step = ? AND trial_number <> ?", studyID, step, trialNumber).
		Pluck("value", &others).Error; err != nil {
		return false, fmt.Errorf("reading intermediate values at step %d: %w", step, err)
	}
	if len(others) == 0 {
		return false, nil
	}

	median, err := stats.Median(others)
	if err != nil {
		return false, fmt.Errorf("median at step %d: %w", step, err)
	}

	if p.direction == Minimize {
		return value > median, nil
	}
	return value < median, nil
}

// Package study persists a hyperparameter search: every trial ever run for a
// given study key, its parameters, intermediate metric reports, and terminal
// status. Studies live in one SQLite file per key and survive restarts.
package study

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"sleep-tuner/internal/pipeline"
)

var ErrNoCompletedTrials = errors.New("study has no completed trials")

// Key derives the study identity from the modality set and classification
// mode. The modality list is sorted so the same selection always maps to the
// same persisted study.
func Key(modalities []string, mode string) string {
	sorted := append([]string(nil), modalities...)
	sort.Strings(sorted)
	return "xgb_" + strings.Join(sorted, "_") + "_" + mode
}

// Options tunes sampling and pruning for a study.
type Options struct {
	Seed          int64
	Direction     string
	StartupTrials int // random trials before the sampler uses history
	WarmupSteps   int // steps before the pruner may fire
}

// Study is an explicit handle to one persisted search. All trial-running
// calls go through the handle; there is no ambient global state.
type Study struct {
	db      *gorm.DB
	record  StudyRecord
	space   pipeline.ParamSpace
	sampler *sampler
	pruner  *medianPruner
}

// Trial is the live handle for one in-flight evaluation. It is owned by the
// objective function invocation and must not be used after it returns.
type Trial struct {
	Number int
	Params pipeline.Params

	study *Study
}

// Objective evaluates one trial and returns its scalar value. Returning an
// error wrapping pipeline.ErrTrialPruned marks the trial pruned; any other
// error marks it failed. Neither aborts the remaining trial budget.
type Objective func(trial *Trial) (float64, error)

// Open loads the study stored under root for the given key, creating it if
// absent. Trials recorded by earlier processes are preserved as-is; trials a
// crashed process left RUNNING are marked FAILED.
func Open(root, key string, space pipeline.ParamSpace, opts Options) (*Study, error) {
	if opts.Direction == "" {
		opts.Direction = Maximize
	}
	if opts.Direction != Maximize && opts.Direction != Minimize {
		return nil, fmt.Errorf("invalid direction %q", opts.Direction)
	}
	if opts.StartupTrials <= 0 {
		opts.StartupTrials = 10
	}

	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		return nil, fmt.Errorf("creating study root: %w", err)
	}
	path := filepath.Join(root, key+".db")

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening study store %s: %w", path, err)
	}
	if err := getMigrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("migrating study store: %w", err)
	}

	var record StudyRecord
	err = db.Where("key = ?", key).First(&record).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		record = StudyRecord{
			Id:           uuid.New(),
			Key:          key,
			Direction:    opts.Direction,
			CreationTime: time.Now().UTC(),
		}
		if err := db.Create(&record).Error; err != nil {
			return nil, fmt.Errorf("creating study %q: %w", key, err)
		}
		slog.Info("created study", "key", key, "direction", opts.Direction)
	case err != nil:
		return nil, fmt.Errorf("loading study %q: %w", key, err)
	default:
		if record.Direction != opts.Direction {
			return nil, fmt.Errorf("study %q has direction %q, requested %q", key, record.Direction, opts.Direction)
		}
		slog.Info("resumed study", "key", key)
	}

	// Trials left RUNNING by a crashed process can never complete.
	if err := db.Model(&TrialRecord{}).
		Where("study_id = ? AND status = ?", record.Id, TrialRunning).
		Updates(map[string]any{"status": TrialFailed, "completion_time": time.Now().UTC()}).Error; err != nil {
		return nil, fmt.Errorf("failing stale trials: %w", err)
	}

	return &Study{
		db:      db,
		record:  record,
		space:   space,
		sampler: newSampler(space, opts.Seed, opts.StartupTrials, opts.Direction),
		pruner:  &medianPruner{direction: opts.Direction, warmupSteps: opts.WarmupSteps},
	}, nil
}

// Direction returns whether the study maximizes or minimizes its objective.
func (s *Study) Direction() string {
	return s.record.Direction
}

// Trials returns every recorded trial, ordered by trial number.
func (s *Study) Trials() ([]TrialRecord, error) {
	var trials []TrialRecord
	if err := s.db.Where("study_id = ?", s.record.Id).Order("number").Find(&trials).Error; err != nil {
		return nil, fmt.Errorf("loading trials: %w", err)
	}
	return trials, nil
}

// Run samples and evaluates nTrials new trials, appending each to the
// persisted log as it finishes. Trial-level failures are contained: a failed
// or pruned trial is recorded and the loop moves on.
func (s *Study) Run(ctx context.Context, objective Objective, nTrials int) error {
	bar := progressbar.NewOptions(nTrials,
		progressbar.OptionSetDescription("⏳ trials"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	for i := 0; i < nTrials; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		history, err := s.Trials()
		if err != nil {
			return err
		}

		params := s.sampler.sample(history)
		if err := s.space.Validate(params); err != nil {
			return fmt.Errorf("sampler produced invalid assignment: %w", err)
		}

		trial, err := s.beginTrial(ctx, history, params)
		if err != nil {
			return err
		}

		value, objErr := objective(trial)
		status := TrialCompleted
		switch {
		case errors.Is(objErr, pipeline.ErrTrialPruned):
			status = TrialPruned
			slog.Info("trial pruned", "study", s.record.Key, "trial", trial.Number)
		case objErr != nil:
			status = TrialFailed
			slog.Warn("trial failed", "study", s.record.Key, "trial", trial.Number, "error", objErr)
		default:
			slog.Info("trial completed", "study", s.record.Key, "trial", trial.Number, "value", value)
		}

		if err := s.finishTrial(ctx, trial.Number, status, value); err != nil {
			return err
		}
		_ = bar.Add(1)
	}
	return nil
}

// beginTrial appends a RUNNING trial row with its sampled parameters. The
// insert is transactional: a trial is either fully present or absent.
func (s *Study) beginTrial(ctx context.Context, history []TrialRecord, params pipeline.Params) (*Trial, error) {
	number := 0
	if len(history) > 0 {
		number = history[len(history)-1].Number + 1
	}

	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding params: %w", err)
	}

	record := TrialRecord{
		StudyId:      s.record.Id,
		Number:       number,
		Status:       TrialRunning,
		Params:       datatypes.JSON(encoded),
		CreationTime: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("appending trial %d: %w", number, err)
	}

	return &Trial{Number: number, Params: params, study: s}, nil
}

func (s *Study) finishTrial(ctx context.Context, number int, status string, value float64) error {
	updates := map[string]any{
		"status":          status,
		"completion_time": time.Now().UTC(),
	}
	if status == TrialCompleted {
		updates["value"] = sql.NullFloat64{Float64: value, Valid: true}
	}
	// Explicit WHERE: gorm drops zero-valued primary key fields from a model
	// condition, which would turn trial 0 into a study-wide update.
	if err := s.db.WithContext(ctx).
		Model(&TrialRecord{}).
		Where("study_id = ? AND number = ?", s.record.Id, number).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("finalizing trial %d: %w", number, err)
	}
	return nil
}

// BestTrial returns the completed trial with the extremal objective value.
// Pruned and failed trials are never candidates.
func (s *Study) BestTrial() (*TrialRecord, error) {
	order := "value DESC"
	if s.record.Direction == Minimize {
		order = "value ASC"
	}

	var best TrialRecord
	err := s.db.
		Where("study_id = ? AND status = ?", s.record.Id, TrialCompleted).
		Order(order).
		First(&best).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoCompletedTrials
	}
	if err != nil {
		return nil, fmt.Errorf("selecting best trial: %w", err)
	}
	return &best, nil
}

// BestParams decodes the best trial's hyperparameter assignment.
func (s *Study) BestParams() (pipeline.Params, error) {
	best, err := s.BestTrial()
	if err != nil {
		return nil, err
	}
	var params pipeline.Params
	if err := json.Unmarshal(best.Params, &params); err != nil {
		return nil, fmt.Errorf("decoding trial %d params: %w", best.Number, err)
	}
	return params, nil
}

// PruneCallback builds the cooperative cancellation signal handed into a
// fit. Each call records the intermediate value and consults the pruner;
// when the trial is unpromising it returns pipeline.ErrTrialPruned, which
// the fit loop propagates out as the trial's terminal outcome.
//
// When folds of the same trial run concurrently, the first report for a
// step wins and later duplicates are dropped; pruning decisions may observe
// an in-progress snapshot of other trials. Both are accepted
// non-determinism.
func (t *Trial) PruneCallback(metric string) pipeline.PruneFunc {
	return func(step int, value float64) error {
		if err := t.reportIntermediate(step, metric, value); err != nil {
			return err
		}
		prune, err := t.study.pruner.shouldPrune(t.study.db, t.study.record.Id, t.Number, step, value)
		if err != nil {
			return err
		}
		if prune {
			return fmt.Errorf("%w: step %d %s=%.4f below running median", pipeline.ErrTrialPruned, step, metric, value)
		}
		return nil
	}
}

func (t *Trial) reportIntermediate(step int, metric string, value float64) error {
	row := IntermediateValue{
		StudyId:     t.study.record.Id,
		TrialNumber: t.Number,
		Step:        step,
		Metric:      metric,
		Value:       value,
	}
	return t.study.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

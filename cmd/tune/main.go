package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/caarlos0/env/v11"

	"sleep-tuner/internal/artifact"
	"sleep-tuner/internal/config"
	"sleep-tuner/internal/dataset"
	"sleep-tuner/internal/pipeline"
	"sleep-tuner/internal/study"
	"sleep-tuner/internal/tuner"
	"sleep-tuner/pkg/models"
)

type Config struct {
	Modalities      string `env:"MODALITIES" envDefault:"act"`
	Mode            string `env:"CLASSIFICATION_MODE" envDefault:"binary"`
	SearchSpacePath string `env:"SEARCH_SPACE" envDefault:""`
	Concurrency     int    `env:"CONCURRENCY" envDefault:"0"`
	EarlyStopping   int    `env:"EARLY_STOPPING_ROUNDS" envDefault:"10"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	base, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	space, err := config.LoadSearchSpace(cfg.SearchSpacePath)
	if err != nil {
		log.Fatalf("error loading search space: %v", err)
	}

	ds, err := dataset.Load(base.DataDir)
	if err != nil {
		log.Fatalf("error loading dataset from %s: %v", base.DataDir, err)
	}
	log.Printf("loaded %d subjects from %s", ds.Len(), base.DataDir)

	modalities := strings.Split(cfg.Modalities, ",")
	template := pipeline.New(modalities, cfg.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	t := tuner.New(template, ds, tuner.Options{
		StudyRoot:           base.StudyRoot,
		Trials:              base.Trials,
		Folds:               base.Folds,
		Seed:                base.Seed,
		Concurrency:         cfg.Concurrency,
		EarlyStoppingRounds: cfg.EarlyStopping,
		Space:               space,
	})

	best, err := t.Run(ctx)
	if err != nil {
		log.Fatalf("tuning failed: %v", err)
	}

	store, err := artifact.NewStore(base.ArtifactDir)
	if err != nil {
		log.Fatalf("error opening artifact store: %v", err)
	}

	key := study.Key(template.Modalities, template.Mode)
	meta, err := store.Save(best, key)
	if err != nil {
		log.Fatalf("error saving pipeline artifact: %v", err)
	}
	log.Printf("saved pipeline artifact %s", meta.Id)

	summary, err := buildSummary(base.StudyRoot, key, space, best, meta)
	if err != nil {
		log.Fatalf("error summarizing study: %v", err)
	}

	encoded, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		log.Fatalf("error encoding summary: %v", err)
	}
	fmt.Println(string(encoded))
}

func buildSummary(studyRoot, key string, space pipeline.ParamSpace, best *pipeline.Pipeline, meta *artifact.Metadata) (*models.SearchSummary, error) {
	st, err := study.Open(studyRoot, key, space, study.Options{Direction: study.Maximize})
	if err != nil {
		return nil, err
	}

	trials, err := st.Trials()
	if err != nil {
		return nil, err
	}

	summary := &models.SearchSummary{
		StudyKey:   key,
		Mode:       best.Mode,
		Modalities: best.Modalities,
		ArtifactId: meta.Id,
	}
	for _, trial := range trials {
		summary.Trials = append(summary.Trials, summarizeTrial(trial))
	}

	bestTrial, err := st.BestTrial()
	if err != nil {
		return nil, err
	}
	s := summarizeTrial(*bestTrial)
	summary.BestTrial = &s

	return summary, nil
}

func summarizeTrial(trial study.TrialRecord) models.TrialSummary {
	s := models.TrialSummary{
		Number:       trial.Number,
		Status:       trial.Status,
		CreationTime: trial.CreationTime,
	}
	if trial.Value.Valid {
		v := trial.Value.Float64
		s.Value = &v
	}
	if trial.CompletionTime.Valid {
		ct := trial.CompletionTime.Time
		s.CompletionTime = &ct
	}
	if err := json.Unmarshal(trial.Params, &s.Params); err != nil {
		s.Params = map[string]any{}
	}
	return s
}

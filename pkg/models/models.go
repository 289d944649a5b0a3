package models

import (
	"time"

	"github.com/google/uuid"
)

// --- Search run summary structs ---

// TrialSummary is the consumer-facing view of one recorded trial.
type TrialSummary struct {
	Number         int            `json:"number"`
	Status         string         `json:"status"`
	Value          *float64       `json:"value,omitempty"`
	Params         map[string]any `json:"params"`
	CreationTime   time.Time      `json:"creation_time"`
	CompletionTime *time.Time     `json:"completion_time,omitempty"`
}

// SearchSummary reports the outcome of one tuning run.
type SearchSummary struct {
	StudyKey   string         `json:"study_key"`
	Mode       string         `json:"mode"`
	Modalities []string       `json:"modalities"`
	Trials     []TrialSummary `json:"trials"`
	BestTrial  *TrialSummary  `json:"best_trial,omitempty"`
	ArtifactId uuid.UUID      `json:"artifact_id"`
}

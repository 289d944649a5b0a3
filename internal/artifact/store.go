// Package artifact stores finalized pipelines on local disk: a gob-encoded
// model file plus a JSON metadata sidecar describing how it was produced.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"sleep-tuner/internal/pipeline"
)

const (
	modelFile    = "pipeline.gob"
	metadataFile = "metadata.json"
)

// Metadata describes one saved pipeline.
type Metadata struct {
	Id           uuid.UUID       `json:"id"`
	StudyKey     string          `json:"study_key"`
	Mode         string          `json:"mode"`
	Modalities   []string        `json:"modalities"`
	Params       pipeline.Params `json:"params"`
	CreationTime time.Time       `json:"creation_time"`
}

// Store writes and reads pipeline artifacts under a base directory, one
// subdirectory per artifact id.
type Store struct {
	baseDir string
}

func NewStore(dir string) (*Store, error) {
	baseDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", dir, err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Save persists a fitted pipeline and returns its metadata.
func (s *Store) Save(p *pipeline.Pipeline, studyKey string) (*Metadata, error) {
	if !p.Fitted() {
		return nil, fmt.Errorf("refusing to save unfitted pipeline: %w", pipeline.ErrNotFitted)
	}

	meta := &Metadata{
		Id:           uuid.New(),
		StudyKey:     studyKey,
		Mode:         p.Mode,
		Modalities:   p.Modalities,
		Params:       p.Params(),
		CreationTime: time.Now().UTC(),
	}

	dir := filepath.Join(s.baseDir, meta.Id.String())
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir %s: %w", dir, err)
	}

	f, err := os.Create(filepath.Join(dir, modelFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create model file: %w", err)
	}
	defer f.Close()
	if err := p.Encode(f); err != nil {
		return nil, fmt.Errorf("failed to encode pipeline: %w", err)
	}

	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), encoded, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}
	return meta, nil
}

// Load reads a saved pipeline and its metadata back from disk.
func (s *Store) Load(id uuid.UUID) (*pipeline.Pipeline, *Metadata, error) {
	dir := filepath.Join(s.baseDir, id.String())

	encoded, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(encoded, &meta); err != nil {
		return nil, nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	f, err := os.Open(filepath.Join(dir, modelFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open model file: %w", err)
	}
	defer f.Close()

	p, err := pipeline.Decode(f)
	if err != nil {
		return nil, nil, err
	}
	return p, &meta, nil
}

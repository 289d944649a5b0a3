package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	StudyRoot   string
	ArtifactDir string
	DataDir     string
	Seed        int64
	Folds       int
	Trials      int
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists (useful for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading, continuing with environment variables")
	}

	seed, err := strconv.ParseInt(getEnv("SEED", "1"), 10, 64)
	if err != nil {
		log.Printf("Invalid SEED value '%s', using default 1", getEnv("SEED", "1"))
		seed = 1
	}

	folds, err := strconv.Atoi(getEnv("FOLDS", "5"))
	if err != nil || folds < 2 {
		log.Printf("Invalid FOLDS value '%s', using default 5", getEnv("FOLDS", "5"))
		folds = 5
	}

	trials, err := strconv.Atoi(getEnv("TRIALS", "1"))
	if err != nil || trials < 1 {
		log.Printf("Invalid TRIALS value '%s', using default 1", getEnv("TRIALS", "1"))
		trials = 1
	}

	cfg := &Config{
		StudyRoot:   getEnv("STUDY_ROOT", filepath.Join(".", "studies")),
		ArtifactDir: getEnv("ARTIFACT_DIR", filepath.Join(".", "artifacts")),
		DataDir:     getEnv("DATA_DIR", filepath.Join(".", "data")),
		Seed:        seed,
		Folds:       folds,
		Trials:      trials,
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

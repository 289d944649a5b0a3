package study

import (
	"database/sql"
	"log"
	"log/slog"
	"time"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Trial terminal states. A trial starts RUNNING and moves to exactly one of
// the other states; a RUNNING trial found on open belonged to a crashed
// process and is marked FAILED.
const (
	TrialRunning   string = "RUNNING"
	TrialCompleted string = "COMPLETED"
	TrialPruned    string = "PRUNED"
	TrialFailed    string = "FAILED"
)

const (
	Maximize string = "maximize"
	Minimize string = "minimize"
)

type StudyRecord struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Direction string    `gorm:"size:10;not null"`

	CreationTime time.Time

	Trials []TrialRecord `gorm:"foreignKey:StudyId;constraint:OnDelete:CASCADE"`
}

type TrialRecord struct {
	StudyId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Number  int       `gorm:"primaryKey"`

	Status string         `gorm:"size:20;not null"`
	Params datatypes.JSON `gorm:"not null"`
	Value  sql.NullFloat64

	CreationTime   time.Time
	CompletionTime sql.NullTime

	IntermediateValues []IntermediateValue `gorm:"foreignKey:StudyId,TrialNumber;references:StudyId,Number;constraint:OnDelete:CASCADE"`
}

// IntermediateValue is one (step, value) report from inside a trial's fit,
// used by the pruner to compare trials at the same step. Rows are append-only.
type IntermediateValue struct {
	StudyId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	TrialNumber int       `gorm:"primaryKey"`
	Step        int       `gorm:"primaryKey"`

	Metric string `gorm:"size:40;not null"`
	Value  float64
}

func getMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	migrator := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "0",
			Migrate: func(txn *gorm.DB) error {
				return txn.AutoMigrate(&StudyRecord{}, &TrialRecord{}, &IntermediateValue{})
			},
		},
	})

	migrator.InitSchema(func(txn *gorm.DB) error {
		log.Println("clean study store detected, running full schema initialization")

		if name := db.Dialector.Name(); name == "sqlite" || name == "sqlite3" {
			if err := txn.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
				slog.Error("error enabling foreign keys for SQLite", "error", err)
			}
		}

		return db.AutoMigrate(&StudyRecord{}, &TrialRecord{}, &IntermediateValue{})
	})

	return migrator
}

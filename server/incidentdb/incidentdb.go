// Package incidentdb owns the incident records and their invariants.
package incidentdb

import (
	"errors"
	"fmt"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("incident not found")

// ErrValidation covers records rejected at the boundary (out of range
// confidence, empty frame list). These are never persisted, and never
// worth retrying.
var ErrValidation = errors.New("validation failed")

// IncidentDB stores incidents.
type IncidentDB struct {
	log logs.Log
	db  *gorm.DB
}

// Open opens (or creates) the incident DB and runs migrations.
func Open(logger logs.Log, dbc dbh.DBConfig) (*IncidentDB, error) {
	logger = logs.NewPrefixLogger(logger, "IncidentDB")
	db, err := dbh.OpenDB(logger, dbc, Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open incident database: %w", err)
	}
	return &IncidentDB{
		log: logger,
		db:  db,
	}, nil
}

func (s *IncidentDB) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

// Create stores a new incident.
// Create is idempotent on ID: a second create with the same id is a no-op,
// not an error. This matters because task retries may re-deliver a persist
// after a prior attempt partially succeeded.
func (s *IncidentDB) Create(inc *Incident) error {
	if err := validate(inc); err != nil {
		return err
	}
	if inc.VerificationStatus == "" {
		inc.VerificationStatus = StatusPending
	}
	// ON CONFLICT DO NOTHING keeps create idempotent even when two workers
	// race on the same id.
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(inc).Error
}

func (s *IncidentDB) Get(id string) (*Incident, error) {
	inc := Incident{}
	err := s.db.First(&inc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &inc, nil
}

func (s *IncidentDB) List() ([]Incident, error) {
	incidents := []Incident{}
	if err := s.db.Order("id").Find(&incidents).Error; err != nil {
		return nil, err
	}
	return incidents, nil
}

// UpdateStatus sets the verification status of an incident.
// The transition is applied unconditionally, so re-applying the current
// status is a no-op. A single UPDATE keeps this safe under concurrent
// verifiers (last write wins, no torn state).
// Returns ErrNotFound if the incident does not exist.
func (s *IncidentDB) UpdateStatus(id string, status string) error {
	res := s.db.Model(&Incident{}).Where("id = ?", id).Update("verification_status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %v", ErrNotFound, id)
	}
	return nil
}

// DeleteOlderThan removes incidents older than the given age.
// Maintenance only: normal operation never deletes incidents.
func (s *IncidentDB) DeleteOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	res := s.db.Where("timestamp < ?", cutoff).Delete(&Incident{})
	return res.RowsAffected, res.Error
}

// AddDeadLetter records a permanently failed task for operator attention.
func (s *IncidentDB) AddDeadLetter(taskType, payload, reason string) error {
	return s.db.Create(&DeadLetter{
		TaskType: taskType,
		Payload:  payload,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	}).Error
}

func (s *IncidentDB) ListDeadLetters() ([]DeadLetter, error) {
	letters := []DeadLetter{}
	if err := s.db.Order("id").Find(&letters).Error; err != nil {
		return nil, err
	}
	return letters, nil
}

func validate(inc *Incident) error {
	if inc.ID == "" {
		return fmt.Errorf("%w: incident has no id", ErrValidation)
	}
	if inc.Confidence < 0 || inc.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrValidation, inc.Confidence)
	}
	if inc.FrameURLs == nil || len(inc.FrameURLs.Data) == 0 {
		return fmt.Errorf("%w: incident %v has no frame URLs", ErrValidation, inc.ID)
	}
	return nil
}

// Package history records finished and failed jobs for the download
// history views. It is a bookkeeping collaborator of the job manager:
// recording failures must never fail a job.
package history

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Download is one history row.
type Download struct {
	ID           int64      `gorm:"primaryKey" json:"id"`
	Kind         string     `gorm:"index" json:"kind"`
	Detail       string     `json:"detail"`
	Title        string     `json:"title,omitempty"`
	Status       string     `gorm:"index" json:"status"`
	FilePath     string     `json:"-"`
	FileSize     int64      `json:"file_size,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Store is the sqlite-backed history recorder.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.AutoMigrate(&Download{}); err != nil {
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts a pending row and returns its id.
func (s *Store) Record(kind, detail string) (int64, error) {
	row := Download{
		Kind:   kind,
		Detail: detail,
		Status: StatusPending,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return 0, fmt.Errorf("record history: %w", err)
	}
	return row.ID, nil
}

// Complete marks the row finished with its artifact metadata.
func (s *Store) Complete(id int64, title, filePath string, fileSize int64) error {
	now := time.Now()
	err := s.db.Model(&Download{}).Where("id = ?", id).Updates(map[string]any{
		"status":      StatusCompleted,
		"title":       title,
		"file_path":   filePath,
		"file_size":   fileSize,
		"finished_at": &now,
	}).Error
	if err != nil {
		return fmt.Errorf("complete history %d: %w", id, err)
	}
	return nil
}

// Fail marks the row failed with a bounded reason.
func (s *Store) Fail(id int64, reason string) error {
	now := time.Now()
	err := s.db.Model(&Download{}).Where("id = ?", id).Updates(map[string]any{
		"status":        StatusFailed,
		"error_message": reason,
		"finished_at":   &now,
	}).Error
	if err != nil {
		return fmt.Errorf("fail history %d: %w", id, err)
	}
	return nil
}

// Recent returns the newest rows, most recent first.
func (s *Store) Recent(limit int) ([]Download, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []Download
	if err := s.db.Order("id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return rows, nil
}

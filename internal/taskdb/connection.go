// Package taskdb persists the task ledger in a local sqlite database.
package taskdb

import (
	"errors"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"

	"fsgate/internal/taskreg"
)

// Open creates/opens the sqlite ledger at path and syncs the schema.
func Open(path string) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	if err := SyncSchema(gdb); err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return gdb, nil
}

// SyncSchema creates/updates tables and indexes from models.
func SyncSchema(db *gorm.DB) error {
	if db == nil {
		return errors.New("db is required")
	}
	if err := db.AutoMigrate(&TaskRecord{}); err != nil {
		return err
	}
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_task_records_state_created ON task_records(state, created_at DESC);`).Error
}

// Ledger adapts the gorm handle to the registry's persistence hook.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Ledger{db: db}, nil
}

// Record upserts the snapshot keyed by task id.
func (l *Ledger) Record(snap taskreg.Snapshot) error {
	row := TaskRecord{
		TaskID:          snap.TaskID,
		Command:         snap.Command,
		Dir:             snap.Dir,
		State:           snap.State,
		ExitCode:        snap.ExitCode,
		StdoutTail:      snap.Stdout,
		StderrTail:      snap.Stderr,
		LastError:       snap.Error,
		CreatedAt:       snap.CreatedAt.Unix(),
		OutputTruncated: snap.StdoutTruncated || snap.StderrTruncated,
	}
	if !snap.StartedAt.IsZero() {
		row.StartedAt = snap.StartedAt.Unix()
	}
	if !snap.EndedAt.IsZero() {
		row.EndedAt = snap.EndedAt.Unix()
	}
	return l.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// History lists persisted rows, newest first.
func (l *Ledger) History(limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows := make([]TaskRecord, 0, limit)
	err := l.db.Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

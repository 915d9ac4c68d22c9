// Package postgres is the server-tier store on PostgreSQL, built on GORM.
package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"statesync/internal/model"
)

type recordRow struct {
	Entity       string  `gorm:"primaryKey;size:128;index:idx_state_records_order,priority:1"`
	ID           string  `gorm:"primaryKey;size:128"`
	CreatorID    *string `gorm:"size:256"`
	Data         string  `gorm:"type:jsonb;not null"`
	CreatedNanos int64   `gorm:"column:created_at;not null;index:idx_state_records_order,priority:2"`
	UpdatedNanos int64   `gorm:"column:updated_at;not null"`
	SavedNanos   *int64  `gorm:"column:saved_at"`
}

func (recordRow) TableName() string { return "state_records" }

type operationRow struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Operation  string `gorm:"not null"`
	Parameters string `gorm:"not null;default:''"`
	Status     string `gorm:"not null"`
	StartedAt  time.Time
	FinishedAt *time.Time
}

func (operationRow) TableName() string { return "state_operations" }

func (r operationRow) toModel() *model.Operation {
	op := &model.Operation{
		ID:         r.ID,
		Operation:  r.Operation,
		Parameters: r.Parameters,
		Status:     r.Status,
		StartedAt:  r.StartedAt.UTC(),
	}
	if r.FinishedAt != nil {
		t := r.FinishedAt.UTC()
		op.FinishedAt = &t
	}
	return op
}

// Database holds a GORM connection with the statesync tables migrated.
type Database struct {
	db  *gorm.DB
	dsn string
}

// Open connects to dsn and migrates the schema.
func Open(dsn string) (*Database, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	d, err := New(db)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, err
	}
	d.dsn = dsn
	return d, nil
}

// New wraps an existing GORM connection and migrates the schema.
func New(db *gorm.DB) (*Database, error) {
	if err := db.AutoMigrate(&recordRow{}, &operationRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Database{db: db}, nil
}

// Path returns the connection string.
func (d *Database) Path() string {
	return d.dsn
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *Database) StartOperation(ctx context.Context, operation, parameters string) (*model.Operation, error) {
	row := operationRow{
		Operation:  operation,
		Parameters: parameters,
		Status:     model.OperationRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return row.toModel(), nil
}

func (d *Database) FinishOperation(ctx context.Context, id int64, status string) error {
	now := time.Now().UTC()
	res := d.db.WithContext(ctx).Model(&operationRow{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "finished_at": now})
	if res.Error != nil {
		return fmt.Errorf("finishing operation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("finishing operation: no operation with id %d", id)
	}
	return nil
}

// ListOperations returns the most recent operations first.
func (d *Database) ListOperations(ctx context.Context, limit int) ([]*model.Operation, error) {
	var rows []operationRow
	if err := d.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	ops := make([]*model.Operation, len(rows))
	for i, r := range rows {
		ops[i] = r.toModel()
	}
	return ops, nil
}

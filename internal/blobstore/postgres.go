package blobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Object struct {
	Path      string    `gorm:"column:path;primaryKey;type:varchar(512)"`
	Body      []byte    `gorm:"column:body;type:bytea;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

func (Object) TableName() string { return "blob_objects" }

// Postgres keeps blobs in a single table. Writes are plain upserts so the
// backend behaves like an object store: last write wins, no row locking.
type Postgres struct {
	db *gorm.DB
}

func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPostgres(db)
}

func NewPostgres(db *gorm.DB) (*Postgres, error) {
	if err := db.AutoMigrate(&Object{}); err != nil {
		return nil, fmt.Errorf("migrate blob_objects: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Read(ctx context.Context, path string) ([]byte, error) {
	var obj Object
	err := p.db.WithContext(ctx).Where("path = ?", cleanPath(path)).First(&obj).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return obj.Body, nil
}

func (p *Postgres) Write(ctx context.Context, path string, data []byte) error {
	obj := Object{Path: cleanPath(path), Body: data, UpdatedAt: time.Now()}
	err := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
		}).
		Create(&obj).Error
	if err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, path string) error {
	result := p.db.WithContext(ctx).Where("path = ?", cleanPath(path)).Delete(&Object{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete object: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	err := p.db.WithContext(ctx).
		Model(&Object{}).
		Where("path LIKE ?", escapeLike(cleanPath(prefix))+"%").
		Order("path").
		Pluck("path", &paths).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return paths, nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

package blobstore

import (
	"fmt"

	"economy_service/internal/config"
)

// Open builds the Store selected by cfg.StoreBackend.
func Open(cfg config.Config) (*Store, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.StoreBackend {
	case "memory":
		backend = NewMemory()
	case "postgres":
		backend, err = OpenPostgres(cfg.DBConnStr)
	case "sqlite":
		backend, err = OpenSQLite(cfg.SQLitePath)
	case "s3":
		backend, err = NewS3(cfg.S3Endpoint, cfg.S3Bucket, cfg.S3Prefix, cfg.S3AccessKeyID, cfg.S3SecretAccessKey)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if err != nil {
		return nil, err
	}
	return New(backend, cfg.StoreCompress)
}

// Package store connects the import worker to the registry database. Reference
// lookups go through gorm, accepted entries are bulk loaded with pgx COPY.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type DB struct {
	pool *pgxpool.Pool
	gorm *gorm.DB
}

func Open(ctx context.Context, dsn string) (*DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting database: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		closeGorm(gdb)
		return nil, fmt.Errorf("creating pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		closeGorm(gdb)
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &DB{pool: pool, gorm: gdb}, nil
}

func closeGorm(gdb *gorm.DB) {
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (d *DB) Close() error {
	d.pool.Close()
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates the tables the worker reads and writes.
func (d *DB) Migrate(ctx context.Context) error {
	if err := d.gorm.WithContext(ctx).AutoMigrate(&Species{}, &Location{}, &Observation{}); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

func (d *DB) Reference() *Reference {
	return &Reference{db: d.gorm}
}

func (d *DB) Entries() *Entries {
	return &Entries{pool: d.pool}
}

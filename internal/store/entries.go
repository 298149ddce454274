package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/obsreg/importer/internal/model"
)

// Entries bulk loads accepted rows of an import. All rows of one call are
// written in a single transaction.
type Entries struct {
	pool *pgxpool.Pool
}

func NewEntries(pool *pgxpool.Pool) *Entries {
	return &Entries{pool: pool}
}

func (e *Entries) SaveObservations(ctx context.Context, jobID string, observations []model.Observation) error {
	rows := make([][]any, 0, len(observations))
	for _, o := range observations {
		rows = append(rows, []any{jobID, o.Species, o.Location, o.ObservedAt, o.Count, nullableText(o.Observer)})
	}
	return e.copy(ctx, "observations",
		[]string{"job_id", "species_code", "location_code", "observed_at", "count", "observer"},
		rows)
}

func (e *Entries) SaveLocations(ctx context.Context, jobID string, locations []model.Location) error {
	rows := make([][]any, 0, len(locations))
	for _, l := range locations {
		rows = append(rows, []any{l.Code, l.Name, l.Latitude, l.Longitude, jobID})
	}
	return e.copy(ctx, "locations",
		[]string{"code", "name", "latitude", "longitude", "job_id"},
		rows)
}

func (e *Entries) copy(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy %s: %w", table, err)
	}
	if n != int64(len(rows)) {
		return fmt.Errorf("copy %s: wrote %d of %d rows", table, n, len(rows))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", table, err)
	}
	return nil
}

func nullableText(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

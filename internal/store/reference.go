package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Reference answers species and location lookups of the worker.
type Reference struct {
	db *gorm.DB
}

func NewReference(db *gorm.DB) *Reference {
	return &Reference{db: db}
}

func (r *Reference) KnownSpecies(ctx context.Context, codes []string) (map[string]bool, error) {
	return r.known(ctx, &Species{}, codes)
}

func (r *Reference) KnownLocations(ctx context.Context, codes []string) (map[string]bool, error) {
	return r.known(ctx, &Location{}, codes)
}

func (r *Reference) known(ctx context.Context, model any, codes []string) (map[string]bool, error) {
	ret := make(map[string]bool, len(codes))
	if len(codes) == 0 {
		return ret, nil
	}
	var found []string
	err := r.db.WithContext(ctx).
		Model(model).
		Where("code IN ?", codes).
		Pluck("code", &found).Error
	if err != nil {
		return nil, fmt.Errorf("looking up codes: %w", err)
	}
	for _, c := range found {
		ret[c] = true
	}
	return ret, nil
}

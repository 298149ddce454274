package worker

import (
	"context"
	"sync"

	"github.com/obsreg/importer/internal/model"
)

// ReferenceLookup answers which of the given codes exist in the reference
// data. Codes missing from the returned map are unknown.
type ReferenceLookup interface {
	KnownSpecies(ctx context.Context, codes []string) (map[string]bool, error)
	KnownLocations(ctx context.Context, codes []string) (map[string]bool, error)
}

// Store persists accepted entries of one job.
type Store interface {
	SaveObservations(ctx context.Context, jobID string, observations []model.Observation) error
	SaveLocations(ctx context.Context, jobID string, locations []model.Location) error
}

// StaticReference is an in-memory ReferenceLookup.
type StaticReference struct {
	Species   map[string]bool
	Locations map[string]bool
}

func (s StaticReference) KnownSpecies(_ context.Context, codes []string) (map[string]bool, error) {
	ret := make(map[string]bool, len(codes))
	for _, c := range codes {
		if s.Species[c] {
			ret[c] = true
		}
	}
	return ret, nil
}

func (s StaticReference) KnownLocations(_ context.Context, codes []string) (map[string]bool, error) {
	ret := make(map[string]bool, len(codes))
	for _, c := range codes {
		if s.Locations[c] {
			ret[c] = true
		}
	}
	return ret, nil
}

// MemoryStore keeps saved entries in memory.
type MemoryStore struct {
	mx           sync.Mutex
	observations map[string][]model.Observation
	locations    map[string][]model.Location
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		observations: make(map[string][]model.Observation),
		locations:    make(map[string][]model.Location),
	}
}

func (m *MemoryStore) SaveObservations(_ context.Context, jobID string, observations []model.Observation) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.observations[jobID] = append(m.observations[jobID], observations...)
	return nil
}

func (m *MemoryStore) SaveLocations(_ context.Context, jobID string, locations []model.Location) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.locations[jobID] = append(m.locations[jobID], locations...)
	return nil
}

func (m *MemoryStore) Observations(jobID string) []model.Observation {
	m.mx.Lock()
	defer m.mx.Unlock()
	return append([]model.Observation(nil), m.observations[jobID]...)
}

func (m *MemoryStore) Locations(jobID string) []model.Location {
	m.mx.Lock()
	defer m.mx.Unlock()
	return append([]model.Location(nil), m.locations[jobID]...)
}

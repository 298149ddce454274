// Package registry holds the in-memory status record of every import job
// started by this process.
package registry

import (
	"sync"

	"github.com/obsreg/importer/internal/model"
)

// Registry maps a job id to its latest record. Records are stored and
// returned by value, so a reader never observes a half applied update.
// Entries live as long as the process.
type Registry struct {
	mx   sync.RWMutex
	jobs map[string]model.Job
}

func New() *Registry {
	return &Registry{
		jobs: make(map[string]model.Job),
	}
}

// Set replaces the record stored under id.
func (r *Registry) Set(id string, job model.Job) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.jobs[id] = job
}

func (r *Registry) Get(id string) (model.Job, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Update applies fn to the record under id while holding the write lock.
// fn returns the replacement and whether it should be stored. Update
// reports false when id is unknown or fn declined.
func (r *Registry) Update(id string, fn func(model.Job) (model.Job, bool)) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	cur, ok := r.jobs[id]
	if !ok {
		return false
	}
	next, ok := fn(cur)
	if !ok {
		return false
	}
	r.jobs[id] = next
	return true
}

func (r *Registry) Len() int {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return len(r.jobs)
}

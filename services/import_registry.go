package services

import (
	"errors"
	"sync"

	"github.com/06benste/schoolmasterVLE-sub001/models"
)

var (
	ErrImportJobNotFound       = errors.New("import job not found")
	ErrImportJobNotCancellable = errors.New("import job can no longer be cancelled")
	ErrImportJobNotReady       = errors.New("import job has not completed")
	ErrImportNothingCreated    = errors.New("import job created no users")
)

// ImportRegistry is the process-wide map of import jobs, created at startup.
// Entries are never evicted, so completed jobs stay pollable for the life of
// the process. Job metadata is not persisted; a restart orphans in-flight
// jobs even though their source files remain on disk.
type ImportRegistry struct {
	mu   sync.RWMutex
	jobs map[string]*models.ImportJob
}

func NewImportRegistry() *ImportRegistry {
	return &ImportRegistry{jobs: make(map[string]*models.ImportJob)}
}

func (r *ImportRegistry) Add(job *models.ImportJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID()] = job
}

func (r *ImportRegistry) Get(id string) (*models.ImportJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Cancel flips the cancellation flag on a queued or processing job. The
// batch processor observes the flag at the next batch boundary.
func (r *ImportRegistry) Cancel(id string) error {
	job, ok := r.Get(id)
	if !ok {
		return ErrImportJobNotFound
	}
	if !job.RequestCancel() {
		return ErrImportJobNotCancellable
	}
	return nil
}

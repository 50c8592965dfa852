package job

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry provides the process-wide in-memory store of jobs.
// It is the only structure touched by workers, pollers, the cancel
// handler and the sweeper concurrently, so every access goes through
// the mutex. Jobs are short-lived operational state and are not
// persisted across restarts.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// Create allocates a new job in queued state and returns its id.
// seed, if non-nil, pre-populates operation-specific fields before the
// job becomes visible to other goroutines.
func (r *Registry) Create(kind Kind, seed func(*Job)) string {
	id := uuid.NewString()
	now := r.now()
	j := &Job{
		ID:        id,
		Kind:      kind,
		State:     StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if seed != nil {
		seed(j)
	}
	r.mu.Lock()
	r.jobs[id] = j
	r.mu.Unlock()
	return j.ID
}

// Get returns a snapshot of the job or ErrJobNotFound.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *j, nil
}

// Update applies mutate to the stored job under the write lock and
// refreshes UpdatedAt. Running the merge inside the lock is what rules
// out lost updates between the worker and the cancel handler.
func (r *Registry) Update(id string, mutate func(*Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	mutate(j)
	j.UpdatedAt = r.now()
	return nil
}

// Remove deletes the entry. Used only by the sweeper.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

// List returns a snapshot of every tracked job.
func (r *Registry) List() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, *j)
	}
	return out
}

// expired returns ids of finished jobs whose last update is older than
// cutoff. Non-terminal jobs are never expired: a submission can sit in
// queued longer than the retention window when the pool is saturated.
func (r *Registry) expired(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, j := range r.jobs {
		if j.State.Terminal() && j.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// stuck returns ids of running jobs with no registry update since
// cutoff. Queued jobs are excluded: they hold no subprocess and their
// worker legitimately transitions them later.
func (r *Registry) stuck(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, j := range r.jobs {
		if j.State.Running() && j.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

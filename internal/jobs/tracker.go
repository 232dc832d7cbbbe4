// Package jobs keeps ingestion progress in memory and runs ingestion tasks on
// a bounded worker pool.
package jobs

import (
	"sync"

	"github.com/arturoeanton/go-repoflow/internal/domain"
)

// Tracker stores the latest ProcessingJob per project and fans updates out to
// subscribers. It implements port.JobStore.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]domain.ProcessingJob
	subs map[string][]chan domain.ProcessingJob // subscribers per project
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		jobs: make(map[string]domain.ProcessingJob),
		subs: make(map[string][]chan domain.ProcessingJob),
	}
}

// Get returns a snapshot of the project's job.
func (t *Tracker) Get(projectID string) (domain.ProcessingJob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[projectID]
	return job, ok
}

// Set replaces the project's job and notifies subscribers. Slow subscribers
// miss intermediate updates but the terminal one is always delivered to a
// subscriber whose buffer has room.
func (t *Tracker) Set(job domain.ProcessingJob) {
	t.mu.Lock()
	t.jobs[job.ProjectID] = job
	subs := append([]chan domain.ProcessingJob(nil), t.subs[job.ProjectID]...)
	t.mu.Unlock()

	for _, ch := range subs {
		if job.Done() {
			// make room for the terminal update
			select {
			case <-ch:
			default:
			}
		}
		select {
		case ch <- job:
		default:
		}
	}
}

// Delete forgets the project's job.
func (t *Tracker) Delete(projectID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, projectID)
}

// Subscribe returns a channel that receives the project's job updates.
func (t *Tracker) Subscribe(projectID string) chan domain.ProcessingJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan domain.ProcessingJob, 16)
	t.subs[projectID] = append(t.subs[projectID], ch)
	return ch
}

// Unsubscribe removes ch from the project's subscribers and closes it.
func (t *Tracker) Unsubscribe(projectID string, ch chan domain.ProcessingJob) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.subs[projectID]
	for i, s := range subs {
		if s == ch {
			t.subs[projectID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(t.subs[projectID]) == 0 {
		delete(t.subs, projectID)
	}
}

package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridate/faceseek/internal/match"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// RegenJob tracks one running or finished regeneration run.
type RegenJob struct {
	mu sync.RWMutex

	ID          string
	Status      JobStatus
	Processed   int
	Total       int
	Report      *match.Report
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time

	cancel context.CancelFunc
}

// regenJobView is the JSON shape of a job snapshot.
type regenJobView struct {
	ID          string        `json:"id"`
	Status      JobStatus     `json:"status"`
	Processed   int           `json:"processed"`
	Total       int           `json:"total"`
	Report      *match.Report `json:"report,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Snapshot returns a consistent copy for serialization.
func (j *RegenJob) Snapshot() regenJobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return regenJobView{
		ID:          j.ID,
		Status:      j.Status,
		Processed:   j.Processed,
		Total:       j.Total,
		Report:      j.Report,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// SetProgress records batch completion.
func (j *RegenJob) SetProgress(processed, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Processed = processed
	j.Total = total
}

// Finish records the terminal state of the run.
func (j *RegenJob) Finish(report *match.Report, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	j.CompletedAt = &now
	j.Report = report

	switch {
	case err == nil:
		j.Status = JobStatusCompleted
	case errors.Is(err, context.Canceled) || j.Status == JobStatusCancelled:
		j.Status = JobStatusCancelled
	default:
		j.Status = JobStatusFailed
		j.Error = err.Error()
	}
}

// Cancel stops the job at the next batch boundary.
func (j *RegenJob) Cancel() {
	j.mu.Lock()
	j.Status = JobStatusCancelled
	j.mu.Unlock()
	j.cancel()
}

// JobManager tracks async jobs by id. Finished jobs stay queryable until the
// process restarts.
type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*RegenJob
}

func NewJobManager() *JobManager {
	return &JobManager{jobs: make(map[string]*RegenJob)}
}

// Start registers a new running job and returns it with its run context.
func (m *JobManager) Start() (*RegenJob, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	job := &RegenJob{
		ID:        uuid.New().String(),
		Status:    JobStatusRunning,
		StartedAt: time.Now(),
		cancel:    cancel,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	return job, ctx
}

// Get returns a job by id, or nil.
func (m *JobManager) Get(id string) *RegenJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// Running reports whether any job is still in flight. Regeneration hammers
// the backend; two concurrent runs would double the request rate and corrupt
// progress reporting.
func (m *JobManager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, job := range m.jobs {
		job.mu.RLock()
		running := job.Status == JobStatusRunning
		job.mu.RUnlock()
		if running {
			return true
		}
	}
	return false
}

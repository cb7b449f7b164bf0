package web

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the status of a background scan
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusError     JobStatus = "error" // Stopped on a connect or fetch error
)

// Job represents a background inbox scan
type Job struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	Scanned     int       `json:"scanned"`
	Bounced     int       `json:"bounced"`
	Total       int       `json:"total"`
	Folder      string    `json:"folder"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Error       string    `json:"error,omitempty"`

	ctx        context.Context
	cancelFunc context.CancelFunc
	mu         sync.Mutex
}

// SetTotal records how many messages the scan will visit
func (j *Job) SetTotal(total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Total = total
}

// Update updates the job progress
func (j *Job) Update(scanned, bounced int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.Scanned = scanned
	j.Bounced = bounced
	if j.Total > 0 {
		j.Progress = (scanned * 100) / j.Total
	}
}

// Complete marks the job as completed
func (j *Job) Complete() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status != JobStatusRunning {
		return
	}
	j.Status = JobStatusCompleted
	j.CompletedAt = time.Now()
	j.Progress = 100
	j.cancelFunc()
}

// StopWithError stops the job due to an error
func (j *Job) StopWithError(errorMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status != JobStatusRunning {
		return
	}
	j.Status = JobStatusError
	j.CompletedAt = time.Now()
	j.Error = errorMsg
	j.cancelFunc()
}

// Cancel cancels the job
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status == JobStatusRunning {
		j.Status = JobStatusCancelled
		j.CompletedAt = time.Now()
		if j.cancelFunc != nil {
			j.cancelFunc()
		}
	}
}

// IsCancelled returns true if the job was cancelled
func (j *Job) IsCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status == JobStatusCancelled
}

// Context returns the job's context
func (j *Job) Context() context.Context {
	return j.ctx
}

// ToJSON returns the job data for JSON serialization
func (j *Job) ToJSON() map[string]interface{} {
	j.mu.Lock()
	defer j.mu.Unlock()

	return map[string]interface{}{
		"id":           j.ID,
		"status":       j.Status,
		"progress":     j.Progress,
		"scanned":      j.Scanned,
		"bounced":      j.Bounced,
		"total":        j.Total,
		"folder":       j.Folder,
		"started_at":   j.StartedAt,
		"completed_at": j.CompletedAt,
		"error":        j.Error,
	}
}

func (j *Job) status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status
}

// JobManager manages background jobs
type JobManager struct {
	jobs map[string]*Job
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*Job),
	}
}

// Create creates a new running job for folder
func (jm *JobManager) Create(folder string) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	return jm.create(folder)
}

// Start creates a job for folder unless one is already running. It returns
// the running job and false in that case.
func (jm *JobManager) Start(folder string) (*Job, bool) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	for _, job := range jm.jobs {
		if job.status() == JobStatusRunning {
			return job, false
		}
	}
	return jm.create(folder), true
}

// create registers a new job; jm.mu must be held
func (jm *JobManager) create(folder string) *Job {
	ctx, cancel := context.WithCancel(context.Background())

	job := &Job{
		ID:         uuid.New().String(),
		Status:     JobStatusRunning,
		Folder:     folder,
		StartedAt:  time.Now(),
		ctx:        ctx,
		cancelFunc: cancel,
	}

	jm.jobs[job.ID] = job
	return job
}

// Get returns a job by ID, or nil if not found
func (jm *JobManager) Get(id string) *Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	return jm.jobs[id]
}

// GetActive returns the currently running job, or nil if none
func (jm *JobManager) GetActive() *Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	for _, job := range jm.jobs {
		if job.status() == JobStatusRunning {
			return job
		}
	}
	return nil
}

// Cleanup removes finished jobs older than the specified duration
func (jm *JobManager) Cleanup(maxAge time.Duration) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, job := range jm.jobs {
		job.mu.Lock()
		expired := job.Status != JobStatusRunning && job.CompletedAt.Before(cutoff)
		job.mu.Unlock()
		if expired {
			delete(jm.jobs, id)
		}
	}
}

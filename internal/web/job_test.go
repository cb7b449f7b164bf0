package web

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobProgress(t *testing.T) {
	jm := NewJobManager()
	job := jm.Create("INBOX")
	require.NotEmpty(t, job.ID)
	assert.Same(t, job, jm.Get(job.ID))
	assert.Same(t, job, jm.GetActive())

	job.SetTotal(4)
	job.Update(1, 1)
	assert.Equal(t, 25, job.ToJSON()["progress"])

	job.Update(4, 2)
	job.Complete()
	state := job.ToJSON()
	assert.Equal(t, JobStatusCompleted, state["status"])
	assert.Equal(t, 100, state["progress"])
	assert.Equal(t, 2, state["bounced"])
	assert.Nil(t, jm.GetActive())

	// A finished job cannot be cancelled or failed afterwards
	job.Cancel()
	job.StopWithError("late")
	assert.Equal(t, JobStatusCompleted, job.ToJSON()["status"])
	assert.Empty(t, job.ToJSON()["error"])
}

func TestJobStopWithError(t *testing.T) {
	job := NewJobManager().Create("INBOX")
	job.StopWithError("failed to connect")

	assert.Equal(t, JobStatusError, job.ToJSON()["status"])
	assert.Equal(t, "failed to connect", job.ToJSON()["error"])
	assert.Error(t, job.Context().Err())
}

func TestJobCleanup(t *testing.T) {
	jm := NewJobManager()
	done := jm.Create("INBOX")
	done.Complete()
	running := jm.Create("INBOX")

	jm.Cleanup(-time.Second)
	assert.Nil(t, jm.Get(done.ID))
	assert.NotNil(t, jm.Get(running.ID))
}

func TestJobStartSingleRunning(t *testing.T) {
	jm := NewJobManager()

	const callers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var started []*Job
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if job, ok := jm.Start("INBOX"); ok {
				mu.Lock()
				started = append(started, job)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, started, 1)
	active, ok := jm.Start("INBOX")
	assert.False(t, ok)
	assert.Same(t, started[0], active)

	started[0].Complete()
	next, ok := jm.Start("INBOX")
	assert.True(t, ok)
	assert.NotEqual(t, started[0].ID, next.ID)
}

package hydrate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Job is a hydration running in the background.
type Job struct {
	ID        string
	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	result     *Result
	err        error
	finishedAt time.Time
}

// JobStatus is a point-in-time view of a Job.
type JobStatus struct {
	ID         string     `json:"id"`
	Running    bool       `json:"running"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Done is closed when the job ends.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job ends or ctx is done.
func (j *Job) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the job's current status.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	st := JobStatus{ID: j.ID, StartedAt: j.StartedAt, Result: j.result}
	select {
	case <-j.done:
		t := j.finishedAt
		st.FinishedAt = &t
	default:
		st.Running = true
	}
	if j.err != nil {
		st.Error = j.err.Error()
	}
	return st
}

func (j *Job) running() bool {
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

// Start launches a background hydration and returns its job with
// started=true. If a job is already running it is returned instead.
func (h *Hydrator) Start() (*Job, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.job != nil && h.job.running() {
		return h.job, false
	}

	ctx, cancel := context.WithCancel(h.base)
	j := &Job{
		ID:        uuid.NewString(),
		StartedAt: h.now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	h.job = j

	go func() {
		defer cancel()
		res, err := h.run(ctx, j.ID)
		if err != nil {
			h.logger.Warn("background hydration", zap.String("job_id", j.ID), zap.Error(err))
		}
		j.mu.Lock()
		j.result, j.err, j.finishedAt = res, err, h.now()
		j.mu.Unlock()
		close(j.done)
	}()
	return j, true
}

// Cancel asks the running job to stop issuing fetches. It reports whether
// a job was running.
func (h *Hydrator) Cancel() bool {
	h.mu.Lock()
	j := h.job
	h.mu.Unlock()

	if j == nil || !j.running() {
		return false
	}
	j.cancel()
	return true
}

// Current returns the most recent job, running or finished, or nil.
func (h *Hydrator) Current() *Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job
}

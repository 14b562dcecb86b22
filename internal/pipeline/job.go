package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vk/crossgrid/internal/profile"
)

// Job is one independent build-and-test attempt scoped to a single target
// profile. Status reads are safe from any goroutine; only the owning worker
// advances the state.
type Job struct {
	// ID is unique per job, stable for the life of the run.
	ID string
	// Profile is the target this job validates. Never mutated.
	Profile *profile.Profile

	state atomic.Int32

	mu          sync.Mutex
	cause       Cause
	err         error
	diagnostics string
	started     time.Time
	finished    time.Time
}

// newJob creates a Pending job for the given profile.
func newJob(prof *profile.Profile) *Job {
	return &Job{ID: uuid.NewString(), Profile: prof}
}

// Status returns the job's current status.
func (j *Job) Status() Status {
	return Status(j.state.Load())
}

// advance moves the job forward to next. It refuses backward moves and any
// transition out of a terminal state, returning whether the move happened.
func (j *Job) advance(next Status) bool {
	for {
		cur := j.state.Load()
		if Status(cur).Terminal() || next <= Status(cur) {
			return false
		}
		if j.state.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

// start stamps the job's begin time and moves it to Provisioning.
func (j *Job) start() {
	j.mu.Lock()
	j.started = time.Now()
	j.mu.Unlock()
	j.advance(Provisioning)
}

// succeed moves the job to its terminal success state.
func (j *Job) succeed() {
	j.advance(Succeeded)
	j.mu.Lock()
	j.finished = time.Now()
	j.mu.Unlock()
}

// fail moves the job to Failed and records why. Diagnostics are kept
// verbatim for reporting.
func (j *Job) fail(cause Cause, err error, diagnostics string) {
	if !j.advance(Failed) {
		return
	}
	j.mu.Lock()
	j.cause = cause
	j.err = err
	j.diagnostics = diagnostics
	j.finished = time.Now()
	j.mu.Unlock()
}

// Cause returns why the job failed, or CauseNone.
func (j *Job) Cause() Cause {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cause
}

// Err returns the failure error, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Diagnostics returns the verbatim output of the failed step, if any.
func (j *Job) Diagnostics() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.diagnostics
}

// Duration returns how long the job ran, zero until it finishes.
func (j *Job) Duration() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started.IsZero() || j.finished.IsZero() {
		return 0
	}
	return j.finished.Sub(j.started)
}

package pipeline

// Result aggregates the terminal states of all jobs in a run. It is built
// once, after every job has settled.
type Result struct {
	// RunID identifies the pipeline run.
	RunID string
	// Jobs holds every job in configuration order, all terminal.
	Jobs []*Job
	// Status is Succeeded iff every job succeeded, else Failed.
	Status Status
}

// newResult computes the aggregate verdict.
func newResult(runID string, jobs []*Job) *Result {
	status := Succeeded
	for _, j := range jobs {
		if j.Status() != Succeeded {
			status = Failed
			break
		}
	}
	return &Result{RunID: runID, Jobs: jobs, Status: status}
}

// Succeeded reports whether every job passed.
func (r *Result) Succeeded() bool {
	return r.Status == Succeeded
}

// FailedJobs returns the jobs that did not succeed, in order.
func (r *Result) FailedJobs() []*Job {
	var out []*Job
	for _, j := range r.Jobs {
		if j.Status() != Succeeded {
			out = append(out, j)
		}
	}
	return out
}

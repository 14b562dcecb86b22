package pipeline

import "fmt"

// Status is a job's position in its lifecycle. Transitions are monotonic:
// a job only ever moves forward, and the terminal states are final.
type Status int32

const (
	// Pending means the job has been created but no worker picked it up.
	Pending Status = iota
	// Provisioning means the toolchain and install hook are being set up.
	Provisioning
	// Building means the compile phase is running.
	Building
	// Testing means the test suite is running; hosted profiles only.
	Testing
	// Succeeded is the terminal success state.
	Succeeded
	// Failed is the terminal failure state; see the job's Cause.
	Failed
)

// String renders the status for logs and the status endpoint.
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Provisioning:
		return "provisioning"
	case Building:
		return "building"
	case Testing:
		return "testing"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed
}

package pipeline

import "fmt"

// Cause classifies why a job reached Failed. It refines the terminal status
// for reporting without adding states to the machine.
type Cause int

const (
	// CauseNone marks jobs that did not fail.
	CauseNone Cause = iota
	// CauseProvision covers toolchain or install-hook setup failures.
	CauseProvision
	// CauseCompile covers compile-step failures.
	CauseCompile
	// CauseTest covers test-suite failures.
	CauseTest
	// CauseCancelled covers external aborts and per-job timeouts. It is
	// distinguished from ordinary failure for reporting.
	CauseCancelled
)

// String renders the cause for logs and the status endpoint.
func (c Cause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseProvision:
		return "provision-error"
	case CauseCompile:
		return "compile-failed"
	case CauseTest:
		return "test-failed"
	case CauseCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Cause(%d)", int(c))
	}
}

package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/crossgrid/internal/profile"
)

func TestJob_TransitionsAreMonotonic(t *testing.T) {
	j := newJob(&profile.Profile{Triple: "x86_64-unknown-linux-gnu"})
	require.Equal(t, Pending, j.Status())

	require.True(t, j.advance(Provisioning))
	require.True(t, j.advance(Building))
	require.True(t, j.advance(Testing))

	// No backward moves.
	require.False(t, j.advance(Building))
	require.False(t, j.advance(Provisioning))
	require.Equal(t, Testing, j.Status())
}

func TestJob_TerminalStatesAreFinal(t *testing.T) {
	j := newJob(&profile.Profile{Triple: "x86_64-unknown-linux-gnu"})
	j.succeed()
	require.Equal(t, Succeeded, j.Status())

	j.fail(CauseTest, errors.New("too late"), "")
	require.Equal(t, Succeeded, j.Status())
	require.Equal(t, CauseNone, j.Cause())
}

func TestJob_FailRecordsCauseAndDiagnostics(t *testing.T) {
	j := newJob(&profile.Profile{Triple: "thumbv7m-none-eabi"})
	cause := errors.New("compile failed for thumbv7m-none-eabi")

	j.fail(CauseCompile, cause, "error[E0432]: unresolved import")

	require.Equal(t, Failed, j.Status())
	require.Equal(t, CauseCompile, j.Cause())
	require.ErrorIs(t, j.Err(), cause)
	require.Contains(t, j.Diagnostics(), "unresolved import")
}

func TestJob_SkippingTestingIsAllowed(t *testing.T) {
	// Freestanding jobs go Building -> Succeeded without Testing.
	j := newJob(&profile.Profile{Triple: "thumbv7m-none-eabi", Freestanding: true})
	j.start()
	require.True(t, j.advance(Building))
	j.succeed()
	require.Equal(t, Succeeded, j.Status())
}

func TestStatus_Terminal(t *testing.T) {
	require.False(t, Pending.Terminal())
	require.False(t, Provisioning.Terminal())
	require.False(t, Building.Terminal())
	require.False(t, Testing.Terminal())
	require.True(t, Succeeded.Terminal())
	require.True(t, Failed.Terminal())
}

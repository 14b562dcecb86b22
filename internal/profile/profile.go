// Package profile defines the target profiles a pipeline run validates and
// the registry that holds them. Profiles are fixed at configuration time and
// never mutated afterwards.
package profile

// Profile describes one build target of the matrix.
type Profile struct {
	// Triple is the target triple string and the profile's identity,
	// e.g. "x86_64-unknown-linux-gnu" or "thumbv7m-none-eabi".
	Triple string

	// Freestanding marks targets with no hosting OS able to execute the
	// produced binaries; such profiles are build-only gates.
	Freestanding bool

	// CrossToolchain marks profiles that need a sysroot materialized for
	// their triple before building.
	CrossToolchain bool

	// ExtraPackages lists system packages installed before sysroot
	// generation, e.g. cross binutils.
	ExtraPackages []string

	// Env holds extra environment variables exported to hook commands.
	Env map[string]string
}

// Hosted reports whether binaries built for this profile can run on the
// build host, which is what gates test execution.
func (p *Profile) Hosted() bool {
	return !p.Freestanding
}

package profile

import (
	"fmt"

	"github.com/vk/crossgrid/internal/config"
)

// ConfigError reports a malformed target entry in the matrix configuration.
// It is fatal for the whole run: no jobs are created when the registry
// cannot be built.
type ConfigError struct {
	Triple string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Triple == "" {
		return fmt.Sprintf("invalid target matrix: %s", e.Reason)
	}
	return fmt.Sprintf("invalid target %q: %s", e.Triple, e.Reason)
}

// Registry holds the ordered, immutable set of target profiles for one run.
// Order follows the configuration source and matters only for deterministic
// log output; profiles build independently.
type Registry struct {
	profiles []*Profile
}

// NewRegistry validates the configured targets and builds the registry.
func NewRegistry(targets []*config.Target) (*Registry, error) {
	if len(targets) == 0 {
		return nil, &ConfigError{Reason: "no target blocks defined"}
	}

	seen := make(map[string]bool, len(targets))
	profiles := make([]*Profile, 0, len(targets))
	for _, t := range targets {
		if t.Triple == "" {
			return nil, &ConfigError{Reason: "target triple must not be empty"}
		}
		if seen[t.Triple] {
			return nil, &ConfigError{Triple: t.Triple, Reason: "duplicate target triple"}
		}
		seen[t.Triple] = true

		// A freestanding target implies a cross toolchain unless the
		// configuration says otherwise.
		cross := t.Freestanding
		if t.CrossToolchain != nil {
			cross = *t.CrossToolchain
		}
		if t.Freestanding && !cross {
			return nil, &ConfigError{Triple: t.Triple, Reason: "freestanding target cannot use the host toolchain"}
		}

		profiles = append(profiles, &Profile{
			Triple:         t.Triple,
			Freestanding:   t.Freestanding,
			CrossToolchain: cross,
			ExtraPackages:  t.ExtraPackages,
			Env:            t.Env,
		})
	}

	return &Registry{profiles: profiles}, nil
}

// Profiles returns the profiles in configuration order. The returned slice
// is a copy; the registry itself is never mutated.
func (r *Registry) Profiles() []*Profile {
	out := make([]*Profile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

// Len returns the number of registered profiles.
func (r *Registry) Len() int {
	return len(r.profiles)
}

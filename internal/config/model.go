package config

import "time"

// Matrix is the unified, format-agnostic representation of the entire
// pipeline configuration: the build matrix plus pipeline-level settings.
type Matrix struct {
	Targets   []*Target
	Pipeline  *Pipeline
	Toolchain *Toolchain
	Hooks     *Hooks
	Notify    *Notify
}

// Target is the format-agnostic representation of a single `target` block:
// one entry of the build matrix.
type Target struct {
	Triple         string
	Freestanding   bool
	CrossToolchain *bool // nil means "derive from Freestanding"
	ExtraPackages  []string
	Env            map[string]string
}

// Pipeline holds run-wide settings shared by all jobs.
type Pipeline struct {
	Workers    int
	JobTimeout time.Duration
	Branches   []string
	CacheDir   string
}

// Toolchain names the commands that materialize cross-compilation
// artifacts: the system package installer and the sysroot generator.
type Toolchain struct {
	InstallCommand string
	SysrootCommand string
}

// Hooks names the external commands invoked around each job. Script is the
// only mandatory hook; it performs the actual build and test work.
type Hooks struct {
	Install      string
	Script       string
	AfterSuccess string
}

// Notify configures the completion notification boundary. OnSuccess defaults
// to false: successful runs are not announced.
type Notify struct {
	WebhookURL string
	OnSuccess  bool
}

// Package schema contains the HCL-tagged structs that mirror the on-disk
// shape of crossgrid matrix files. They are decoded by internal/hcl and
// translated into the format-agnostic internal/config model.
package schema

import "github.com/hashicorp/hcl/v2"

// Target represents a `target` block from a matrix file: one build target
// the pipeline must validate.
type Target struct {
	Triple         string            `hcl:"triple,label"`
	Freestanding   bool              `hcl:"freestanding,optional"`
	CrossToolchain *bool             `hcl:"cross_toolchain,optional"`
	ExtraPackages  []string          `hcl:"extra_packages,optional"`
	Env            map[string]string `hcl:"env,optional"`
}

// Pipeline represents the `pipeline` block holding run-wide settings.
type Pipeline struct {
	Workers    int      `hcl:"workers,optional"`
	JobTimeout string   `hcl:"job_timeout,optional"`
	Branches   []string `hcl:"branches,optional"`
	CacheDir   string   `hcl:"cache_dir,optional"`
}

// Toolchain represents the `toolchain` block naming the commands that
// materialize cross-compilation artifacts.
type Toolchain struct {
	InstallCommand string `hcl:"install_command,optional"`
	SysrootCommand string `hcl:"sysroot_command,optional"`
}

// Hooks represents the `hooks` block naming the external commands run
// around each job.
type Hooks struct {
	Install      string `hcl:"install,optional"`
	Script       string `hcl:"script"`
	AfterSuccess string `hcl:"after_success,optional"`
}

// Notify represents the `notify` block configuring the completion
// notification boundary.
type Notify struct {
	WebhookURL string `hcl:"webhook_url"`
	OnSuccess  bool   `hcl:"on_success,optional"`
}

// Root represents the top-level structure of a matrix file.
type Root struct {
	Targets   []*Target  `hcl:"target,block"`
	Pipeline  *Pipeline  `hcl:"pipeline,block"`
	Toolchain *Toolchain `hcl:"toolchain,block"`
	Hooks     *Hooks     `hcl:"hooks,block"`
	Notify    *Notify    `hcl:"notify,block"`
	Body      hcl.Body   `hcl:",remain"`
}

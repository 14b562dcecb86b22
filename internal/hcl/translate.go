package hcl

import (
	"fmt"
	"time"

	"github.com/vk/crossgrid/internal/config"
	"github.com/vk/crossgrid/internal/schema"
)

// defaultWorkers bounds job parallelism when the pipeline block is silent.
const defaultWorkers = 2

// translate converts the merged HCL schema into the agnostic model and
// applies defaults for everything the files left unsaid.
func translate(root *schema.Root) (*config.Matrix, error) {
	matrix := &config.Matrix{
		Pipeline: &config.Pipeline{Workers: defaultWorkers},
	}

	for _, t := range root.Targets {
		matrix.Targets = append(matrix.Targets, translateTarget(t))
	}

	if root.Pipeline != nil {
		p, err := translatePipeline(root.Pipeline)
		if err != nil {
			return nil, err
		}
		matrix.Pipeline = p
	}
	if root.Toolchain != nil {
		matrix.Toolchain = &config.Toolchain{
			InstallCommand: root.Toolchain.InstallCommand,
			SysrootCommand: root.Toolchain.SysrootCommand,
		}
	}
	if root.Hooks != nil {
		matrix.Hooks = &config.Hooks{
			Install:      root.Hooks.Install,
			Script:       root.Hooks.Script,
			AfterSuccess: root.Hooks.AfterSuccess,
		}
	}
	if root.Notify != nil {
		matrix.Notify = &config.Notify{
			WebhookURL: root.Notify.WebhookURL,
			OnSuccess:  root.Notify.OnSuccess,
		}
	}
	return matrix, nil
}

// translateTarget converts a target block into the agnostic model.
func translateTarget(t *schema.Target) *config.Target {
	return &config.Target{
		Triple:         t.Triple,
		Freestanding:   t.Freestanding,
		CrossToolchain: t.CrossToolchain,
		ExtraPackages:  t.ExtraPackages,
		Env:            t.Env,
	}
}

// translatePipeline converts the pipeline block, parsing the timeout string.
func translatePipeline(p *schema.Pipeline) (*config.Pipeline, error) {
	out := &config.Pipeline{
		Workers:  p.Workers,
		Branches: p.Branches,
		CacheDir: p.CacheDir,
	}
	if out.Workers <= 0 {
		out.Workers = defaultWorkers
	}
	if p.JobTimeout != "" {
		d, err := time.ParseDuration(p.JobTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid job_timeout %q: %w", p.JobTimeout, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("invalid job_timeout %q: must not be negative", p.JobTimeout)
		}
		out.JobTimeout = d
	}
	return out, nil
}

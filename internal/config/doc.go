// Package config defines the format-agnostic model of a crossgrid pipeline
// configuration: the target matrix plus run-wide settings. Loaders for
// concrete formats (see internal/hcl) translate their input into this model,
// which is the only configuration shape the rest of the engine knows about.
package config

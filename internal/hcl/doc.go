// Package hcl implements the config.Loader interface for HCL matrix files.
// It parses one or more .hcl files, decodes them against internal/schema,
// and translates the result into the format-agnostic internal/config model.
package hcl

package hcl

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/crossgrid/internal/config"
	"github.com/vk/crossgrid/internal/ctxlog"
	"github.com/vk/crossgrid/internal/schema"
)

// Loader loads crossgrid matrix configuration from HCL files. Expressions in
// matrix files can reference the process environment through the `env` object,
// e.g. `branches = [env.CI_DEFAULT_BRANCH]`.
type Loader struct {
	parser  *hclparse.Parser
	evalCtx *hcl.EvalContext
}

// NewLoader creates a new HCL loader.
func NewLoader() *Loader {
	return &Loader{
		parser:  hclparse.NewParser(),
		evalCtx: evalContext(),
	}
}

// evalContext exposes the process environment to matrix expressions.
func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			vars[k] = cty.StringVal(v)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
	}
}

// Load implements config.Loader. Each path may be a single .hcl file or a
// directory that is walked recursively for .hcl files.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Matrix, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := collectFiles(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl files found in %v", paths)
	}
	logger.Debug("Collected matrix files.", "count", len(files))

	merged := &schema.Root{}
	for _, file := range files {
		root, err := l.decodeFile(file)
		if err != nil {
			return nil, err
		}
		if err := mergeRoots(merged, root, file); err != nil {
			return nil, err
		}
	}

	matrix, err := translate(merged)
	if err != nil {
		return nil, err
	}
	logger.Debug("Matrix configuration loaded.", "targets", len(matrix.Targets))
	return matrix, nil
}

// decodeFile parses and decodes a single HCL file against the schema.
func (l *Loader) decodeFile(path string) (*schema.Root, error) {
	f, diags := l.parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %w", path, diags)
	}

	var root schema.Root
	if diags := gohcl.DecodeBody(f.Body, l.evalCtx, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode %s: %w", path, diags)
	}
	return &root, nil
}

// mergeRoots folds the blocks of one decoded file into the accumulated root.
// Target blocks append; the singleton blocks may appear in at most one file.
func mergeRoots(dst, src *schema.Root, path string) error {
	dst.Targets = append(dst.Targets, src.Targets...)

	if src.Pipeline != nil {
		if dst.Pipeline != nil {
			return fmt.Errorf("%s: duplicate 'pipeline' block", path)
		}
		dst.Pipeline = src.Pipeline
	}
	if src.Toolchain != nil {
		if dst.Toolchain != nil {
			return fmt.Errorf("%s: duplicate 'toolchain' block", path)
		}
		dst.Toolchain = src.Toolchain
	}
	if src.Hooks != nil {
		if dst.Hooks != nil {
			return fmt.Errorf("%s: duplicate 'hooks' block", path)
		}
		dst.Hooks = src.Hooks
	}
	if src.Notify != nil {
		if dst.Notify != nil {
			return fmt.Errorf("%s: duplicate 'notify' block", path)
		}
		dst.Notify = src.Notify
	}
	return nil
}

// collectFiles expands the given paths into a flat, sorted list of .hcl files.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config path: %w", err)
		}

		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(p, ".hcl") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk config directory %s: %w", path, err)
		}
	}
	return files, nil
}

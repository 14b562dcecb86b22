package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// MatrixPath points at a matrix .hcl file or a directory of them.
	MatrixPath string
	// Branch is the branch this run is for; checked against the matrix
	// allow-list before any job is created.
	Branch string

	LogFormat  string
	LogLevel   string
	StatusPort int
	// Workers overrides the matrix worker count when positive.
	Workers int
	// CacheDir overrides the matrix cache directory when non-empty.
	CacheDir string
}

// NewConfig validates a Config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.MatrixPath == "" {
		return nil, errors.New("MatrixPath is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}

package config

import (
	"context"
)

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration so services can be fed from files, environment variables,
// or a remote configuration service without changing their wiring.
type Loader interface {
	// Load retrieves and parses the configuration from the underlying source.
	// It returns the configuration as parsed; callers apply Normalized and
	// Validate before use.
	Load(ctx context.Context) (*Config, error)
}

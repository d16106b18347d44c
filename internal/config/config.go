// Package config loads the relay's runtime configuration: defaults,
// overridden by an optional YAML file, overridden in turn by environment
// variables — the same layering telepresenceio/telepresence's
// cmd/traffic/cmd/manager/envconfig.go applies with go-envconfig, extended
// here with a YAML layer for operators who prefer a config file to a pile
// of env vars.
package config

import (
	"context"
	"fmt"
	"os"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the relay's full runtime configuration.
type Config struct {
	// ListenAddr is the TCP address the relay accepts client connections
	// on. 31416 is the gnirehtet wire protocol's upstream default port.
	ListenAddr string `yaml:"listenAddr" env:"GNIREHTET_LISTEN_ADDR,default=:31416"`

	// LogLevel is one of trace/debug/info/warn/error, parsed with
	// logrus.ParseLevel and set as the logger's level; a value that does
	// not parse leaves logrus's default level in place.
	LogLevel string `yaml:"logLevel" env:"GNIREHTET_LOG_LEVEL,default=info"`

	// SweepInterval governs how often the router scans for idle
	// connections to expire (spec.md §4.5 "the router sweeps
	// periodically").
	SweepInterval string `yaml:"sweepInterval" env:"GNIREHTET_SWEEP_INTERVAL,default=1s"`
}

// Load builds a Config from defaults, an optional YAML file at path (if it
// exists), and finally environment variables, in that ascending priority
// order.
func Load(ctx context.Context, path string) (Config, error) {
	var cfg Config

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return cfg, fmt.Errorf("config: process env: %w", err)
	}
	return cfg, nil
}

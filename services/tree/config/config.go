// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads signaltree configuration from YAML.
//
// Defaults are embedded in the binary. A user file is decoded on top of the
// defaults, so it only needs the keys it changes. The merged result is
// validated before it is returned.
//
// Thread Safety:
//
//	All exported functions are safe for concurrent use. A returned Config
//	is a plain value owned by the caller.
package config

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/signaltree/pkg/logging"
	"github.com/AleutianAI/signaltree/services/tree/diff"
	"github.com/AleutianAI/signaltree/services/tree/entities"
	"github.com/AleutianAI/signaltree/services/tree/history"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxYAMLFileSize is the maximum accepted config file size (1MB).
	MaxYAMLFileSize = 1024 * 1024

	// EnvConfigPath names a config file when no explicit path is given.
	EnvConfigPath = "SIGNALTREE_CONFIG"
)

// ErrInvalidConfig is returned when a config fails to parse or validate.
var ErrInvalidConfig = errors.New("invalid config")

//go:embed defaults.yaml
var defaultConfigYAML []byte

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	configLoadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaltree_config_load_total",
		Help: "Total config loads by source and result",
	}, []string{"source", "result"})

	configLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "signaltree_config_load_duration_seconds",
		Help:    "Duration of config loading",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1},
	})
)

var tracer = otel.Tracer("signaltree.config")

// configValidate is shared; validator caches struct metadata.
var configValidate = validator.New()

// =============================================================================
// Types
// =============================================================================

// Config is the full signaltree configuration.
type Config struct {
	PathIndex  PathIndexConfig `yaml:"path_index"`
	TimeTravel history.Config  `yaml:"time_travel"`
	Diff       DiffConfig      `yaml:"diff"`
	Entities   EntitiesConfig  `yaml:"entities"`
	Logging    LoggingConfig   `yaml:"logging"`
}

// PathIndexConfig controls the tree's path index.
type PathIndexConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DiffConfig holds default diff options.
type DiffConfig struct {
	MaxDepth         int  `yaml:"max_depth" validate:"gte=1,lte=10000"`
	DetectDeletions  bool `yaml:"detect_deletions"`
	IgnoreArrayOrder bool `yaml:"ignore_array_order"`
}

// EntitiesConfig holds entity collection defaults.
type EntitiesConfig struct {
	MissingPolicy string `yaml:"missing_policy" validate:"oneof=ignore report"`
}

// LoggingConfig maps onto logging.Config.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON   bool   `yaml:"json"`
	LogDir string `yaml:"log_dir"`
}

// DiffOptions converts the diff section to diff options.
func (c Config) DiffOptions() []diff.Option {
	return []diff.Option{
		diff.WithMaxDepth(c.Diff.MaxDepth),
		diff.WithDetectDeletions(c.Diff.DetectDeletions),
		diff.WithIgnoreArrayOrder(c.Diff.IgnoreArrayOrder),
	}
}

// MissingPolicy returns the configured update-of-missing policy.
func (c Config) MissingPolicy() entities.MissingPolicy {
	p, err := entities.ParseMissingPolicy(c.Entities.MissingPolicy)
	if err != nil {
		return entities.MissingIgnore
	}
	return p
}

// LoggerConfig converts the logging section for logging.New.
func (c Config) LoggerConfig(service string) logging.Config {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.Config{
		Level:   level,
		JSON:    c.Logging.JSON,
		LogDir:  c.Logging.LogDir,
		Service: service,
	}
}

// =============================================================================
// Loading
// =============================================================================

// Default returns the embedded defaults.
//
// Outputs:
//   - Config: The defaults. The embedded file is validated by tests, so a
//     failure here is a build defect and panics.
func Default() Config {
	var cfg Config
	if err := decodeStrict(defaultConfigYAML, &cfg); err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// ResolvePath returns explicit if set, else the SIGNALTREE_CONFIG variable.
// An empty result means defaults only.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return os.Getenv(EnvConfigPath)
}

// Load reads the config file at path over the embedded defaults.
//
// Description:
//
//	An empty path returns the defaults. Unknown keys, files over
//	MaxYAMLFileSize, and values failing validation are all rejected.
//
// Inputs:
//   - ctx: Context for tracing. Must not be nil.
//   - path: YAML file path, or "".
//
// Outputs:
//   - Config: The merged configuration.
//   - error: ErrInvalidConfig (wrapped) for bad content; I/O errors as is.
func Load(ctx context.Context, path string) (Config, error) {
	if ctx == nil {
		return Config{}, fmt.Errorf("config.Load: ctx must not be nil")
	}
	ctx, span := tracer.Start(ctx, "config.Load",
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		configLoadDuration.Observe(time.Since(start).Seconds())
	}()

	if path == "" {
		configLoadTotal.WithLabelValues("embedded", "ok").Inc()
		span.SetAttributes(attribute.String("source", "embedded"))
		return Default(), nil
	}

	data, err := readFile(ctx, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		configLoadTotal.WithLabelValues("file", "error").Inc()
		return Config{}, err
	}

	cfg, err := Parse(ctx, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		configLoadTotal.WithLabelValues("file", "error").Inc()
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	configLoadTotal.WithLabelValues("file", "ok").Inc()
	span.SetAttributes(attribute.String("source", "file"))
	return cfg, nil
}

// Parse decodes data over the embedded defaults and validates the result.
func Parse(ctx context.Context, data []byte) (Config, error) {
	_, span := tracer.Start(ctx, "config.Parse",
		trace.WithAttributes(attribute.Int("yaml_size", len(data))),
	)
	defer span.End()

	cfg := Default()
	if err := decodeStrict(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
}

func decodeStrict(data []byte, out *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func readFile(ctx context.Context, path string) ([]byte, error) {
	_, span := tracer.Start(ctx, "config.ReadFile")
	defer span.End()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("%w: file too large: %d bytes (max %d)", ErrInvalidConfig, info.Size(), MaxYAMLFileSize)
	}
	span.SetAttributes(attribute.Int64("file_size", info.Size()))

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return data, nil
}

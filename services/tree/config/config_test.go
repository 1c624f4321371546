// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/signaltree/pkg/logging"
	"github.com/AleutianAI/signaltree/services/tree/entities"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.PathIndex.Enabled)
	assert.False(t, cfg.TimeTravel.Enabled)
	assert.Equal(t, 100, cfg.TimeTravel.MaxHistorySize)
	assert.Equal(t, 100, cfg.Diff.MaxDepth)
	assert.False(t, cfg.Diff.DetectDeletions)
	assert.Equal(t, entities.MissingIgnore, cfg.MissingPolicy())
	assert.Len(t, cfg.DiffOptions(), 3)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signaltree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
time_travel:
  enabled: true
  max_history_size: 5
entities:
  missing_policy: report
logging:
  level: debug
`), 0o600))

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, cfg.TimeTravel.Enabled)
	assert.Equal(t, 5, cfg.TimeTravel.MaxHistorySize)
	assert.Equal(t, entities.MissingReport, cfg.MissingPolicy())
	assert.True(t, cfg.PathIndex.Enabled, "untouched keys keep defaults")
	assert.Equal(t, 100, cfg.Diff.MaxDepth)

	lc := cfg.LoggerConfig("test")
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, "test", lc.Service)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "bogus: 1\n"},
		{"history too small", "time_travel:\n  max_history_size: 0\n"},
		{"bad policy", "entities:\n  missing_policy: explode\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"depth too small", "diff:\n  max_depth: 0\n"},
		{"malformed", "diff: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(context.Background(), []byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/from/env.yaml")
	assert.Equal(t, "/explicit.yaml", ResolvePath("/explicit.yaml"))
	assert.Equal(t, "/from/env.yaml", ResolvePath(""))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Levels
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" Warning ", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// Console output
// =============================================================================

func TestNew_TextConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Service: "netchaos"})

	logger.Info("round complete", "round", 2)
	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, `msg="round complete"`)
	assert.Contains(t, out, "service=netchaos")
	assert.Contains(t, out, "round=2")
}

func TestNew_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, JSON: true})

	logger.Warn("status read failed", "unit", "u1")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "u1", rec["unit"])
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Level: LevelWarn})

	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")
	out := buf.String()
	assert.NotContains(t, out, "msg=d")
	assert.NotContains(t, out, "msg=i")
	assert.Contains(t, out, "msg=w")
	assert.Contains(t, out, "msg=e")
}

func TestNew_QuietWithoutFileDiscards(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Quiet: true})
	logger.Error("dropped")
	assert.Empty(t, buf.String())
}

func TestWith_AddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf}).With("run_id", "r1")

	logger.Info("hello")
	logger.Slog().Info("via slog")
	assert.Equal(t, 2, strings.Count(buf.String(), "run_id=r1"))
}

// =============================================================================
// File output
// =============================================================================

func TestNew_FileOutputIsJSON(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	logger := New(Config{Output: &console, LogDir: dir, Service: "netchaos"})

	logger.Info("experiment starting", "scenario", "a.yaml")
	path := logger.FilePath()
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close(), "second close is a no-op")

	want := filepath.Join(dir, "netchaos_"+time.Now().Format("2006-01-02")+".log")
	assert.Equal(t, want, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "experiment starting", rec["msg"])
	assert.Equal(t, "netchaos", rec["service"])
	assert.Contains(t, console.String(), "experiment starting", "console still written")
}

func TestNew_UnusableLogDirFallsBackToConsole(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	var console bytes.Buffer
	logger := New(Config{Output: &console, LogDir: filepath.Join(file, "logs")})
	logger.Info("still logged")

	assert.Empty(t, logger.FilePath())
	assert.Contains(t, console.String(), "file output disabled")
	assert.Contains(t, console.String(), "still logged")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".netchaos/logs"), expandPath("~/.netchaos/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
}

func TestDefault(t *testing.T) {
	logger := Default()
	require.NotNil(t, logger.Slog())
	assert.NoError(t, logger.Close())
}

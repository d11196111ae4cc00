// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME at an empty directory so a developer's own
// ~/.netchaos/config.yaml never leaks into a test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoad_Defaults(t *testing.T) {
	home := isolate(t)

	s, err := Load(flags(t))
	require.NoError(t, err)

	assert.Equal(t, "default", s.Namespace)
	assert.Equal(t, "netchaos", s.Prefix)
	assert.NotEmpty(t, s.Image)
	assert.Equal(t, 5*time.Second, s.PollInterval)
	assert.Equal(t, 300*time.Second, s.SafetyMargin)
	assert.Equal(t, 2*time.Minute, s.CleanupTimeout)
	assert.Equal(t, 20*time.Second, s.TeardownGrace)
	assert.Equal(t, 4, s.Concurrency)
	assert.Equal(t, "ncifb", s.IFBPrefix)
	assert.False(t, s.NetemAutoLimit, "netem keeps its default queue unless asked")
	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, "none", s.Trace.Exporter)
	assert.True(t, s.Trace.OTLPInsecure)
	assert.Equal(t, filepath.Join(home, ".netchaos", "history"), s.HistoryDir)
	assert.Empty(t, s.MetricsAddr)
}

func TestLoad_NilFlagSet(t *testing.T) {
	isolate(t)
	s, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "default", s.Namespace)
}

func TestLoad_Precedence(t *testing.T) {
	home := isolate(t)
	writeConfig(t, filepath.Join(home, ".netchaos", "config.yaml"), `
namespace: from-file
prefix: filechaos
poll_interval: 7s
log:
  level: warn
`)
	t.Setenv("NETCHAOS_PREFIX", "envchaos")
	t.Setenv("NETCHAOS_LOG_LEVEL", "debug")

	s, err := Load(flags(t, "--poll-interval=9s"))
	require.NoError(t, err)

	assert.Equal(t, "from-file", s.Namespace, "file beats default")
	assert.Equal(t, "envchaos", s.Prefix, "env beats file")
	assert.Equal(t, "debug", s.Log.Level, "nested keys map to NETCHAOS_LOG_LEVEL")
	assert.Equal(t, 9*time.Second, s.PollInterval, "flag beats file")
}

func TestLoad_FlagBeatsEnv(t *testing.T) {
	isolate(t)
	t.Setenv("NETCHAOS_NAMESPACE", "from-env")

	s, err := Load(flags(t, "--namespace", "from-flag", "--concurrency", "8", "--log-json", "--netem-auto-limit"))
	require.NoError(t, err)
	assert.Equal(t, "from-flag", s.Namespace)
	assert.Equal(t, 8, s.Concurrency)
	assert.True(t, s.NetemAutoLimit)
	assert.True(t, s.Log.JSON)
}

func TestLoad_ExplicitConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "chaos.yaml")
	writeConfig(t, path, `
influx:
  url: http://influx:8086
  org: sre
  bucket: chaos
trace:
  exporter: stdout
`)

	s, err := Load(flags(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, "http://influx:8086", s.Influx.URL)
	assert.Equal(t, "chaos", s.Influx.Bucket)
	assert.Equal(t, "stdout", s.Trace.Exporter)
}

func TestLoad_ExplicitConfigMissing(t *testing.T) {
	isolate(t)
	_, err := Load(flags(t, "--config", filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Error(t, err)
}

func TestLoad_TokenOnlyFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("NETCHAOS_INFLUX_TOKEN", "s3cret")

	s, err := Load(flags(t))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", s.Influx.Token)
	assert.Nil(t, flags(t).Lookup("influx-token"), "tokens stay off the command line")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
		want string
	}{
		{name: "log level", args: []string{"--log-level", "loud"}, want: "Log.Level"},
		{name: "exporter", args: []string{"--trace-exporter", "zipkin"}, want: "Trace.Exporter"},
		{name: "influx without org", args: []string{"--influx-url", "http://i:8086"}, want: "Influx.Org"},
		{name: "pushgateway url", args: []string{"--pushgateway-url", "not a url"}, want: "PushgatewayURL"},
		{name: "output", args: []string{"--output", "fancy"}, want: "Output"},
		{name: "ifb prefix", args: []string{"--ifb-prefix", "a-prefix-too-long"}, want: "IFBPrefix"},
		{name: "concurrency", env: map[string]string{"NETCHAOS_CONCURRENCY": "0"}, want: "Concurrency"},
		{name: "poll interval", env: map[string]string{"NETCHAOS_POLL_INTERVAL": "0s"}, want: "PollInterval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(flags(t, tt.args...))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExpandHome(t *testing.T) {
	home := isolate(t)
	assert.Equal(t, filepath.Join(home, "x"), expandHome("~/x"))
	assert.Equal(t, "/abs", expandHome("/abs"))
	assert.Equal(t, "", expandHome(""))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package settings loads the orchestrator's own configuration, as opposed to
// the per-experiment scenario files.
//
// Sources, highest precedence first:
//
//  1. command-line flags that were set explicitly
//  2. NETCHAOS_* environment variables (NETCHAOS_LOG_LEVEL for log.level)
//  3. the config file, ~/.netchaos/config.yaml unless --config names another
//  4. built-in defaults
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/backend/kube"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/orchestrator"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/resolver"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/tc"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/telemetry"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "NETCHAOS"

// DefaultDir holds the default config file, history and logs.
const DefaultDir = "~/.netchaos"

// Settings is the resolved orchestrator configuration.
type Settings struct {
	Namespace  string `mapstructure:"namespace" validate:"required"`
	Kubeconfig string `mapstructure:"kubeconfig"`
	Image      string `mapstructure:"image" validate:"required"`
	Prefix     string `mapstructure:"prefix" validate:"required,max=40"`

	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	SafetyMargin   time.Duration `mapstructure:"safety_margin" validate:"gte=0"`
	CleanupTimeout time.Duration `mapstructure:"cleanup_timeout" validate:"gt=0"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout" validate:"gt=0"`
	TeardownGrace  time.Duration `mapstructure:"teardown_grace" validate:"gte=0"`
	Concurrency    int           `mapstructure:"concurrency" validate:"gte=1,lte=64"`

	// IFBPrefix plus a device index must fit a 15 character interface name.
	IFBPrefix      string `mapstructure:"ifb_prefix" validate:"required,max=12"`
	NetemAutoLimit bool   `mapstructure:"netem_auto_limit"`

	LockDir        string `mapstructure:"lock_dir"`
	HistoryDir     string `mapstructure:"history_dir"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	PushgatewayURL string `mapstructure:"pushgateway_url" validate:"omitempty,url"`
	Output         string `mapstructure:"output" validate:"omitempty,oneof=full minimal machine"`

	Log    LogSettings    `mapstructure:"log"`
	Influx InfluxSettings `mapstructure:"influx"`
	Trace  TraceSettings  `mapstructure:"trace"`
}

// LogSettings configures pkg/logging.
type LogSettings struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
	Dir   string `mapstructure:"dir"`
}

// InfluxSettings enables the InfluxDB status sink when URL is set.
type InfluxSettings struct {
	URL    string `mapstructure:"url" validate:"omitempty,url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org" validate:"required_with=URL"`
	Bucket string `mapstructure:"bucket" validate:"required_with=URL"`
}

// TraceSettings configures the OpenTelemetry exporter.
type TraceSettings struct {
	Exporter     string `mapstructure:"exporter" validate:"oneof=none otlp stdout"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
}

// flag name -> settings key
var flagKeys = map[string]string{
	"namespace":        "namespace",
	"kubeconfig":       "kubeconfig",
	"image":            "image",
	"prefix":           "prefix",
	"poll-interval":    "poll_interval",
	"safety-margin":    "safety_margin",
	"cleanup-timeout":  "cleanup_timeout",
	"probe-timeout":    "probe_timeout",
	"teardown-grace":   "teardown_grace",
	"concurrency":      "concurrency",
	"ifb-prefix":       "ifb_prefix",
	"netem-auto-limit": "netem_auto_limit",
	"lock-dir":         "lock_dir",
	"history-dir":      "history_dir",
	"metrics-addr":     "metrics_addr",
	"pushgateway-url":  "pushgateway_url",
	"output":           "output",
	"log-level":        "log.level",
	"log-json":         "log.json",
	"log-dir":          "log.dir",
	"influx-url":       "influx.url",
	"influx-org":       "influx.org",
	"influx-bucket":    "influx.bucket",
	"trace-exporter":   "trace.exporter",
	"otlp-endpoint":    "trace.otlp_endpoint",
}

func defaults() map[string]any {
	return map[string]any{
		"namespace":           kube.DefaultNamespace,
		"kubeconfig":          "",
		"image":               kube.DefaultImage,
		"prefix":              orchestrator.DefaultPrefix,
		"poll_interval":       orchestrator.DefaultPollInterval,
		"safety_margin":       orchestrator.DefaultSafetyMargin,
		"cleanup_timeout":     orchestrator.DefaultCleanupTimeout,
		"probe_timeout":       resolver.DefaultProbeTimeout,
		"teardown_grace":      tc.DefaultGrace,
		"concurrency":         resolver.DefaultConcurrency,
		"ifb_prefix":          tc.DefaultIFBPrefix,
		"netem_auto_limit":    false,
		"lock_dir":            os.TempDir(),
		"history_dir":         filepath.Join(DefaultDir, "history"),
		"metrics_addr":        "",
		"pushgateway_url":     "",
		"output":              "",
		"log.level":           "info",
		"log.json":            false,
		"log.dir":             "",
		"influx.url":          "",
		"influx.token":        "",
		"influx.org":          "",
		"influx.bucket":       "",
		"trace.exporter":      telemetry.ExporterNone,
		"trace.otlp_endpoint": "localhost:4317",
		"trace.otlp_insecure": true,
	}
}

// RegisterFlags adds every settings flag to fs. Flag defaults are zero
// values so that an unset flag never masks the environment or config file.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default ~/.netchaos/config.yaml)")
	fs.String("namespace", "", "namespace for jobs and probe pods (default \"default\")")
	fs.String("kubeconfig", "", "kubeconfig path (default: standard loading rules)")
	fs.String("image", "", "container image with tc, ip and sh")
	fs.String("prefix", "", "name prefix for jobs and probe pods (default \"netchaos\")")
	fs.Duration("poll-interval", 0, "job status poll interval (default 5s)")
	fs.Duration("safety-margin", 0, "extra wait beyond the experiment duration (default 5m)")
	fs.Duration("cleanup-timeout", 0, "bound on each unit's cleanup (default 2m)")
	fs.Duration("probe-timeout", 0, "bound on each interface probe (default 2m)")
	fs.Duration("teardown-grace", 0, "pause between revert and final qdisc listing (default 20s)")
	fs.Int("concurrency", 0, "nodes probed at once (default 4)")
	fs.String("ifb-prefix", "", "name prefix for ingress redirect devices (default \"ncifb\")")
	fs.Bool("netem-auto-limit", false, "size the netem queue from the bandwidth-delay product instead of the 1000 packet default")
	fs.String("lock-dir", "", "directory for the experiment lock file")
	fs.String("history-dir", "", "run history database directory (default ~/.netchaos/history)")
	fs.String("metrics-addr", "", "serve /metrics and the status API on this address")
	fs.String("pushgateway-url", "", "push run results to this Prometheus Pushgateway")
	fs.String("output", "", "terminal output: full, minimal or machine")
	fs.String("log-level", "", "debug, info, warn or error (default info)")
	fs.Bool("log-json", false, "log JSON to stderr")
	fs.String("log-dir", "", "also write JSON logs to this directory")
	fs.String("influx-url", "", "annotate runs in this InfluxDB")
	fs.String("influx-org", "", "InfluxDB organisation")
	fs.String("influx-bucket", "", "InfluxDB bucket")
	fs.String("trace-exporter", "", "none, otlp or stdout (default none)")
	fs.String("otlp-endpoint", "", "OTLP collector host:port (default localhost:4317)")
}

// Load resolves the settings. fs may be nil; when it is not, a set "config"
// flag names a config file that must exist.
func Load(fs *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var explicit string
	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("settings: bind flag %s: %w", name, err)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil {
			explicit = f.Value.String()
		}
	}
	if err := readConfigFile(v, explicit); err != nil {
		return nil, err
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("settings: decode: %w", err)
	}
	s.HistoryDir = expandHome(s.HistoryDir)
	s.LockDir = expandHome(s.LockDir)
	s.Log.Dir = expandHome(s.Log.Dir)
	s.Kubeconfig = expandHome(s.Kubeconfig)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func readConfigFile(v *viper.Viper, explicit string) error {
	path := explicit
	if path == "" {
		path = expandHome(filepath.Join(DefaultDir, "config.yaml"))
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil
		}
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("settings: read %s: %w", path, err)
	}
	return nil
}

// Validate checks field ranges and cross-field requirements.
func (s *Settings) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("settings: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

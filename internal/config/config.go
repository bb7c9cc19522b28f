// Package config assembles the agent configuration from defaults, a .env
// file, an optional JSON or YAML config file and ULTAAI_* environment
// variables. Command-line flags are layered on top by package cli.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSpoolDir   = "/var/lib/ultaai-agent/spool"
	DefaultModulesDir = "/usr/share/ultaai-agent/modules"
	DefaultEnvFile    = ".env"

	// EnvConfigFile names the config file when no flag does.
	EnvConfigFile = "ULTAAI_CONFIG_FILE"
	envPrefix     = "ULTAAI_"
)

// Config holds runtime configuration for the agent.
type Config struct {
	Server            string
	CA                string
	Cert              string
	Key               string
	ServerFingerprint string

	LogFile   string
	LogLevel  string
	LogFormat string

	SpoolDir        string
	ModulesDir      string
	ModulesManifest string

	SignatureSecret string
	AgentID         string

	ActionTimeout     time.Duration
	HeartbeatInterval time.Duration

	// StatusAddr is the listen address of the status API; empty disables it.
	StatusAddr string
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		SpoolDir:          DefaultSpoolDir,
		ModulesDir:        DefaultModulesDir,
		ActionTimeout:     10 * time.Minute,
		HeartbeatInterval: 5 * time.Second,
	}
}

// Field describes one configuration key.
type Field struct {
	Key   string
	Usage string
	set   func(*Config, string) error
	get   func(*Config) string
}

// Env is the environment variable overriding the field.
func (f Field) Env() string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(f.Key, "-", "_"))
}

// Get formats the field's current value in c.
func (f Field) Get(c *Config) string { return f.get(c) }

func stringField(key, usage string, p func(*Config) *string) Field {
	return Field{
		Key:   key,
		Usage: usage,
		set:   func(c *Config, v string) error { *p(c) = v; return nil },
		get:   func(c *Config) string { return *p(c) },
	}
}

func durationField(key, usage string, p func(*Config) *time.Duration) Field {
	return Field{
		Key:   key,
		Usage: usage,
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			if d < 0 {
				return errors.New("must not be negative")
			}
			*p(c) = d
			return nil
		},
		get: func(c *Config) string { return p(c).String() },
	}
}

var fields = []Field{
	stringField("server", "Control server URL (wss://...)", func(c *Config) *string { return &c.Server }),
	stringField("ca", "CA certificate", func(c *Config) *string { return &c.CA }),
	stringField("cert", "Agent certificate", func(c *Config) *string { return &c.Cert }),
	stringField("key", "Agent private key", func(c *Config) *string { return &c.Key }),
	stringField("server-fingerprint", "Expected SHA-256 fingerprint of the server certificate", func(c *Config) *string { return &c.ServerFingerprint }),
	stringField("logfile", "Log file (defaults to stderr)", func(c *Config) *string { return &c.LogFile }),
	stringField("log-level", "Logging level: debug, info, warn or error", func(c *Config) *string { return &c.LogLevel }),
	stringField("log-format", "Log output format: text or json", func(c *Config) *string { return &c.LogFormat }),
	stringField("spool-dir", "Directory to spool delayed results to", func(c *Config) *string { return &c.SpoolDir }),
	stringField("modules-dir", "Directory containing external modules", func(c *Config) *string { return &c.ModulesDir }),
	stringField("modules-manifest", "SHA-256 manifest restricting which modules may load", func(c *Config) *string { return &c.ModulesManifest }),
	stringField("signature-secret", "Shared secret for request signatures and heartbeats", func(c *Config) *string { return &c.SignatureSecret }),
	stringField("agent-id", "Agent identifier (defaults to the provisioned id file)", func(c *Config) *string { return &c.AgentID }),
	durationField("action-timeout", "Maximum run time of one action; 0 disables", func(c *Config) *time.Duration { return &c.ActionTimeout }),
	durationField("heartbeat-interval", "Interval between heartbeats", func(c *Config) *time.Duration { return &c.HeartbeatInterval }),
	stringField("status-addr", "Listen address of the local status API; empty disables", func(c *Config) *string { return &c.StatusAddr }),
}

// Fields lists every configuration key in declaration order.
func Fields() []Field {
	return fields
}

func lookup(key string) (Field, bool) {
	for _, f := range fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Set assigns one key from its string form.
func (c *Config) Set(key, value string) error {
	f, ok := lookup(key)
	if !ok {
		return fmt.Errorf("unknown configuration key %q", key)
	}
	if err := f.set(c, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// Sources names the files Load reads. Empty paths are skipped.
type Sources struct {
	EnvFile    string
	ConfigFile string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Load applies, in order: defaults, the .env file, the config file and the
// environment. A missing .env file is not an error; a missing config file is.
func Load(src Sources) (*Config, error) {
	getenv := src.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	c := Defaults()

	var dotenv map[string]string
	if src.EnvFile != "" {
		m, err := godotenv.Read(src.EnvFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read %s: %w", src.EnvFile, err)
		default:
			dotenv = m
		}
	}
	env := func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}

	if err := c.applyEnv(func(key string) string { return dotenv[key] }); err != nil {
		return nil, fmt.Errorf("%s: %w", src.EnvFile, err)
	}

	configFile := src.ConfigFile
	if configFile == "" {
		configFile = env(EnvConfigFile)
	}
	if configFile != "" {
		if err := c.applyFile(configFile); err != nil {
			return nil, err
		}
	}

	if err := c.applyEnv(getenv); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	for _, f := range fields {
		if v := getenv(f.Env()); v != "" {
			if err := c.Set(f.Key, v); err != nil {
				return fmt.Errorf("%s: %w", f.Env(), err)
			}
		}
	}
	return nil
}

// applyFile reads a JSON or YAML document of key/value pairs. JSON is
// accepted as the YAML subset it is.
func (c *Config) applyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}

	var doc map[string]any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	for key, raw := range doc {
		f, ok := lookup(key)
		if !ok {
			return fmt.Errorf("config file %s: unknown key %q", path, key)
		}
		v, err := scalar(raw)
		if err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, key, err)
		}
		if err := f.set(c, v); err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, key, err)
		}
	}
	return nil
}

func scalar(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("expected a string, got %T", v)
	}
}

// Validate checks required values, expands ~ in paths and creates the
// spool directory when it does not exist yet.
func (c *Config) Validate() error {
	switch {
	case c.Server == "":
		return errors.New("server value must be defined")
	case !strings.HasPrefix(c.Server, "wss://"):
		return errors.New("server value must start with wss://")
	}

	for _, p := range []struct {
		name string
		path *string
	}{{"ca", &c.CA}, {"cert", &c.Cert}, {"key", &c.Key}} {
		if *p.path == "" {
			return fmt.Errorf("%s value must be defined", p.name)
		}
		expanded, err := expandTilde(*p.path)
		if err != nil {
			return err
		}
		if !readable(expanded) {
			return fmt.Errorf("%s file not found: %s", p.name, expanded)
		}
		*p.path = expanded
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return errors.New("invalid log-format: must be 'text' or 'json'")
	}

	if c.SpoolDir == "" {
		return errors.New("spool-dir must be defined")
	}
	spool, err := expandTilde(c.SpoolDir)
	if err != nil {
		return err
	}
	info, err := os.Stat(spool)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(spool, 0o750); err != nil {
			return fmt.Errorf("failed to create the spool directory '%s': %w", spool, err)
		}
	case err != nil:
		return err
	case !info.IsDir():
		return fmt.Errorf("not a spool directory: %s", spool)
	}
	c.SpoolDir = spool

	for _, p := range []*string{&c.ModulesDir, &c.ModulesManifest, &c.LogFile} {
		if *p == "" {
			continue
		}
		if *p, err = expandTilde(*p); err != nil {
			return err
		}
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat-interval must be positive")
	}
	return nil
}

func expandTilde(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", p, err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

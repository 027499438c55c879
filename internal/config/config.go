// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

// Package config loads the process-level bootstrap configuration: database
// path, HTTP timeouts, the native-messaging adaptor's listen address, log
// format, and proxy settings. This is distinct from the Persistence
// Store's Settings table (internal/store), which holds runtime,
// user-editable engine settings read at startup and on explicit update;
// the two layers are not interchangeable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	FileName   = "config.yml"
	AppDirName = "mydm"
)

// Config is the process bootstrap configuration, loaded once at startup.
type Config struct {
	// DatabasePath is the bbolt file backing the Persistence Store.
	DatabasePath string `yaml:"database_path,omitempty"`

	// ListenAddr is a listen address, e.g. "unix:///tmp/mydm.sock" or
	// "127.0.0.1:7777". It is loaded and saved with the file; the "serve"
	// command does not read it and speaks over stdin/stdout.
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// LogFormat is "json" or "text"; anything else falls back to "json".
	LogFormat string `yaml:"log_format,omitempty"`

	// ConnectTimeoutSeconds / IdleTimeoutSeconds mirror engine.Config's
	// advisory HTTP tunables, expressed as plain seconds in YAML.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds,omitempty"`
	IdleTimeoutSeconds    int `yaml:"idle_timeout_seconds,omitempty"`

	// Proxy overrides HTTPS_PROXY/HTTP_PROXY/ALL_PROXY when set; empty
	// means defer to the environment (http.ProxyFromEnvironment).
	Proxy ProxyConfig `yaml:"proxy,omitempty"`
}

// ProxyConfig mirrors the standard proxy environment variables so an
// operator can pin them in the config file instead of the process
// environment.
type ProxyConfig struct {
	HTTPS string `yaml:"https,omitempty"`
	HTTP  string `yaml:"http,omitempty"`
	All   string `yaml:"all,omitempty"`
}

// Apply sets the proxy environment variables this process's HTTP
// transports read via http.ProxyFromEnvironment, for any field that is
// non-empty. It does not clear variables already set by the environment.
func (p ProxyConfig) Apply() {
	setIfNonEmpty("HTTPS_PROXY", p.HTTPS)
	setIfNonEmpty("HTTP_PROXY", p.HTTP)
	setIfNonEmpty("ALL_PROXY", p.All)
}

func setIfNonEmpty(key, value string) {
	if value != "" {
		os.Setenv(key, value)
	}
}

// ConnectTimeout returns the configured connect timeout, or 30s if unset.
func (c Config) ConnectTimeout() time.Duration {
	if c.ConnectTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// IdleTimeout returns the configured idle timeout, or 2m if unset.
func (c Config) IdleTimeout() time.Duration {
	if c.IdleTimeoutSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// Dir returns ~/.config/mydm (or %APPDATA%\mydm on Windows).
func Dir() (string, error) {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, AppDirName), nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", AppDirName), nil
}

// Path returns ~/.config/mydm/config.yml.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// DefaultDatabasePath returns ~/.config/mydm/mydm.db, falling back to a
// relative path if the home directory cannot be resolved.
func DefaultDatabasePath() string {
	dir, err := Dir()
	if err != nil {
		return "mydm.db"
	}
	return filepath.Join(dir, "mydm.db")
}

// DefaultConfig returns the bootstrap defaults.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:          DefaultDatabasePath(),
		ListenAddr:            "",
		LogFormat:             "json",
		ConnectTimeoutSeconds: 30,
		IdleTimeoutSeconds:    120,
	}
}

// Load reads and parses the config file at Path(). It is an error for the
// file not to exist; callers wanting graceful fallback should use
// LoadOrDefault.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads the config file if present, otherwise returns
// DefaultConfig(). Apart from DatabasePath, fields left zero in a partial
// file are not backfilled from the defaults; use the Config.*Timeout
// accessors, which already fall back per-field.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return DefaultConfig()
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultDatabasePath()
	}
	return cfg
}

// Save writes cfg to Path(), creating the config directory if needed.
func Save(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: serialize: %w", err)
	}
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	header := "# mydm bootstrap configuration\n"
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}

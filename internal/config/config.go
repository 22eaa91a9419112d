// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/hala3amme/ezyskills/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete ezy client configuration.
type Config struct {
	API      APIConfig      `toml:"api" json:"api"`
	Realtime RealtimeConfig `toml:"realtime" json:"realtime"`
	Storage  StorageConfig  `toml:"storage" json:"storage"`
	Log      LogConfig      `toml:"log" json:"log"`
	Metrics  MetricsConfig  `toml:"metrics" json:"metrics"`
}

// APIConfig points at the REST backend.
type APIConfig struct {
	// BaseURL is the API origin without the /api prefix.
	BaseURL     string `toml:"base_url" json:"base_url"`
	TimeoutSecs int    `toml:"timeout_secs" json:"timeout_secs"`
}

// RealtimeConfig configures the Pusher-compatible (Reverb) socket. An empty
// AppKey disables realtime.
type RealtimeConfig struct {
	AppKey string `toml:"app_key" json:"app_key"`
	// Host defaults to the API host.
	Host string `toml:"host" json:"host"`
	Port int    `toml:"port" json:"port"`
	// Scheme is "http" or "https"; defaults to the API scheme.
	Scheme string `toml:"scheme" json:"scheme"`
	Debug  bool   `toml:"debug" json:"debug"`
}

// StorageConfig selects where the credential lives.
type StorageConfig struct {
	// Backend is "file" or "sqlite".
	Backend  string `toml:"backend" json:"backend"`
	Dir      string `toml:"dir" json:"dir"`
	TokenKey string `toml:"token_key" json:"token_key"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level string `toml:"level" json:"level"`
}

// MetricsConfig controls the Prometheus registry.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
}

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Defaults.
const (
	DefaultBaseURL      = "http://127.0.0.1:8000"
	DefaultTimeoutSecs  = 30
	DefaultRealtimePort = 8080
	DefaultTokenKey     = "ezy:token"
	DefaultLogLevel     = "info"
)

// Default returns a Config with every default applied.
func Default() *Config {
	dir, err := ConfigDir()
	if err != nil {
		dir = ".ezy"
	}
	return &Config{
		API: APIConfig{
			BaseURL:     DefaultBaseURL,
			TimeoutSecs: DefaultTimeoutSecs,
		},
		Realtime: RealtimeConfig{
			Port: DefaultRealtimePort,
		},
		Storage: StorageConfig{
			Backend:  BackendFile,
			Dir:      dir,
			TokenKey: DefaultTokenKey,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// StateDirEnv relocates the configuration and state directory.
const StateDirEnv = "EZY_STATE_DIR"

// ConfigDir returns the ezy configuration directory: $EZY_STATE_DIR when
// set, otherwise ~/.ezy.
func ConfigDir() (string, error) {
	if dir := os.Getenv(StateDirEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ezy"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir creates the config directory owner-only.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions tightens a config file to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads config.toml, falling back to config.json, then to defaults.
// Environment overrides are applied last. A broken file is reported
// alongside a usable default config.
func Load() (*Config, error) {
	var loadErr error

	for _, candidate := range []struct {
		path func() (string, error)
		load func(*Config, string) error
		kind string
	}{
		{ConfigPathTOML, LoadTOML, "TOML"},
		{ConfigPathJSON, LoadJSON, "JSON"},
	} {
		path, err := candidate.path()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg := Default()
		if err := candidate.load(cfg, path); err != nil {
			loadErr = fmt.Errorf("failed to load %s config: %w", candidate.kind, err)
			continue
		}
		return finish(cfg)
	}

	cfg, err := finish(Default())
	if err != nil {
		return nil, err
	}
	return cfg, loadErr
}

// LoadFromPath loads configuration from a specific file. Files ending in
// .json are read as JSON, anything else as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes cfg as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf strings.Builder
	buf.WriteString("# ezy configuration file\n")
	buf.WriteString("# Generated by ezy - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg as indented JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every invalid setting.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Host == "" {
		errs = append(errs, ValidationError{"api.base_url", fmt.Sprintf("invalid URL %q", c.API.BaseURL)})
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, ValidationError{"api.base_url", "scheme must be http or https"})
	}
	if c.API.TimeoutSecs < 1 || c.API.TimeoutSecs > 600 {
		errs = append(errs, ValidationError{"api.timeout_secs", "must be between 1 and 600"})
	}

	if c.Realtime.Port < 1 || c.Realtime.Port > 65535 {
		errs = append(errs, ValidationError{"realtime.port", "must be between 1 and 65535"})
	}
	if s := c.Realtime.Scheme; s != "" && s != "http" && s != "https" {
		errs = append(errs, ValidationError{"realtime.scheme", "must be http or https"})
	}

	if c.Storage.Backend != BackendFile && c.Storage.Backend != BackendSQLite {
		errs = append(errs, ValidationError{"storage.backend", "must be file or sqlite"})
	}
	if c.Storage.TokenKey == "" {
		errs = append(errs, ValidationError{"storage.token_key", "must not be empty"})
	}

	if !validLogLevels[c.Log.Level] {
		errs = append(errs, ValidationError{"log.level", "must be debug, info, warn or error"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero values and normalizes URLs and enums.
func (c *Config) SetDefaults() {
	d := Default()

	c.API.BaseURL = util.TrimTrailingSlashes(strings.TrimSpace(c.API.BaseURL))
	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	if c.API.TimeoutSecs == 0 {
		c.API.TimeoutSecs = d.API.TimeoutSecs
	}
	if c.Realtime.Port == 0 {
		c.Realtime.Port = d.Realtime.Port
	}
	c.Realtime.Scheme = strings.ToLower(c.Realtime.Scheme)
	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = d.Storage.Dir
	}
	if c.Storage.TokenKey == "" {
		c.Storage.TokenKey = d.Storage.TokenKey
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// RealtimeEndpoint is the resolved socket location.
type RealtimeEndpoint struct {
	AppKey   string
	Host     string
	Port     int
	ForceTLS bool
}

// Enabled reports whether an app key is configured.
func (e RealtimeEndpoint) Enabled() bool {
	return e.AppKey != ""
}

// Endpoint resolves host and scheme, defaulting both from the API URL.
func (c *RealtimeConfig) Endpoint(apiBaseURL string) RealtimeEndpoint {
	host, scheme := c.Host, c.Scheme
	if u, err := url.Parse(apiBaseURL); err == nil {
		if host == "" {
			host = u.Hostname()
		}
		if scheme == "" {
			scheme = u.Scheme
		}
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return RealtimeEndpoint{
		AppKey:   c.AppKey,
		Host:     host,
		Port:     c.Port,
		ForceTLS: scheme == "https",
	}
}

// TokenPath is the file behind the file storage backend.
func (s *StorageConfig) TokenPath() string {
	return filepath.Join(s.Dir, "token")
}

// DatabasePath is the file behind the sqlite storage backend.
func (s *StorageConfig) DatabasePath() string {
	return filepath.Join(s.Dir, "ezy.db")
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported environment variables:
//   - EZY_API_BASE_URL: api.base_url
//   - EZY_API_TIMEOUT_SECS: api.timeout_secs
//   - EZY_REVERB_APP_KEY: realtime.app_key
//   - EZY_REVERB_HOST: realtime.host
//   - EZY_REVERB_PORT: realtime.port
//   - EZY_REVERB_SCHEME: realtime.scheme
//   - EZY_REALTIME_DEBUG: realtime.debug ("1" or "true")
//   - EZY_STORAGE_BACKEND: storage.backend
//   - EZY_STATE_DIR: storage.dir
//   - EZY_LOG_LEVEL: log.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("EZY_API_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("EZY_API_TIMEOUT_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.API.TimeoutSecs = n
		}
	}
	if v := os.Getenv("EZY_REVERB_APP_KEY"); v != "" {
		c.Realtime.AppKey = v
	}
	if v := os.Getenv("EZY_REVERB_HOST"); v != "" {
		c.Realtime.Host = v
	}
	if v := os.Getenv("EZY_REVERB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Realtime.Port = n
		}
	}
	if v := os.Getenv("EZY_REVERB_SCHEME"); v != "" {
		c.Realtime.Scheme = v
	}
	if v := os.Getenv("EZY_REALTIME_DEBUG"); v != "" {
		c.Realtime.Debug = parseBool(v)
	}
	if v := os.Getenv("EZY_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv(StateDirEnv); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("EZY_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "1" || s == "true" || s == "yes"
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by dotted key, e.g. "api.base_url".
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a value by dotted key. String values are converted to the
// field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("field '%s' is a section, not a value", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts snake_case or kebab-case to a Go field name.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var result strings.Builder
	for _, part := range parts {
		result.WriteString(strings.ToUpper(part[:1]))
		result.WriteString(strings.ToLower(part[1:]))
	}
	return result.String()
}

func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Bool:
			field.SetBool(parseBool(strVal))
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// GetAllKeys returns every settable key in dot notation, sorted.
func GetAllKeys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		prefix := tomlName(section)
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, prefix+"."+tomlName(section.Type.Field(j)))
		}
	}
	sort.Strings(keys)
	return keys
}

func tomlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
	if name == "" {
		return strings.ToLower(f.Name)
	}
	return name
}

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config as JSON with the app key redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Realtime.AppKey != "" {
		safe.Realtime.AppKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

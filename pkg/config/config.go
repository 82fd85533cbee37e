// Package config loads the registry daemon's configuration from YAML, with
// environment variable overrides layered on top.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig selects and configures the PersistencePort backend.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite", "postgres", "pgx", "file".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Dir    string `yaml:"dir"`

	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnMaxLife  time.Duration `yaml:"conn_max_life"`
}

// RecorderConfig configures the transition recorder fan-out.
type RecorderConfig struct {
	RingBufferSize int      `yaml:"ring_buffer_size"`
	RedactFields   []string `yaml:"redact_fields"`
}

// DebugConfig configures the live-debug and snapshot-debug surfaces.
type DebugConfig struct {
	SnapshotEnabled bool   `yaml:"snapshot_enabled"`
	LiveEnabled     bool   `yaml:"live_enabled"`
	ListenAddr      string `yaml:"listen_addr"`
	SharedSecret    string `yaml:"shared_secret"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// TelemetryConfig configures OpenTelemetry tracing export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// RegistryDaemonConfig is the top-level shape loaded from the daemon's YAML
// configuration file. It deliberately does not describe state graphs: graph
// construction is an embedding application's concern, not the daemon's.
type RegistryDaemonConfig struct {
	InboxCapacity int `yaml:"inbox_capacity"`

	Store     StoreConfig     `yaml:"store"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Debug     DebugConfig     `yaml:"debug"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	LogJSON  bool   `yaml:"log_json"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is supplied.
func Default() RegistryDaemonConfig {
	return RegistryDaemonConfig{
		InboxCapacity: 256,
		Store:         StoreConfig{Driver: "memory"},
		Recorder:      RecorderConfig{RingBufferSize: 1024},
		Metrics:       MetricsConfig{ListenAddr: ":9090"},
		Debug:         DebugConfig{ListenAddr: ":9091"},
		LogLevel:      "INFO",
	}
}

// Load reads path as YAML into the default configuration and applies
// PREFIX-style environment overrides on top.
func Load(path, envPrefix string) (RegistryDaemonConfig, error) {
	cfg := Default()
	if path != "" {
		// #nosec G304 -- path is an operator-supplied startup argument, not untrusted input.
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(envPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("config: env overrides: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(prefix string, target interface{}) error {
	if prefix == "" {
		prefix = "FSMREG"
	}
	val := reflect.ValueOf(target)
	if val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a pointer to a struct")
	}
	return applyEnvToStruct(prefix, val.Elem())
}

func applyEnvToStruct(prefix string, val reflect.Value) error {
	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		if !field.CanSet() {
			continue
		}

		envKey := strings.ToUpper(prefix + "_" + fieldType.Name)
		envKey = strings.ReplaceAll(envKey, "-", "_")

		if field.Kind() == reflect.Struct {
			if err := applyEnvToStruct(envKey, field); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}
		if err := setFieldFromEnv(field, envValue); err != nil {
			return fmt.Errorf("field %s from env %s: %w", fieldType.Name, envKey, err)
		}
	}
	return nil
}

func setFieldFromEnv(field reflect.Value, envValue string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Bool:
		field.SetBool(strings.EqualFold(envValue, "true") || envValue == "1")
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(envValue)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", envValue, err)
			}
			field.SetInt(int64(d))
			return nil
		}
		var v int64
		if _, err := fmt.Sscanf(envValue, "%d", &v); err != nil {
			return fmt.Errorf("invalid integer %q", envValue)
		}
		field.SetInt(v)
	case reflect.Slice:
		parts := strings.Split(envValue, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

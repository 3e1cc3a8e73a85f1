// Package config loads the relay configuration from an optional YAML file,
// a .env file and environment variables.
//
// YAML files support ${VAR} environment variable interpolation.
package config

import "time"

// Config is the root configuration for the relay server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// ServerConfig holds HTTP and WebSocket settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	WSPath          string        `yaml:"ws_path"`
	StaticDir       string        `yaml:"static_dir"` // empty disables static files
	ReadLimit       int64         `yaml:"read_limit"` // max inbound frame size in bytes
	SendBuffer      int           `yaml:"send_buffer"`
	EventBuffer     int           `yaml:"event_buffer"`
	WriteWait       time.Duration `yaml:"write_wait"`
	PongWait        time.Duration `yaml:"pong_wait"` // negative disables keepalive pings
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig lists the message types relayed to monitors.
type TelemetryConfig struct {
	Types []string `yaml:"types"`
}

// LogConfig controls the process diagnostic log.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // text or json
	File       string `yaml:"file"`   // optional rotated log file
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ArchiveConfig controls the optional Postgres telemetry archive.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	DSN           string        `yaml:"dsn"` // overrides Database when set
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

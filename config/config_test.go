package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-relay/protocol"
	"telemetry-relay/websocket"
)

func envFrom(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", envFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, "/ws", cfg.Server.WSPath)
	assert.Equal(t, int64(websocket.DefaultReadLimit), cfg.Server.ReadLimit)
	assert.Greater(t, cfg.Server.ReadLimit, int64(64*1024))
	assert.Equal(t, DefaultPongWait, cfg.Server.PongWait)
	assert.Equal(t, []string{"motor", "steering", "arm"}, cfg.Telemetry.Types)
	assert.Equal(t, protocol.DefaultTelemetryTypes, cfg.Telemetry.Types)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, DefaultDBPort, cfg.Archive.Database.Port)
}

func TestLoad_FileWithEnvExpansion(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  ws_path: /socket
  pong_wait: 30s
telemetry:
  types: [motor, lidar]
log:
  level: debug
  format: json
archive:
  enabled: true
  database:
    host: db.internal
    name: telemetry
    user: relay
    password: ${DB_PASSWORD}
`)

	cfg, err := load(path, envFrom(map[string]string{"DB_PASSWORD": "s3cret"}))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/socket", cfg.Server.WSPath)
	assert.Equal(t, 30*time.Second, cfg.Server.PongWait)
	assert.Equal(t, []string{"motor", "lidar"}, cfg.Telemetry.Types)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "s3cret", cfg.Archive.Database.Password)
	assert.Equal(t, "prefer", cfg.Archive.Database.SSLMode)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")

	cfg, err := load(path, envFrom(map[string]string{
		"PORT":            "7070",
		"LOG_LEVEL":       "warn",
		"TELEMETRY_TYPES": " motor, , gripper ",
		"ARCHIVE_DSN":     "postgres://relay@localhost/telemetry",
		"STATIC_DIR":      "public",
	}))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"motor", "gripper"}, cfg.Telemetry.Types)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "postgres://relay@localhost/telemetry", cfg.Archive.DSN)
	assert.Equal(t, "public", cfg.Server.StaticDir)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "bad port env",
			env:     map[string]string{"PORT": "eighty"},
			wantErr: "invalid PORT",
		},
		{
			name:    "port out of range",
			content: "server:\n  port: 70000\n",
			wantErr: "server.port must be between 1 and 65535",
		},
		{
			name:    "relative ws path",
			content: "server:\n  ws_path: ws\n",
			wantErr: "server.ws_path must start with /",
		},
		{
			name:    "log type reserved",
			content: "telemetry:\n  types: [motor, log]\n",
			wantErr: `telemetry.types must not contain "log"`,
		},
		{
			name:    "unknown log level",
			content: "log:\n  level: verbose\n",
			wantErr: "log.level must be one of",
		},
		{
			name:    "archive without host",
			content: "archive:\n  enabled: true\n  database:\n    name: t\n    user: u\n",
			wantErr: "archive.database.host is required",
		},
		{
			name:    "archive pool bounds",
			content: "archive:\n  enabled: true\n  database:\n    host: h\n    name: t\n    user: u\n    max_conns: 2\n    min_conns: 3\n",
			wantErr: "archive.database.min_conns (3) cannot exceed max_conns (2)",
		},
		{
			name:    "malformed yaml",
			content: "server: [",
			wantErr: "parse config yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.content != "" {
				path = writeConfig(t, tt.content)
			}

			_, err := load(path, envFrom(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_DefaultTypesAreCopied(t *testing.T) {
	cfg, err := load("", envFrom(nil))
	require.NoError(t, err)

	cfg.Telemetry.Types[0] = "lidar"
	assert.Equal(t, "motor", protocol.DefaultTelemetryTypes[0])
}

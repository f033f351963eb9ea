package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlConfig = `
server:
  host: 127.0.0.1
  port: 8080
logging:
  format: json
  level: debug
channels:
  alerts:
    worker: telegram
    params:
      bot_id: "123:abc"
      chat_id: -100500
      no_notify: true
    rate_limit:
      per_second: 1
      burst: 3
  staging:
    worker: stub
    params: {min_delay: 0, max_delay: 2}
`

const jsonConfig = `{
  "server": {"host": "127.0.0.1", "port": 8080},
  "logging": {"format": "json", "level": "debug"},
  "channels": {
    "alerts": {
      "worker": "telegram",
      "params": {"bot_id": "123:abc", "chat_id": -100500, "no_notify": true},
      "rate_limit": {"per_second": 1, "burst": 3}
    },
    "staging": {"worker": "stub", "params": {"min_delay": 0, "max_delay": 2}}
  }
}`

func writeConfig(t *testing.T, name string, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	return path
}

func unsetConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"MPROXY_CONFIG", "MPROXY_ENV_FILE", "MPROXY_HOST", "MPROXY_PORT", "MPROXY_SHUTDOWN_TIMEOUT", "MPROXY_LOG_FORMAT", "MPROXY_LOG_LEVEL", "MPROXY_LOG_ADD_SOURCE"} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func TestLoadConfigYAMLAndJSONAgree(t *testing.T) {
	unsetConfigEnv(t)

	fromYAML, err := LoadConfig(writeConfig(t, "config.yaml", yamlConfig))
	require.NoError(t, err)
	fromJSON, err := LoadConfig(writeConfig(t, "config.json", jsonConfig))
	require.NoError(t, err)

	assert.Equal(t, fromJSON.Server, fromYAML.Server)
	assert.Equal(t, fromJSON.Logging, fromYAML.Logging)
	require.Len(t, fromYAML.Channels, 2)
	assert.JSONEq(t, string(fromJSON.Channels["alerts"].Params), string(fromYAML.Channels["alerts"].Params))
	assert.Equal(t, "stub", fromYAML.Channels["staging"].Worker)

	specs := fromYAML.ChannelSpecs()
	require.NotNil(t, specs["alerts"].RateLimit)
	assert.Equal(t, 3, specs["alerts"].RateLimit.Burst)
	assert.Nil(t, specs["staging"].RateLimit)
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	unsetConfigEnv(t)
	t.Setenv("MPROXY_CONFIG", writeConfig(t, "relay.json", jsonConfig))

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfigInvalidPaths(t *testing.T) {
	unsetConfigEnv(t)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	t.Setenv("MPROXY_CONFIG", filepath.Join(t.TempDir(), "missing.json"))
	_, err = LoadConfig("")
	require.ErrorContains(t, err, "MPROXY_CONFIG")
}

func TestEnvironmentOverrides(t *testing.T) {
	unsetConfigEnv(t)
	t.Setenv("MPROXY_PORT", "9090")
	t.Setenv("MPROXY_LOG_LEVEL", "WARN")
	t.Setenv("MPROXY_LOG_ADD_SOURCE", "true")

	cfg, err := LoadConfig(writeConfig(t, "config.json", jsonConfig))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Logging.AddSource)
}

func TestDotEnvFile(t *testing.T) {
	unsetConfigEnv(t)
	envPath := writeConfig(t, "relay.env", "MPROXY_HOST=10.0.0.1\n")
	t.Setenv("MPROXY_ENV_FILE", envPath)
	t.Cleanup(func() { _ = os.Unsetenv("MPROXY_HOST") })

	cfg, err := LoadConfig(writeConfig(t, "config.json", jsonConfig))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", cfg.Server.Host)
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	unsetConfigEnv(t)

	tests := []struct {
		name    string
		path    string
		content string
		wantErr string
	}{
		{name: "no channels", path: "c.json", content: `{"server": {"port": 1}}`, wantErr: "channels must not be empty"},
		{name: "unknown field", path: "c.json", content: `{"channels": {"a": {"worker": "stub"}}, "extra": 1}`, wantErr: "unknown field"},
		{name: "bad log format", path: "c.json", content: `{"logging": {"format": "xml"}, "channels": {"a": {"worker": "stub"}}}`, wantErr: "logging.format"},
		{name: "bad port", path: "c.yaml", content: "server: {port: 70000}\nchannels: {a: {worker: stub}}\n", wantErr: "server.port"},
		{name: "broken yaml", path: "c.yml", content: "channels: [", wantErr: "yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.path, []byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNormalizeYAMLStringifiesKeys(t *testing.T) {
	got := normalizeYAML(map[any]any{1: map[any]any{"x": []any{map[any]any{true: "y"}}}})

	want := map[string]any{"1": map[string]any{"x": []any{map[string]any{"true": "y"}}}}
	assert.Equal(t, want, got)
}

func TestNormalizeYAMLLeavesInputUntouched(t *testing.T) {
	inner := map[any]any{"chat_id": 1}
	list := []any{inner}
	input := map[string]any{"params": inner, "list": list}

	got := normalizeYAML(input).(map[string]any)
	got["params"].(map[string]any)["chat_id"] = 2
	got["extra"] = true

	assert.Equal(t, map[any]any{"chat_id": 1}, input["params"])
	assert.IsType(t, map[any]any{}, list[0])
	assert.NotContains(t, input, "extra")
}

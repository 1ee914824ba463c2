package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tagloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesKeepDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: openai
  model: gpt-4o-mini
lint:
  command: "clang-tidy src/*.c"
session:
  max_turns: 20
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "clang-tidy src/*.c", cfg.Lint.Command)
	assert.Equal(t, 20, cfg.Session.MaxTurns)

	// Omitted keys keep their defaults.
	assert.Equal(t, 3, cfg.Session.ProtocolRetries)
	assert.Equal(t, 50, cfg.Session.MaxGrepResults)
	assert.Equal(t, 60, cfg.Lint.TimeoutSeconds)
	assert.Equal(t, 0.2, cfg.LLM.Temperature)
}

func TestLoadLocalServerConfig(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: openai
  model: qwen2.5-coder
  base_url: http://localhost:11434/v1
compile:
  command: "gcc -c src/*.c"
  cwd: /tmp/build
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "/tmp/build", cfg.Compile.Cwd)
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: anthropic
  model: claude-3-5-haiku-20241022
  max_tokens: 4096
  temperature: 0.0
  timeout_seconds: 90
lint:
  command: "make lint"
  timeout_seconds: 30
compile:
  command: "make build"
  timeout_seconds: 120
session:
  max_turns: 15
  protocol_retries: 5
  disable_loop_detection: true
overview:
  dir: ./overviews
log:
  level: debug
  file: tagloop.log
  max_size_mb: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4096, cfg.LLM.MaxTokens)
	assert.Equal(t, "make build", cfg.Compile.Command)
	assert.Equal(t, 120, cfg.Compile.TimeoutSeconds)
	assert.True(t, cfg.Session.DisableLoopDetection)
	assert.Equal(t, "./overviews", cfg.Overview.Dir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Log.MaxSizeMB)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := writeConfig(t, "llm: [not: a, mapping")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero max_turns", func(c *Config) { c.Session.MaxTurns = 0 }, "max_turns"},
		{"zero retries", func(c *Config) { c.Session.ProtocolRetries = 0 }, "protocol_retries"},
		{"temperature out of range", func(c *Config) { c.LLM.Temperature = 3.5 }, "temperature"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestCheckConfigTimeout(t *testing.T) {
	c := CheckConfig{TimeoutSeconds: 45}
	assert.Equal(t, "45s", c.Timeout().String())
}

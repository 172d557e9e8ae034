package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("CHAT_PROXY_API_KEY", "")
	t.Setenv("CHAT_CLIENT_MODEL", "")
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/.netlify/functions/chat", cfg.Proxy.Path)
	assert.Equal(t, "https://openrouter.ai/api/v1/chat/completions", cfg.Proxy.UpstreamURL)
	assert.Equal(t, 24*time.Second, cfg.Proxy.Timeout)
	assert.Equal(t, 25*time.Second, cfg.Client.Timeout)
	assert.Equal(t, "meta-llama/llama-4-maverick:free", cfg.Client.Model)
	assert.InDelta(t, 0.7, cfg.Client.Temperature, 1e-6)
	assert.Equal(t, 2000, cfg.Client.MaxTokens)
	assert.False(t, cfg.Client.SerializeSends)
	assert.Equal(t, 900, cfg.Image.MaxDimension)
	assert.InDelta(t, 70, cfg.Image.Quality, 1e-9)
	assert.Equal(t, DefaultSystemPrompt, cfg.Agent.SystemPrompt)
	assert.Equal(t, time.Duration(0), cfg.Session.TTL)
	assert.Empty(t, cfg.Proxy.APIKey)
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
client:
  model: openai/gpt-4o-mini
  max_tokens: 512
image:
  max_dimension: 800
  quality: 85
log:
  level: debug
`), 0o600))
	t.Setenv("CHAT_CLIENT_MAX_TOKENS", "1024")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-4o-mini", cfg.Client.Model)
	assert.Equal(t, 1024, cfg.Client.MaxTokens)
	assert.Equal(t, 800, cfg.Image.MaxDimension)
	assert.InDelta(t, 85, cfg.Image.Quality, 1e-9)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "sk-or-test", cfg.Proxy.APIKey)
}

func TestLoadPrefersExplicitKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHAT_PROXY_API_KEY", "from-chat-env")
	t.Setenv("OPENROUTER_API_KEY", "from-openrouter-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-chat-env", cfg.Proxy.APIKey)
}

func TestLoadBlankKeyFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHAT_PROXY_API_KEY", "   ")
	t.Setenv("OPENROUTER_API_KEY", " from-openrouter-env\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-openrouter-env", cfg.Proxy.APIKey)

	t.Setenv("OPENROUTER_API_KEY", "\t")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Proxy.APIKey)
}

func TestLoadRejectsInvalid(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("image:\n  max_dimension: 0\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeQuality(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.7, 70},
		{1, 100},
		{70, 70},
		{0, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, NormalizeQuality(tt.in), 1e-9)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Proxy:  ProxyConfig{Path: "/chat"},
			Client: ClientConfig{Endpoint: "http://localhost/chat", Timeout: time.Second},
			Image:  ImageConfig{MaxDimension: 900, Quality: 70},
		}
	}

	require.NoError(t, valid().Validate())

	c := valid()
	c.Image.Quality = 150
	assert.Error(t, c.Validate())

	c = valid()
	c.Client.Timeout = 0
	assert.Error(t, c.Validate())

	c = valid()
	c.Client.Endpoint = ""
	assert.Error(t, c.Validate())

	c = valid()
	c.Proxy.Path = "chat"
	assert.Error(t, c.Validate())
}

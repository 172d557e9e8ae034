package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Client    ClientConfig    `mapstructure:"client"`
	Image     ImageConfig     `mapstructure:"image"`
	Agent     AgentConfig     `mapstructure:"agent"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Session   SessionConfig   `mapstructure:"session"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

// ProxyConfig configures the server-side function that holds the upstream credential.
type ProxyConfig struct {
	Path        string        `mapstructure:"path"`
	UpstreamURL string        `mapstructure:"upstream_url"`
	APIKey      string        `mapstructure:"api_key"`
	Referer     string        `mapstructure:"referer"`
	Title       string        `mapstructure:"title"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ClientConfig configures the completion client that talks to the proxy.
type ClientConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Model          string        `mapstructure:"model"`
	Temperature    float32       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	SerializeSends bool          `mapstructure:"serialize_sends"`
}

type ImageConfig struct {
	MaxDimension  int     `mapstructure:"max_dimension"`
	Quality       float64 `mapstructure:"quality"`
	MaxInputBytes int64   `mapstructure:"max_input_bytes"`
}

type AgentConfig struct {
	SystemPrompt string `mapstructure:"system_prompt"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// SessionConfig controls pruning of idle chats. A zero TTL keeps chats for the process lifetime.
type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

const DefaultSystemPrompt = "Kamu adalah Sorachio, AI teman ngobrol yang dibuat oleh Izzul Fahmi, seorang AI engineer berbakat dari Indonesia. " +
	"Kamu memiliki kepribadian yang ramah, gaul, seru, dan menggunakan bahasa ala Gen Z. " +
	"Kamu berperan sebagai teman virtual yang pintar, asik, dan responsif. " +
	"Jangan memperkenalkan diri terus-menerus, tapi jika ditanya siapa kamu, jelaskan tentang dirimu dan penciptamu. " +
	"Untuk info lebih lengkap tentang project, arahkan ke GitHub: https://github.com/IzzulGod"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.max_header_bytes", 1<<20)

	v.SetDefault("proxy.path", "/.netlify/functions/chat")
	v.SetDefault("proxy.upstream_url", "https://openrouter.ai/api/v1/chat/completions")
	v.SetDefault("proxy.api_key", "")
	v.SetDefault("proxy.referer", "")
	v.SetDefault("proxy.title", "Sorachio")
	v.SetDefault("proxy.timeout", 24*time.Second)

	v.SetDefault("client.endpoint", "http://localhost:8080/.netlify/functions/chat")
	v.SetDefault("client.timeout", 25*time.Second)
	v.SetDefault("client.model", "meta-llama/llama-4-maverick:free")
	v.SetDefault("client.temperature", 0.7)
	v.SetDefault("client.max_tokens", 2000)
	v.SetDefault("client.serialize_sends", false)

	v.SetDefault("image.max_dimension", 900)
	v.SetDefault("image.quality", 0.7)
	v.SetDefault("image.max_input_bytes", 20<<20)

	v.SetDefault("agent.system_prompt", DefaultSystemPrompt)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type"})
	v.SetDefault("cors.exposed_headers", []string{})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_minute", 60)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("session.ttl", time.Duration(0))
	v.SetDefault("session.cleanup_interval", 10*time.Minute)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads the YAML file at configPath. A missing file is not an error:
// defaults and CHAT_* environment variables still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// The config file and CHAT_PROXY_API_KEY win; OPENROUTER_API_KEY is the fallback.
	c.Proxy.APIKey = strings.TrimSpace(c.Proxy.APIKey)
	if c.Proxy.APIKey == "" {
		c.Proxy.APIKey = strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY"))
	}

	c.Image.Quality = NormalizeQuality(c.Image.Quality)

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// NormalizeQuality accepts either a 0-1 fraction or a 1-100 percentage and returns a percentage.
func NormalizeQuality(q float64) float64 {
	if q > 0 && q <= 1 {
		return q * 100
	}
	return q
}

func (c *Config) Validate() error {
	if c.Image.MaxDimension <= 0 {
		return fmt.Errorf("image.max_dimension must be positive, got %d", c.Image.MaxDimension)
	}
	if c.Image.Quality < 1 || c.Image.Quality > 100 {
		return fmt.Errorf("image.quality must be within 1..100, got %v", c.Image.Quality)
	}
	if c.Client.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be positive")
	}
	if c.Client.Endpoint == "" {
		return fmt.Errorf("client.endpoint is required")
	}
	if !strings.HasPrefix(c.Proxy.Path, "/") {
		return fmt.Errorf("proxy.path must start with /, got %q", c.Proxy.Path)
	}
	return nil
}

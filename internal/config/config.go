package config

import (
	"bytes"
	"fmt"
	"net"
	neturl "net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"

	defaultPort        = 2333
	defaultEnv         = "development"
	defaultDBHost      = "127.0.0.1"
	defaultDBPort      = 3306
	defaultDBUser      = "root"
	defaultDBPassword  = "password"
	defaultDBName      = "gistly"
	defaultDBCharset   = "utf8mb4"
	defaultRedisHost   = "localhost"
	defaultRedisPort   = 6379
	defaultGeminiModel = "gemini-1.5-flash"
	defaultOpenAIModel = "gpt-4o-mini"

	// Gemini exposes an OpenAI-compatible chat-completions surface.
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/openai"
)

// AppConfig holds runtime startup configuration loaded from YAML, with
// environment variables taking precedence for deploy-time secrets.
type AppConfig struct {
	Port           int             `yaml:"port"`
	Env            string          `yaml:"env"` // "development" | "production"
	DSN            string          `yaml:"dsn"` // MySQL DSN, built from Database when empty
	RedisURL       string          `yaml:"redis_url"`
	Database       DatabaseConfig  `yaml:"database"`
	Redis          RedisConfig     `yaml:"redis"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	Providers      ProvidersConfig `yaml:"providers"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Queue          QueueConfig     `yaml:"queue"`
	Workers        int             `yaml:"workers"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Charset  string `yaml:"charset"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`
}

// ProvidersConfig carries the fixed Gemini→OpenAI fallback chain. An adapter
// is considered configured iff its API key is non-empty.
type ProvidersConfig struct {
	Gemini ProviderConfig `yaml:"gemini"`
	OpenAI ProviderConfig `yaml:"openai"`
}

type ProviderConfig struct {
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

// RateLimitConfig is the admission policy for request creation.
type RateLimitConfig struct {
	Max           int `yaml:"max"`
	WindowSeconds int `yaml:"window_seconds"`
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// QueueConfig mirrors the job queue's operational knobs.
type QueueConfig struct {
	Attempts                 int `yaml:"attempts"`
	BackoffSeconds           int `yaml:"backoff_seconds"`
	VisibilityTimeoutSeconds int `yaml:"visibility_timeout_seconds"`
	RemoveOnComplete         int `yaml:"remove_on_complete"`
	RemoveOnFail             int `yaml:"remove_on_fail"`
}

func (q QueueConfig) Backoff() time.Duration {
	return time.Duration(q.BackoffSeconds) * time.Second
}

func (q QueueConfig) VisibilityTimeout() time.Duration {
	return time.Duration(q.VisibilityTimeoutSeconds) * time.Second
}

// Load reads the YAML config at path (defaults apply when the file is absent),
// then overlays environment variables.
func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := defaultAppConfig()

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
	case os.IsNotExist(err) && configPath == "":
		// no config file is fine, env + defaults carry the day
	case os.IsNotExist(err) && path == DefaultConfigPath:
		// same for the implicit default path
	default:
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d, expected 1-65535", cfg.Port)
	}
	if cfg.RateLimit.Max < 1 || cfg.RateLimit.WindowSeconds < 1 {
		return nil, fmt.Errorf("invalid rate_limit %+v, max and window_seconds must be >= 1", cfg.RateLimit)
	}
	if cfg.Queue.Attempts < 1 {
		return nil, fmt.Errorf("invalid queue.attempts %d, expected >= 1", cfg.Queue.Attempts)
	}

	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Database: DatabaseConfig{
			Host:     defaultDBHost,
			Port:     defaultDBPort,
			User:     defaultDBUser,
			Password: defaultDBPassword,
			Name:     defaultDBName,
			Charset:  defaultDBCharset,
		},
		Redis: RedisConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
		},
		Providers: ProvidersConfig{
			Gemini: ProviderConfig{Endpoint: defaultGeminiEndpoint, Model: defaultGeminiModel},
			OpenAI: ProviderConfig{Model: defaultOpenAIModel},
		},
		RateLimit: RateLimitConfig{
			Max:           5,
			WindowSeconds: 3600,
		},
		Queue: QueueConfig{
			Attempts:                 3,
			BackoffSeconds:           1,
			VisibilityTimeoutSeconds: 120,
			RemoveOnComplete:         100,
			RemoveOnFail:             500,
		},
		Workers: 1,
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("NODE_ENV")); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_ENV")); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_DSN")); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_HOST")); v != "" {
		cfg.Redis.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_PASSWORD")); v != "" {
		cfg.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
		cfg.Providers.Gemini.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.Providers.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		cfg.AllowedOrigins = strings.Split(v, ",")
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX")); v != "" {
		if max, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Max = max
		}
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_TTL")); v != "" {
		if ttl, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.WindowSeconds = ttl
		}
	}
}

func normalize(cfg *AppConfig) {
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if cfg.Env == "" {
		cfg.Env = defaultEnv
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Queue.BackoffSeconds < 1 {
		cfg.Queue.BackoffSeconds = 1
	}
	if cfg.Queue.VisibilityTimeoutSeconds < 1 {
		cfg.Queue.VisibilityTimeoutSeconds = 120
	}
	if cfg.Providers.Gemini.Endpoint == "" {
		cfg.Providers.Gemini.Endpoint = defaultGeminiEndpoint
	}
	if cfg.Providers.Gemini.Model == "" {
		cfg.Providers.Gemini.Model = defaultGeminiModel
	}
	if cfg.Providers.OpenAI.Model == "" {
		cfg.Providers.OpenAI.Model = defaultOpenAIModel
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.AllowedOrigins = origins

	cfg.DSN = cfg.DSNValue()
	cfg.RedisURL = cfg.RedisURLValue()
}

// DSNValue returns the explicit DSN when set, otherwise one assembled from the
// database block.
func (c *AppConfig) DSNValue() string {
	if v := strings.TrimSpace(c.DSN); v != "" {
		return v
	}

	db := c.Database
	if db.Host == "" {
		db.Host = defaultDBHost
	}
	if db.Port == 0 {
		db.Port = defaultDBPort
	}
	if db.User == "" {
		db.User = defaultDBUser
	}
	if db.Name == "" {
		db.Name = defaultDBName
	}
	if db.Charset == "" {
		db.Charset = defaultDBCharset
	}

	params := neturl.Values{}
	params.Set("charset", db.Charset)
	params.Set("parseTime", "true")
	params.Set("loc", "Local")

	auth := db.User
	if db.Password != "" {
		auth += ":" + db.Password
	}
	return fmt.Sprintf("%s@tcp(%s)/%s?%s",
		auth, net.JoinHostPort(db.Host, strconv.Itoa(db.Port)), db.Name, params.Encode())
}

// RedisURLValue returns the explicit URL when set, otherwise one assembled
// from the redis block.
func (c *AppConfig) RedisURLValue() string {
	if v := strings.TrimSpace(c.RedisURL); v != "" {
		if !strings.HasPrefix(v, "redis://") && !strings.HasPrefix(v, "rediss://") {
			return "redis://" + v
		}
		return v
	}

	r := c.Redis
	if r.Host == "" {
		r.Host = defaultRedisHost
	}
	if r.Port == 0 {
		r.Port = defaultRedisPort
	}
	scheme := "redis"
	if r.TLS {
		scheme = "rediss"
	}

	u := &neturl.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(r.Host, strconv.Itoa(r.Port)),
		Path:   "/" + strconv.Itoa(r.DB),
	}
	if r.Username != "" {
		u.User = neturl.UserPassword(r.Username, r.Password)
	} else if r.Password != "" {
		u.User = neturl.UserPassword("", r.Password)
	}
	return u.String()
}

func (c *AppConfig) IsDev() bool {
	return strings.EqualFold(c.Env, defaultEnv)
}

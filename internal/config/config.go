package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	LogLevel  string
	Server    ServerConfig
	Store     StoreConfig
	MongoDB   MongoDBConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	MinIO     MinIOConfig
	Search    SearchConfig
	Rewrite   RewriteConfig
	Autosave  AutosaveConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// Addr is the listen address.
func (s ServerConfig) Addr() string { return s.Host + ":" + s.Port }

// StoreConfig selects the document backend: memory, file, mongo or postgres.
type StoreConfig struct {
	Backend  string
	FilePath string
}

type MongoDBConfig struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

type PostgresConfig struct {
	URL     string
	Timeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// Addr returns host:port, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

type RateLimitConfig struct {
	Enabled  bool
	RPS      float64
	Burst    int
	UseRedis bool
	Window   time.Duration
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type SearchConfig struct {
	MeiliURL string
	MeiliKey string
	Index    string
}

type RewriteConfig struct {
	APIKey   string
	Endpoint string
	Model    string
	Timeout  time.Duration
	RPS      float64
}

type AutosaveConfig struct {
	Debounce    time.Duration
	StatusClear time.Duration
}

var storeBackends = map[string]bool{"memory": true, "file": true, "mongo": true, "postgres": true}

// LoadConfig loads configuration from environment variables and an optional .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SERVER_PORT", "5001")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("SERVER_READ_TIMEOUT", 30)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 30)
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("STORE_BACKEND", "file")
	v.SetDefault("STORE_FILE_PATH", "data/documents.json")
	v.SetDefault("MONGODB_DATABASE", "docedit")
	v.SetDefault("MONGODB_COLLECTION", "documents")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("POSTGRES_TIMEOUT", 10)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_CACHE_TTL", 300)
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_RPS", 20.0)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("RATE_LIMIT_USE_REDIS", false)
	v.SetDefault("RATE_LIMIT_WINDOW", 1)
	v.SetDefault("MINIO_BUCKET", "document-revisions")
	v.SetDefault("MINIO_USE_SSL", false)
	v.SetDefault("MEILI_INDEX", "documents")
	v.SetDefault("REWRITE_ENDPOINT", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("REWRITE_MODEL", "gemini-1.5-flash")
	v.SetDefault("REWRITE_TIMEOUT", 30)
	v.SetDefault("REWRITE_RPS", 2.0)
	v.SetDefault("AUTOSAVE_DEBOUNCE_MS", 1000)
	v.SetDefault("AUTOSAVE_STATUS_CLEAR_MS", 2000)

	cfg := &Config{
		LogLevel: v.GetString("LOG_LEVEL"),
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  time.Duration(v.GetInt("SERVER_READ_TIMEOUT")) * time.Second,
			WriteTimeout: time.Duration(v.GetInt("SERVER_WRITE_TIMEOUT")) * time.Second,
			CORSOrigins:  splitList(v.GetString("CORS_ORIGINS")),
		},
		Store: StoreConfig{
			Backend:  strings.ToLower(v.GetString("STORE_BACKEND")),
			FilePath: v.GetString("STORE_FILE_PATH"),
		},
		MongoDB: MongoDBConfig{
			URI:        v.GetString("MONGODB_URI"),
			Database:   v.GetString("MONGODB_DATABASE"),
			Collection: v.GetString("MONGODB_COLLECTION"),
			Timeout:    time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Postgres: PostgresConfig{
			URL:     v.GetString("POSTGRES_URL"),
			Timeout: time.Duration(v.GetInt("POSTGRES_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			CacheTTL: time.Duration(v.GetInt("REDIS_CACHE_TTL")) * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:  v.GetBool("RATE_LIMIT_ENABLED"),
			RPS:      v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:    v.GetInt("RATE_LIMIT_BURST"),
			UseRedis: v.GetBool("RATE_LIMIT_USE_REDIS"),
			Window:   time.Duration(v.GetInt("RATE_LIMIT_WINDOW")) * time.Second,
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
			Bucket:    v.GetString("MINIO_BUCKET"),
		},
		Search: SearchConfig{
			MeiliURL: v.GetString("MEILI_URL"),
			MeiliKey: v.GetString("MEILI_MASTER_KEY"),
			Index:    v.GetString("MEILI_INDEX"),
		},
		Rewrite: RewriteConfig{
			APIKey:   v.GetString("GEMINI_API_KEY"),
			Endpoint: strings.TrimRight(v.GetString("REWRITE_ENDPOINT"), "/"),
			Model:    v.GetString("REWRITE_MODEL"),
			Timeout:  time.Duration(v.GetInt("REWRITE_TIMEOUT")) * time.Second,
			RPS:      v.GetFloat64("REWRITE_RPS"),
		},
		Autosave: AutosaveConfig{
			Debounce:    time.Duration(v.GetInt("AUTOSAVE_DEBOUNCE_MS")) * time.Millisecond,
			StatusClear: time.Duration(v.GetInt("AUTOSAVE_STATUS_CLEAR_MS")) * time.Millisecond,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail late at startup.
func (c *Config) Validate() error {
	if !storeBackends[c.Store.Backend] {
		return fmt.Errorf("STORE_BACKEND %q: want memory, file, mongo or postgres", c.Store.Backend)
	}
	switch c.Store.Backend {
	case "file":
		if c.Store.FilePath == "" {
			return fmt.Errorf("STORE_FILE_PATH is required for the file backend")
		}
	case "mongo":
		if c.MongoDB.URI == "" {
			return fmt.Errorf("MONGODB_URI is required for the mongo backend")
		}
	case "postgres":
		if c.Postgres.URL == "" {
			return fmt.Errorf("POSTGRES_URL is required for the postgres backend")
		}
	}
	if c.RateLimit.UseRedis && c.Redis.Host == "" {
		return fmt.Errorf("RATE_LIMIT_USE_REDIS requires REDIS_HOST")
	}
	if c.Autosave.Debounce <= 0 {
		return fmt.Errorf("AUTOSAVE_DEBOUNCE_MS must be positive")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

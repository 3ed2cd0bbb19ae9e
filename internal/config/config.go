package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

// Server modes
const (
	ModeAll    = "all"
	ModeAPI    = "api"
	ModeWorker = "worker"
)

// Storage drivers for artifacts and the points ledger
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	Storage   StorageConfig
	JWT       JWTConfig
	Zitadel   ZitadelConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	AI        AIConfig
	TTS       TTSConfig
	Render    RenderConfig
	Content   ContentConfig
	R2        R2Config
	Worker    WorkerConfig
	Metering  MeteringConfig
	Payment   PaymentConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string
	ApiDomain string
	Mode      string
}

// IsDevelopment reports whether the server runs in development mode.
func (s ServerConfig) IsDevelopment() bool {
	return strings.EqualFold(s.Env, "development")
}

// RunsAPI reports whether this process serves HTTP.
func (s ServerConfig) RunsAPI() bool {
	return s.Mode == ModeAll || s.Mode == ModeAPI
}

// RunsWorker reports whether this process consumes jobs.
func (s ServerConfig) RunsWorker() bool {
	return s.Mode == ModeAll || s.Mode == ModeWorker
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

type StorageConfig struct {
	Driver string
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	SubmitPerHour int
	StatusPerMin  int
}

type AIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSec     int
	RequestsPerSec float64
}

type TTSConfig struct {
	ServiceURL string
	TimeoutSec int
}

type RenderConfig struct {
	BaseURL string
	APIKey  string
}

type ContentConfig struct {
	BaseURL string
	APIKey  string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type WorkerConfig struct {
	Concurrency     int
	PollIntervalMs  int
	StaleAfterSec   int
	ReapIntervalSec int
	RetentionHours  int
	MaxAttempts     int
	HandlerRetries  int
	RetryBackoffMs  int
}

type MeteringConfig struct {
	// Prices maps a job type, or "job_type:provider", to its point cost.
	Prices         map[string]int64
	FreeDailyLimit int
	FreeJobTypes   []string
}

type PaymentConfig struct {
	SePayAPIKey   string
	PointsPerUnit float64
	ContentPrefix string
}

func Load() (*Config, error) {
	// .env is optional; real env vars win.
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("POSTGRES_DSN")
	readSecret("JWT_SECRET")
	readSecret("AI_API_KEY")
	readSecret("RENDER_API_KEY")
	readSecret("CONTENT_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("SEPAY_API_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	binds := map[string]string{
		"server.port":              "SERVER_PORT",
		"server.env":               "SERVER_ENV",
		"server.log_level":         "LOG_LEVEL",
		"server.log_format":        "LOG_FORMAT",
		"server.api_domain":        "API_DOMAIN",
		"server.mode":              "SERVER_MODE",
		"redis.addr":               "REDIS_ADDR",
		"redis.password":           "REDIS_PASSWORD",
		"redis.db":                 "REDIS_DB",
		"postgres.dsn":             "POSTGRES_DSN",
		"postgres.max_conns":       "POSTGRES_MAX_CONNS",
		"storage.driver":           "STORAGE_DRIVER",
		"jwt.secret":               "JWT_SECRET",
		"jwt.expiration":           "JWT_EXPIRATION",
		"zitadel.domain":           "ZITADEL_DOMAIN",
		"zitadel.client_id":        "ZITADEL_CLIENT_ID",
		"zitadel.issuer":           "ZITADEL_ISSUER",
		"gateway.enabled":          "GATEWAY_ENABLED",
		"ratelimit.submit_per_hour": "RATELIMIT_SUBMIT_PER_HOUR",
		"ratelimit.status_per_min": "RATELIMIT_STATUS_PER_MIN",
		"ai.api_key":               "AI_API_KEY",
		"ai.base_url":              "AI_BASE_URL",
		"ai.model":                 "AI_MODEL",
		"ai.timeout":               "AI_TIMEOUT",
		"ai.requests_per_sec":      "AI_REQUESTS_PER_SEC",
		"tts.service_url":          "TTS_SERVICE_URL",
		"tts.timeout":              "TTS_TIMEOUT",
		"render.base_url":          "RENDER_BASE_URL",
		"render.api_key":           "RENDER_API_KEY",
		"content.base_url":         "CONTENT_BASE_URL",
		"content.api_key":          "CONTENT_API_KEY",
		"r2.account_id":            "R2_ACCOUNT_ID",
		"r2.access_key_id":         "R2_ACCESS_KEY_ID",
		"r2.secret_access_key":     "R2_SECRET_ACCESS_KEY",
		"r2.bucket_name":           "R2_BUCKET_NAME",
		"r2.public_url":            "R2_PUBLIC_URL",
		"worker.concurrency":       "WORKER_CONCURRENCY",
		"worker.poll_interval_ms":  "WORKER_POLL_INTERVAL_MS",
		"worker.stale_after_sec":   "WORKER_STALE_AFTER_SEC",
		"worker.reap_interval_sec": "WORKER_REAP_INTERVAL_SEC",
		"worker.retention_hours":   "WORKER_RETENTION_HOURS",
		"worker.max_attempts":      "WORKER_MAX_ATTEMPTS",
		"worker.handler_retries":   "WORKER_HANDLER_RETRIES",
		"worker.retry_backoff_ms":  "WORKER_RETRY_BACKOFF_MS",
		"metering.free_daily_limit": "METERING_FREE_DAILY_LIMIT",
		"metering.free_job_types":  "METERING_FREE_JOB_TYPES",
		"payment.sepay_api_key":    "SEPAY_API_KEY",
		"payment.points_per_unit":  "PAYMENT_POINTS_PER_UNIT",
		"payment.content_prefix":   "PAYMENT_CONTENT_PREFIX",
	}
	for key, env := range binds {
		_ = v.BindEnv(key, env)
	}

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.mode", ModeAll)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("storage.driver", StorageMemory)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("ratelimit.submit_per_hour", 60)
	v.SetDefault("ratelimit.status_per_min", 120)

	// AI defaults (OpenAI-compatible endpoint)
	v.SetDefault("ai.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("ai.model", "llama-3.3-70b-versatile")
	v.SetDefault("ai.timeout", 90)
	v.SetDefault("ai.requests_per_sec", 2.0)

	v.SetDefault("tts.timeout", 120)

	// Worker defaults
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_interval_ms", 500)
	v.SetDefault("worker.stale_after_sec", 300)
	v.SetDefault("worker.reap_interval_sec", 60)
	v.SetDefault("worker.retention_hours", 24)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.handler_retries", 2)
	v.SetDefault("worker.retry_backoff_ms", 1000)

	// Metering defaults
	v.SetDefault("metering.prices", map[string]any{
		"translate_chapter":           2,
		"translate_chapter:deepseek":  1,
		"generate_subtitles":          2,
		"generate_subtitles:deepseek": 1,
		"generate_narration":          5,
		"export_video":                10,
	})
	v.SetDefault("metering.free_daily_limit", 15)
	v.SetDefault("metering.free_job_types", []string{"translate_chapter:deepseek"})

	v.SetDefault("payment.points_per_unit", 0.001)
	v.SetDefault("payment.content_prefix", "WAI")

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	prices := make(map[string]int64)
	for k, raw := range v.GetStringMap("metering.prices") {
		var cost int64
		switch n := raw.(type) {
		case int:
			cost = int64(n)
		case int64:
			cost = n
		case float64:
			cost = int64(n)
		default:
			return nil, fmt.Errorf("metering.prices.%s: not a number", k)
		}
		prices[k] = cost
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			LogFormat: v.GetString("server.log_format"),
			ApiDomain: v.GetString("server.api_domain"),
			Mode:      strings.ToLower(v.GetString("server.mode")),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Postgres: PostgresConfig{
			DSN:      v.GetString("postgres.dsn"),
			MaxConns: v.GetInt32("postgres.max_conns"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(v.GetString("storage.driver")),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		Zitadel: ZitadelConfig{
			Domain:   v.GetString("zitadel.domain"),
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerHour: v.GetInt("ratelimit.submit_per_hour"),
			StatusPerMin:  v.GetInt("ratelimit.status_per_min"),
		},
		AI: AIConfig{
			APIKey:         v.GetString("ai.api_key"),
			BaseURL:        v.GetString("ai.base_url"),
			Model:          v.GetString("ai.model"),
			TimeoutSec:     v.GetInt("ai.timeout"),
			RequestsPerSec: v.GetFloat64("ai.requests_per_sec"),
		},
		TTS: TTSConfig{
			ServiceURL: v.GetString("tts.service_url"),
			TimeoutSec: v.GetInt("tts.timeout"),
		},
		Render: RenderConfig{
			BaseURL: v.GetString("render.base_url"),
			APIKey:  v.GetString("render.api_key"),
		},
		Content: ContentConfig{
			BaseURL: v.GetString("content.base_url"),
			APIKey:  v.GetString("content.api_key"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Worker: WorkerConfig{
			Concurrency:     v.GetInt("worker.concurrency"),
			PollIntervalMs:  v.GetInt("worker.poll_interval_ms"),
			StaleAfterSec:   v.GetInt("worker.stale_after_sec"),
			ReapIntervalSec: v.GetInt("worker.reap_interval_sec"),
			RetentionHours:  v.GetInt("worker.retention_hours"),
			MaxAttempts:     v.GetInt("worker.max_attempts"),
			HandlerRetries:  v.GetInt("worker.handler_retries"),
			RetryBackoffMs:  v.GetInt("worker.retry_backoff_ms"),
		},
		Metering: MeteringConfig{
			Prices:         prices,
			FreeDailyLimit: v.GetInt("metering.free_daily_limit"),
			FreeJobTypes:   v.GetStringSlice("metering.free_job_types"),
		},
		Payment: PaymentConfig{
			SePayAPIKey:   v.GetString("payment.sepay_api_key"),
			PointsPerUnit: v.GetFloat64("payment.points_per_unit"),
			ContentPrefix: v.GetString("payment.content_prefix"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.Server.Mode {
	case ModeAll, ModeAPI, ModeWorker:
	default:
		return fmt.Errorf("server.mode must be one of all|api|worker, got %q", c.Server.Mode)
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("storage.driver=postgres requires postgres.dsn")
		}
	default:
		return fmt.Errorf("storage.driver must be memory or postgres, got %q", c.Storage.Driver)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be at least 1")
	}
	return nil
}

package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	infisical "github.com/infisical/go-sdk"
	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	DatabaseURL    string
	RedisURL       string
	RedisPassword  string
	TelegramToken  string
	TelegramChatID int64
	FrontendOrigin string

	PendleBaseURL string
	CacheDir      string

	// Interval between periodic analysis cycles; 0 runs a single cycle.
	RunInterval time.Duration
	DedupTTL    time.Duration

	// Alert thresholds.
	AccelMultiplier float64
	AccelFloor      float64
	MinTransactions int
}

func Load() Config {
	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := Config{
		Port:            envOr("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        envOr("REDIS_URL", "redis://redis-master.redis.svc.cluster.local:6379/0"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		TelegramToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:  envInt64("TELEGRAM_CHAT_ID", 0),
		FrontendOrigin:  envOr("FRONTEND_ORIGIN", "*"),
		PendleBaseURL:   envOr("PENDLE_BASE_URL", "https://api-v2.pendle.finance/core"),
		CacheDir:        envOr("CACHE_DIR", ".cache/pendle"),
		RunInterval:     envDuration("RUN_INTERVAL", 0),
		DedupTTL:        envDuration("DEDUP_TTL", 24*time.Hour),
		AccelMultiplier: envFloat("ACCEL_MULTIPLIER", 1.5),
		AccelFloor:      envFloat("ACCEL_FLOOR", 5.0),
		MinTransactions: int(envInt64("MIN_TRANSACTIONS", 5)),
	}

	// If Infisical credentials are available, fetch secrets from Infisical
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		loadFromInfisical(&cfg, clientID, clientSecret)
	}

	return cfg
}

func loadFromInfisical(cfg *Config, clientID, clientSecret string) {
	siteURL := envOr("INFISICAL_SITE_URL",
		"http://infisical-infisical-standalone-infisical.infisical.svc.cluster.local:8080")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := envOr("INFISICAL_ENV", "prod")

	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		slog.Error("infisical auth failed", "error", err)
		return
	}

	secrets := map[string]*string{
		"TELEGRAM_BOT_TOKEN": &cfg.TelegramToken,
		"REDIS_PASSWORD":     &cfg.RedisPassword,
		"DATABASE_URL":       &cfg.DatabaseURL,
	}

	for key, target := range secrets {
		if *target != "" {
			continue // env var already set, skip
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  "/",
		})
		if err != nil {
			slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		slog.Info("loaded secret from infisical", "key", key)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		slog.Warn("invalid integer env var, using default", "key", key, "value", v)
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		slog.Warn("invalid float env var, using default", "key", key, "value", v)
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("invalid duration env var, using default", "key", key, "value", v)
	}
	return fallback
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the CheshireCat core runtime.
type Config struct {
	Port      int
	Version   string
	Redis     RedisConfig
	Broker    BrokerConfig
	Cache     CacheConfig
	Plugins   PluginsConfig
	Telemetry TelemetryConfig
	Crypto    CryptoConfig
	Notify    NotifyConfig
}

// RedisConfig points at the shared settings store. When Addr is empty the
// runtime falls back to the in-memory store (single-replica, local dev).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// BrokerConfig configures the cross-replica synchronization channel.
// When URL is empty the channel degrades to local-only operation.
type BrokerConfig struct {
	URL      string
	Exchange string
}

// CacheConfig tunes the tenant instance cache.
type CacheConfig struct {
	IdleTTL       time.Duration
	MaxInstances  int
	SweepInterval time.Duration
}

// PluginsConfig lists the directories scanned for plugin packages.
type PluginsConfig struct {
	Paths []string
	Watch bool
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// CryptoConfig carries the key used to encrypt secret-bearing settings
// values at rest. Empty disables encryption.
type CryptoConfig struct {
	Key string
}

// NotifyConfig lists the webhook endpoints that receive runtime events.
// Secret, when set, enables HMAC-SHA256 signing of webhook bodies.
type NotifyConfig struct {
	WebhookURLs []string
	Secret      string
	Timeout     time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("CCAT_PORT", 1865),
		Version: envStr("CCAT_VERSION", "0.1.0"),
		Redis: RedisConfig{
			Addr:     envStr("CCAT_REDIS_ADDR", ""),
			Password: envStr("CCAT_REDIS_PASSWORD", ""),
			DB:       envInt("CCAT_REDIS_DB", 0),
		},
		Broker: BrokerConfig{
			URL:      envStr("CCAT_RABBITMQ_URL", ""),
			Exchange: envStr("CCAT_RABBITMQ_EXCHANGE", "ccat.sync"),
		},
		Cache: CacheConfig{
			IdleTTL:       envDur("CCAT_CACHE_IDLE_TTL", 20*time.Minute),
			MaxInstances:  envInt("CCAT_CACHE_MAX_INSTANCES", 256),
			SweepInterval: envDur("CCAT_CACHE_SWEEP_INTERVAL", time.Minute),
		},
		Plugins: PluginsConfig{
			Paths: envList("CCAT_PLUGIN_PATHS", []string{"./plugins"}),
			Watch: envBool("CCAT_PLUGIN_WATCH", false),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "cheshirecat-core"),
		},
		Crypto: CryptoConfig{
			Key: envStr("CCAT_CRYPTO_KEY", ""),
		},
		Notify: NotifyConfig{
			WebhookURLs: envList("CCAT_NOTIFY_WEBHOOKS", nil),
			Secret:      envStr("CCAT_NOTIFY_SECRET", ""),
			Timeout:     envDur("CCAT_NOTIFY_TIMEOUT", 15*time.Second),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}

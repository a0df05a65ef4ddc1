package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort              string        `env:"SERVER_PORT" envDefault:"8080"`
	ServerReadHeaderTimeout time.Duration `env:"SERVER_READ_HEADER_TIMEOUT" envDefault:"10s"`
	ServerWriteTimeout      time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	ServerIdleTimeout       time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	RequestTimeout          time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"pretty"`

	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	RedisURL    string `env:"REDIS_URL"`

	JWTSecret     string        `env:"JWT_SECRET"`
	JWTAccessTTL  time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	JWTRefreshTTL time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`
	ResetTokenTTL time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`
	ResetURLBase  string        `env:"RESET_URL_BASE" envDefault:"http://localhost:8000/reset-password"`
	HashAlgorithm string        `env:"HASH_ALGORITHM" envDefault:"bcrypt"`
	BcryptCost    int           `env:"BCRYPT_COST" envDefault:"12"`

	AllowedOrigins         []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:8000"`
	RateLimitWindowSeconds int      `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
	RateLimitMaxRequests   int      `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"100"`
	AuthRateLimitRPM       int      `env:"AUTH_RATE_LIMIT_RPM" envDefault:"10"`
	CSRFEnabled            bool     `env:"CSRF_ENABLED" envDefault:"true"`
	CSRFCookieSecure       bool     `env:"CSRF_COOKIE_SECURE" envDefault:"true"`
	TrustedProxies         []string `env:"TRUSTED_PROXIES" envSeparator:","`

	JobWorkers      int           `env:"JOB_WORKERS" envDefault:"2"`
	JobQueueSize    int           `env:"JOB_QUEUE_SIZE" envDefault:"256"`
	JobTimeout      time.Duration `env:"JOB_TIMEOUT" envDefault:"5m"`
	JobStuckAfter   time.Duration `env:"JOB_STUCK_AFTER" envDefault:"15m"`
	JobReapInterval time.Duration `env:"JOB_REAP_INTERVAL" envDefault:"1m"`
	ArtifactRoot    string        `env:"ARTIFACT_ROOT" envDefault:"./state/artifacts"`

	Notifier           string   `env:"NOTIFIER" envDefault:"log"`
	NotifyWebhookURL   string   `env:"NOTIFY_WEBHOOK_URL"`
	NotifyKafkaBrokers []string `env:"NOTIFY_KAFKA_BROKERS" envSeparator:","`
	NotifyKafkaTopic   string   `env:"NOTIFY_KAFKA_TOPIC" envDefault:"notifications"`

	SeedAdminEmail    string `env:"SEED_ADMIN_EMAIL" envDefault:"admin@example.com"`
	SeedAdminPassword string `env:"SEED_ADMIN_PASSWORD"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)
	cfg.NotifyKafkaBrokers = trimAll(cfg.NotifyKafkaBrokers)
	cfg.TrustedProxies = trimAll(cfg.TrustedProxies)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 || c.ResetTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}

	if c.JWTRefreshTTL <= c.JWTAccessTTL {
		return fmt.Errorf("JWT_REFRESH_TTL must be longer than JWT_ACCESS_TTL")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.RateLimitWindowSeconds <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be positive")
	}

	if c.RateLimitMaxRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be positive")
	}

	if _, err := parsePrefixes(c.TrustedProxies); err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	switch c.HashAlgorithm {
	case "bcrypt", "argon2id":
	default:
		return fmt.Errorf("HASH_ALGORITHM must be one of: bcrypt|argon2id")
	}

	if c.JobWorkers <= 0 {
		return fmt.Errorf("JOB_WORKERS must be positive")
	}

	if c.JobTimeout <= 0 || c.JobStuckAfter <= 0 || c.JobReapInterval <= 0 {
		return fmt.Errorf("job timeouts must be positive")
	}

	if strings.TrimSpace(c.ArtifactRoot) == "" {
		return fmt.Errorf("ARTIFACT_ROOT cannot be empty")
	}

	switch c.Notifier {
	case "log":
	case "webhook":
		if strings.TrimSpace(c.NotifyWebhookURL) == "" {
			return fmt.Errorf("NOTIFY_WEBHOOK_URL is required for the webhook notifier")
		}
	case "kafka":
		if len(c.NotifyKafkaBrokers) == 0 {
			return fmt.Errorf("NOTIFY_KAFKA_BROKERS is required for the kafka notifier")
		}
	default:
		return fmt.Errorf("NOTIFIER must be one of: log|webhook|kafka")
	}

	return nil
}

// RateLimitWindow is the configured fixed-window length.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// TrustedProxyPrefixes are the networks whose forwarding headers are honoured.
// Bare addresses become single-host prefixes.
func (c *Config) TrustedProxyPrefixes() []netip.Prefix {
	prefixes, _ := parsePrefixes(c.TrustedProxies)
	return prefixes
}

func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}

package config

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "0123456789abcdef-secret")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "8080", cfg.ServerPort)
		assert.Equal(t, 15*time.Minute, cfg.JWTAccessTTL)
		assert.Equal(t, 168*time.Hour, cfg.JWTRefreshTTL)
		assert.Equal(t, 60, cfg.RateLimitWindowSeconds)
		assert.Equal(t, 100, cfg.RateLimitMaxRequests)
		assert.Equal(t, time.Minute, cfg.RateLimitWindow())
		assert.Equal(t, "bcrypt", cfg.HashAlgorithm)
		assert.Equal(t, []string{"http://localhost:3000", "http://localhost:8000"}, cfg.AllowedOrigins)
		assert.Empty(t, cfg.TrustedProxyPrefixes(), "forwarding headers are untrusted by default")
	})

	t.Run("reads overrides", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "0123456789abcdef-secret")
		t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "5")
		t.Setenv("RATE_LIMIT_MAX_REQUESTS", "3")
		t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
		t.Setenv("HASH_ALGORITHM", "argon2id")
		t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.10")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []netip.Prefix{
			netip.MustParsePrefix("10.0.0.0/8"),
			netip.MustParsePrefix("192.0.2.10/32"),
		}, cfg.TrustedProxyPrefixes())
		assert.Equal(t, 5*time.Second, cfg.RateLimitWindow())
		assert.Equal(t, 3, cfg.RateLimitMaxRequests)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
		assert.Equal(t, "argon2id", cfg.HashAlgorithm)
	})

	t.Run("requires a signing secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT_SECRET")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ServerPort:             "8080",
			RequestTimeout:         time.Second,
			JWTSecret:              "0123456789abcdef",
			JWTAccessTTL:           time.Minute,
			JWTRefreshTTL:          time.Hour,
			ResetTokenTTL:          time.Hour,
			HashAlgorithm:          "bcrypt",
			RateLimitWindowSeconds: 60,
			RateLimitMaxRequests:   100,
			JobWorkers:             1,
			JobTimeout:             time.Minute,
			JobStuckAfter:          time.Minute,
			JobReapInterval:        time.Minute,
			ArtifactRoot:           "./artifacts",
			Notifier:               "log",
		}
	}

	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"refresh shorter than access": func(c *Config) { c.JWTRefreshTTL = time.Second },
		"unknown hash algorithm":      func(c *Config) { c.HashAlgorithm = "md5" },
		"zero window":                 func(c *Config) { c.RateLimitWindowSeconds = 0 },
		"zero max requests":           func(c *Config) { c.RateLimitMaxRequests = 0 },
		"webhook without url":         func(c *Config) { c.Notifier = "webhook" },
		"kafka without brokers":       func(c *Config) { c.Notifier = "kafka" },
		"short secret":                func(c *Config) { c.JWTSecret = "short" },
		"malformed trusted proxy":     func(c *Config) { c.TrustedProxies = []string{"10.0.0.0/33"} },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

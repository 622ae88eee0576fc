package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/artvista")
	t.Setenv("REDIS_ADDR", "redis-env:6379")
	t.Setenv("MINIO_BUCKET", "env-bucket")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("ARTVISTA_EVENTS_BACKEND", "redis")
	t.Setenv("ARTVISTA_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ARTVISTA_LOGIN_RATE_LIMIT_PER_MINUTE", "7")

	path := writeConfig(t, `
port: "8080"
databaseURL: "postgres://file/artvista"
minioEndpoint: "localhost:9000"
minioBucket: "file-bucket"
jwtSecret: "0123456789abcdef0123456789abcdef"
loginRateLimitPerMinute: 30
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env/artvista" {
		t.Fatalf("databaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.RedisAddr != "redis-env:6379" || cfg.MinioBucket != "env-bucket" || !cfg.MinioUseSSL {
		t.Fatalf("redis/minio overrides not applied: %+v", cfg)
	}
	if cfg.EventsBackend != "redis" {
		t.Fatalf("eventsBackend = %q", cfg.EventsBackend)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("corsOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.LoginRateLimitPerMinute != 7 {
		t.Fatalf("loginRateLimitPerMinute = %d", cfg.LoginRateLimitPerMinute)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
storeBackend: memory
objectBackend: file
fileStorePath: "/tmp/artvista"
jwtSecret: "0123456789abcdef0123456789abcdef"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SessionBackend != "jwt" || cfg.EventsBackend != "none" {
		t.Fatalf("unexpected backend defaults: %+v", cfg)
	}
	if cfg.MaxUploadBytes != 10<<20 || cfg.PublicFilesPath != "/files/" {
		t.Fatalf("unexpected upload defaults: %d %q", cfg.MaxUploadBytes, cfg.PublicFilesPath)
	}
}

func TestValidateConfigRejects(t *testing.T) {
	base := FileConfig{
		Port:           "8080",
		StoreBackend:   "memory",
		ObjectBackend:  "file",
		FileStorePath:  "/tmp/x",
		SessionBackend: "jwt",
		JWTSecret:      strings.Repeat("s", 32),
		EventsBackend:  "none",
	}
	if err := validateConfig(base); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*FileConfig)
	}{
		{"missing port", func(c *FileConfig) { c.Port = "" }},
		{"unknown store", func(c *FileConfig) { c.StoreBackend = "sqlite" }},
		{"postgres without dsn", func(c *FileConfig) { c.StoreBackend = "postgres" }},
		{"mongo without url", func(c *FileConfig) { c.StoreBackend = "mongo" }},
		{"firestore without project", func(c *FileConfig) { c.StoreBackend = "firestore" }},
		{"minio without endpoint", func(c *FileConfig) { c.ObjectBackend = "minio" }},
		{"gcs without bucket", func(c *FileConfig) { c.ObjectBackend = "gcs" }},
		{"short jwt secret", func(c *FileConfig) { c.JWTSecret = "short" }},
		{"redis sessions without redis", func(c *FileConfig) { c.SessionBackend = "redis" }},
		{"amqp events without url", func(c *FileConfig) { c.EventsBackend = "amqp" }},
		{"negative rate limit", func(c *FileConfig) { c.SignupRateLimitPerMinute = -1 }},
		{"bad session ttl", func(c *FileConfig) { c.SessionTTL = "forever" }},
		{"bad verify key", func(c *FileConfig) { c.JWTVerifyPublicKeys = []string{"no-separator"} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := validateConfig(cfg); err == nil {
				t.Fatalf("expected %s to be rejected", tc.name)
			}
		})
	}
}

func TestParseVerifyKeys(t *testing.T) {
	keys, err := ParseVerifyKeys([]string{"old = /keys/old.pem"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if keys["old"] != "/keys/old.pem" {
		t.Fatalf("keys = %v", keys)
	}
}

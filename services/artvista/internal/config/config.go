package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
var ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port            string   `yaml:"port"`
	LogLevel        string   `yaml:"logLevel"`
	CORSOrigins     []string `yaml:"corsOrigins"`
	StoreBackend    string   `yaml:"storeBackend"`
	ObjectBackend   string   `yaml:"objectBackend"`
	SessionBackend  string   `yaml:"sessionBackend"`
	EventsBackend   string   `yaml:"eventsBackend"`
	CleanupWorkers  int      `yaml:"cleanupWorkers"`
	MaxUploadBytes  int64    `yaml:"maxUploadBytes"`
	PublicFilesPath string   `yaml:"publicFilesPath"`

	DatabaseURL        string `yaml:"databaseURL"`
	FirestoreProjectID string `yaml:"firestoreProjectId"`
	MongoURL           string `yaml:"mongoURL"`
	MongoDatabase      string `yaml:"mongoDatabase"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	GCSBucket      string `yaml:"gcsBucket"`
	FileStorePath  string `yaml:"fileStorePath"`
	PublicBaseURL  string `yaml:"publicBaseURL"`
	PresignExpiry  string `yaml:"presignExpiry"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	AMQPURL       string `yaml:"amqpURL"`
	AMQPExchange  string `yaml:"amqpExchange"`

	SessionTTL               string   `yaml:"sessionTTL"`
	JWTSecret                string   `yaml:"jwtSecret"`
	JWTPrivateKeyPath        string   `yaml:"jwtPrivateKeyPath"`
	JWTPublicKeyPath         string   `yaml:"jwtPublicKeyPath"`
	JWTKeyID                 string   `yaml:"jwtKeyId"`
	JWTVerifyPublicKeys      []string `yaml:"jwtVerifyPublicKeys"`
	JWTIssuer                string   `yaml:"jwtIssuer"`
	JWTAudience              string   `yaml:"jwtAudience"`
	JWTLeeway                string   `yaml:"jwtLeeway"`
	TrustedProxyCIDRs        []string `yaml:"trustedProxyCidrs"`
	SignupRateLimitPerMinute int      `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute  int      `yaml:"loginRateLimitPerMinute"`
}

// Load reads config from path (defaults to ConfigPath), applies environment
// overrides and validates the result.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	stringEnv := map[string]*string{
		"ARTVISTA_PORT":            &cfg.Port,
		"ARTVISTA_LOG_LEVEL":       &cfg.LogLevel,
		"ARTVISTA_STORE_BACKEND":   &cfg.StoreBackend,
		"ARTVISTA_OBJECT_BACKEND":  &cfg.ObjectBackend,
		"ARTVISTA_SESSION_BACKEND": &cfg.SessionBackend,
		"ARTVISTA_EVENTS_BACKEND":  &cfg.EventsBackend,
		"ARTVISTA_PUBLIC_BASE_URL": &cfg.PublicBaseURL,
		"ARTVISTA_FILE_STORE_PATH": &cfg.FileStorePath,
		"ARTVISTA_JWT_SECRET":      &cfg.JWTSecret,
		"ARTVISTA_SESSION_TTL":     &cfg.SessionTTL,
		"DATABASE_URL":             &cfg.DatabaseURL,
		"FIRESTORE_PROJECT_ID":     &cfg.FirestoreProjectID,
		"MONGO_URL":                &cfg.MongoURL,
		"GCS_BUCKET":               &cfg.GCSBucket,
		"MINIO_ENDPOINT":           &cfg.MinioEndpoint,
		"MINIO_ACCESS_KEY":         &cfg.MinioAccessKey,
		"MINIO_SECRET_KEY":         &cfg.MinioSecretKey,
		"MINIO_BUCKET":             &cfg.MinioBucket,
		"REDIS_ADDR":               &cfg.RedisAddr,
		"REDIS_PASSWORD":           &cfg.RedisPassword,
		"AMQP_URL":                 &cfg.AMQPURL,
		"JWT_ISSUER":               &cfg.JWTIssuer,
		"JWT_AUDIENCE":             &cfg.JWTAudience,
		"JWT_LEEWAY":               &cfg.JWTLeeway,
	}
	for name, target := range stringEnv {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*target = v
		}
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("ARTVISTA_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("ARTVISTA_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("ARTVISTA_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("ARTVISTA_SIGNUP_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SignupRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("ARTVISTA_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "postgres"
	}
	if cfg.ObjectBackend == "" {
		cfg.ObjectBackend = "minio"
	}
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = "jwt"
	}
	if cfg.EventsBackend == "" {
		cfg.EventsBackend = "none"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.PublicFilesPath == "" {
		cfg.PublicFilesPath = "/files/"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.StoreBackend {
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for the postgres store (set in config.yaml or DATABASE_URL)")
		}
	case "firestore":
		if strings.TrimSpace(cfg.FirestoreProjectID) == "" {
			return errors.New("config: firestoreProjectId is required for the firestore store")
		}
	case "mongo":
		if strings.TrimSpace(cfg.MongoURL) == "" {
			return errors.New("config: mongoURL is required for the mongo store")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown storeBackend %q", cfg.StoreBackend)
	}
	switch cfg.ObjectBackend {
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required for the minio object store")
		}
	case "gcs":
		if cfg.GCSBucket == "" {
			return errors.New("config: gcsBucket is required for the gcs object store")
		}
	case "file":
		if strings.TrimSpace(cfg.FileStorePath) == "" {
			return errors.New("config: fileStorePath is required for the file object store")
		}
	default:
		return fmt.Errorf("config: unknown objectBackend %q", cfg.ObjectBackend)
	}
	switch cfg.SessionBackend {
	case "jwt":
		if cfg.JWTPrivateKeyPath == "" && len(cfg.JWTSecret) < 32 {
			return errors.New("config: jwtSecret of at least 32 bytes or jwtPrivateKeyPath is required for jwt sessions")
		}
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for redis sessions")
		}
	default:
		return fmt.Errorf("config: unknown sessionBackend %q", cfg.SessionBackend)
	}
	switch cfg.EventsBackend {
	case "none":
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for redis events")
		}
	case "amqp":
		if strings.TrimSpace(cfg.AMQPURL) == "" {
			return errors.New("config: amqpURL is required for amqp events")
		}
	default:
		return fmt.Errorf("config: unknown eventsBackend %q", cfg.EventsBackend)
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.CleanupWorkers < 0 {
		return errors.New("config: cleanupWorkers must be >= 0")
	}
	for _, d := range []struct{ name, value string }{
		{"sessionTTL", cfg.SessionTTL},
		{"jwtLeeway", cfg.JWTLeeway},
		{"presignExpiry", cfg.PresignExpiry},
	} {
		if _, err := ParseDuration(d.value); err != nil {
			return fmt.Errorf("config: %s: %w", d.name, err)
		}
	}
	if _, err := ParseVerifyKeys(cfg.JWTVerifyPublicKeys); err != nil {
		return err
	}
	return nil
}

// ParseDuration parses an optional duration string. Blank means zero.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return dur, nil
}

// ParseVerifyKeys turns "kid=path" entries into a map.
func ParseVerifyKeys(entries []string) (map[string]string, error) {
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		kid, path, ok := strings.Cut(entry, "=")
		kid, path = strings.TrimSpace(kid), strings.TrimSpace(path)
		if !ok || kid == "" || path == "" {
			return nil, fmt.Errorf("config: jwtVerifyPublicKeys entry %q must be kid=path", entry)
		}
		out[kid] = path
	}
	return out, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

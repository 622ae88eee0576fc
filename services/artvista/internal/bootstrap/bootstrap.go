// Package bootstrap builds the configured backends shared by the server and
// the seed tool.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"artvista/pkg/events"
	"artvista/pkg/storage"
	"artvista/pkg/store"
	"artvista/services/artvista/internal/config"
)

const defaultSessionTTL = 24 * time.Hour

// NewRedisClient returns nil when no Redis address is configured.
func NewRedisClient(cfg config.FileConfig) redis.UniversalClient {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
}

func NewDocumentStore(ctx context.Context, cfg config.FileConfig) (store.Store, error) {
	switch cfg.StoreBackend {
	case "postgres":
		return store.NewGormStore(cfg.DatabaseURL)
	case "firestore":
		return store.NewFirestoreStore(ctx, cfg.FirestoreProjectID)
	case "mongo":
		database := cfg.MongoDatabase
		if database == "" {
			database = "artvista"
		}
		return store.NewMongoStore(ctx, cfg.MongoURL, database)
	case "memory":
		slog.Warn("using in-memory document store; data is lost on restart")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// NewObjectStore also returns the directory to serve over HTTP when objects
// live on local disk.
func NewObjectStore(ctx context.Context, cfg config.FileConfig) (storage.ObjectStore, string, error) {
	expiry, err := config.ParseDuration(cfg.PresignExpiry)
	if err != nil {
		return nil, "", err
	}
	switch cfg.ObjectBackend {
	case "minio":
		s, err := storage.NewMinioStore(storage.MinioOptions{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.PublicBaseURL,
			PresignExpiry: expiry,
		})
		return s, "", err
	case "gcs":
		s, err := storage.NewGCSStore(ctx, cfg.GCSBucket, cfg.PublicBaseURL, expiry)
		return s, "", err
	case "file":
		base := cfg.PublicBaseURL
		if base == "" {
			base = "http://localhost:" + cfg.Port + cfg.PublicFilesPath
		}
		root, err := filepath.Abs(cfg.FileStorePath)
		if err != nil {
			return nil, "", err
		}
		s, err := storage.NewFileStore(root, base)
		if err != nil {
			return nil, "", err
		}
		return s, s.Root(), nil
	default:
		return nil, "", fmt.Errorf("unknown object backend %q", cfg.ObjectBackend)
	}
}

func NewSessionStore(cfg config.FileConfig, client redis.UniversalClient) (store.SessionStore, error) {
	ttl, err := config.ParseDuration(cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if cfg.SessionBackend == "redis" {
		return store.NewRedisSessionStore(client, ttl), nil
	}

	var revoker store.TokenRevoker
	if client != nil {
		revoker = store.NewRedisTokenRevoker(client, ttl)
	} else {
		slog.Warn("jwt revocations kept in memory; they do not survive restarts or span replicas")
		revoker = store.NewMemoryTokenRevoker()
	}
	leeway, err := config.ParseDuration(cfg.JWTLeeway)
	if err != nil {
		return nil, err
	}
	opts := store.JWTOptions{Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience, Leeway: leeway}
	if cfg.JWTPrivateKeyPath != "" {
		verifyKeys, err := config.ParseVerifyKeys(cfg.JWTVerifyPublicKeys)
		if err != nil {
			return nil, err
		}
		return store.NewJWTRS256SessionStore(store.RSAKeyFiles{
			PrivateKeyPath: cfg.JWTPrivateKeyPath,
			PublicKeyPath:  cfg.JWTPublicKeyPath,
			KeyID:          cfg.JWTKeyID,
			VerifyKeys:     verifyKeys,
		}, ttl, revoker, opts)
	}
	return store.NewJWTHS256SessionStore(cfg.JWTSecret, ttl, revoker, opts)
}

// NewEvents returns the publisher and, when the transport supports fan-out to
// websocket clients, the subscriber.
func NewEvents(cfg config.FileConfig, client redis.UniversalClient) (events.Publisher, events.Subscriber, error) {
	switch cfg.EventsBackend {
	case "redis":
		bus := events.NewRedisBus(client, "")
		return bus, bus, nil
	case "amqp":
		pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		return pub, nil, nil
	default:
		return events.Nop{}, nil, nil
	}
}

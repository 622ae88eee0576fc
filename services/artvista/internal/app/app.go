package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"artvista/internal/util"
	"artvista/pkg/domain"
	"artvista/pkg/events"
	"artvista/pkg/queue"
	"artvista/pkg/store"
	"artvista/pkg/storage"
)

const (
	// maxWriteAttempts bounds the read/compare-and-swap loop on likes and
	// comments.
	maxWriteAttempts = 5

	defaultMaxUploadBytes = 10 << 20
	imageKeyPrefix        = "images/"
)

// ImageCleaner schedules removal of an image object that is no longer
// referenced.
type ImageCleaner interface {
	Enqueue(ctx context.Context, objectKey, artworkID string) (queue.CleanupJob, error)
}

// Config holds the collaborators of the core application.
type Config struct {
	Store          store.Store
	Sessions       store.SessionStore
	Objects        storage.ObjectStore
	Events         events.Publisher
	Cleaner        ImageCleaner
	HTTPClient     *http.Client
	MaxUploadBytes int64
}

// App is the core application service wiring together storage and domain logic.
type App struct {
	store          store.Store
	sessions       store.SessionStore
	objects        storage.ObjectStore
	events         events.Publisher
	cleaner        ImageCleaner
	httpClient     *http.Client
	maxUploadBytes int64
}

// New validates cfg and constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("app: store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("app: session store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("app: object store required")
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &App{
		store:          cfg.Store,
		sessions:       cfg.Sessions,
		objects:        cfg.Objects,
		events:         cfg.Events,
		cleaner:        cfg.Cleaner,
		httpClient:     cfg.HTTPClient,
		maxUploadBytes: cfg.MaxUploadBytes,
	}, nil
}

// MaxUploadBytes is the largest accepted image.
func (a *App) MaxUploadBytes() int64 { return a.maxUploadBytes }

// CleanupImage deletes an image object. It is the handler of the image
// cleanup queue.
func (a *App) CleanupImage(ctx context.Context, job queue.CleanupJob) error {
	return a.objects.Delete(ctx, job.ObjectKey)
}

// Ping checks that the document store answers.
func (a *App) Ping(ctx context.Context) error {
	if _, _, err := a.store.GetUserByID(ctx, "healthz"); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the store and the event publisher.
func (a *App) Close() error {
	return errors.Join(a.events.Close(), a.store.Close())
}

func (a *App) publish(ctx context.Context, ev events.Event) {
	ev.At = time.Now().UTC()
	ev.RequestID = util.RequestIDFromContext(ctx)
	if err := a.events.Publish(ctx, ev); err != nil {
		util.LoggerFromContext(ctx).Warn("publish event failed", "type", ev.Type, "artwork_id", ev.ArtworkID, "err", err)
	}
}

func requireSession(s domain.Session) error {
	if s.UserID == "" {
		return ErrUnauthenticated
	}
	return nil
}

// retryOnConflict runs attempt until it stops failing with a version
// conflict, at most maxWriteAttempts times.
func retryOnConflict(ctx context.Context, attempt func() error) error {
	for i := 0; i < maxWriteAttempts; i++ {
		err := attempt()
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return ErrWriteConflict
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSStore implements ObjectStore on a Google Cloud Storage bucket.
type GCSStore struct {
	client        *storage.Client
	bucket        string
	publicBase    string
	presignExpiry time.Duration
}

// NewGCSStore creates a client using application default credentials.
func NewGCSStore(ctx context.Context, bucket, publicBaseURL string, presignExpiry time.Duration) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("while creating storage client: %w", err)
	}
	return &GCSStore{
		client:        client,
		bucket:        bucket,
		publicBase:    strings.TrimRight(publicBaseURL, "/"),
		presignExpiry: clampExpiry(presignExpiry),
	}, nil
}

// Put writes the object only if the key is unused.
func (g *GCSStore) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	obj := g.client.Bucket(g.bucket).Object(key)
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("while writing object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return ErrObjectExists
		}
		return fmt.Errorf("while closing object writer: %w", err)
	}
	return nil
}

// URL returns the public URL or a V4 signed GET URL.
func (g *GCSStore) URL(_ context.Context, key string) (string, error) {
	if g.publicBase != "" {
		return PublicURL(g.publicBase, key), nil
	}
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().UTC().Add(g.presignExpiry),
	}
	u, err := g.client.Bucket(g.bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("while signing url for %s: %w", key, err)
	}
	return u, nil
}

func (g *GCSStore) Delete(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("while deleting object %s: %w", key, err)
	}
	return nil
}

func (g *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.client.Bucket(g.bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("while reading attrs of %s: %w", key, err)
	}
	return true, nil
}

func (g *GCSStore) Close() error {
	return g.client.Close()
}

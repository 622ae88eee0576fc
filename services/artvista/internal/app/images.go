package app

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"artvista/internal/util"
	"artvista/pkg/domain"
)

// UploadImage stores image bytes under a fresh images/<userID>/<uuid> key and returns
// the key with a fetchable URL. A blank or generic content type is sniffed
// from the first bytes.
func (a *App) UploadImage(ctx context.Context, s domain.Session, r io.Reader, size int64, contentType string) (domain.ImageRef, error) {
	const op = "upload image"
	if err := requireSession(s); err != nil {
		return domain.ImageRef{}, err
	}
	if size > a.maxUploadBytes {
		return domain.ImageRef{}, ErrImageTooLarge
	}
	br := bufio.NewReaderSize(r, 512)
	head, _ := br.Peek(512)
	if len(head) == 0 {
		return domain.ImageRef{}, invalid(op, "image is empty")
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(head)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return domain.ImageRef{}, ErrNotImage
	}

	key := imageKeyPrefix + s.UserID + "/" + util.NewUUID()
	if err := a.objects.Put(ctx, key, br, size, contentType); err != nil {
		return domain.ImageRef{}, unavailable(op, err)
	}
	u, err := a.objects.URL(ctx, key)
	if err != nil {
		return domain.ImageRef{}, unavailable(op, err)
	}
	util.LoggerFromContext(ctx).Info("image uploaded", "key", key, "user_id", s.UserID, "content_type", contentType)
	return domain.ImageRef{Path: key, URL: u}, nil
}

// UploadImageFromURI fetches a local file path, file:// URI or http(s) URL
// and uploads its bytes.
func (a *App) UploadImageFromURI(ctx context.Context, s domain.Session, uri string) (domain.ImageRef, error) {
	const op = "upload image from uri"
	if err := requireSession(s); err != nil {
		return domain.ImageRef{}, err
	}
	parsed, err := url.Parse(strings.TrimSpace(uri))
	if err != nil || uri == "" {
		return domain.ImageRef{}, invalid(op, "invalid image uri")
	}

	var (
		body        io.ReadCloser
		contentType string
	)
	switch parsed.Scheme {
	case "", "file":
		path := parsed.Path
		if parsed.Scheme == "" {
			path = uri
		}
		f, err := os.Open(path)
		if err != nil {
			return domain.ImageRef{}, invalid(op, fmt.Sprintf("cannot open %s", path))
		}
		body = f
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
		if err != nil {
			return domain.ImageRef{}, invalid(op, "invalid image uri")
		}
		resp, err := a.httpClient.Do(req)
		if err != nil {
			return domain.ImageRef{}, domain.E(domain.KindUnavailable, op, "image fetch failed", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return domain.ImageRef{}, invalid(op, fmt.Sprintf("image fetch returned %d", resp.StatusCode))
		}
		body = resp.Body
		contentType = resp.Header.Get("Content-Type")
	default:
		return domain.ImageRef{}, invalid(op, "unsupported uri scheme "+parsed.Scheme)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, a.maxUploadBytes+1))
	if err != nil {
		return domain.ImageRef{}, domain.E(domain.KindUnavailable, op, "image read failed", err)
	}
	if int64(len(data)) > a.maxUploadBytes {
		return domain.ImageRef{}, ErrImageTooLarge
	}
	return a.UploadImage(ctx, s, bytes.NewReader(data), int64(len(data)), contentType)
}

// ownedImage checks that key is a clean image key under the caller's prefix
// and that the object was actually stored.
func (a *App) ownedImage(ctx context.Context, op string, s domain.Session, key string) error {
	if key == "" || path.Clean(key) != key || !strings.HasPrefix(key, imageKeyPrefix) {
		return ErrImageNotFound
	}
	owner, name, ok := strings.Cut(strings.TrimPrefix(key, imageKeyPrefix), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return ErrImageNotFound
	}
	if owner != s.UserID {
		return ErrImageNotOwned
	}
	exists, err := a.objects.Exists(ctx, key)
	if err != nil {
		return unavailable(op, err)
	}
	if !exists {
		return ErrImageNotFound
	}
	return nil
}

// imageOwnedBy reports whether key sits under userID's image prefix.
func imageOwnedBy(userID, key string) bool {
	return userID != "" && path.Clean(key) == key && strings.HasPrefix(key, imageKeyPrefix+userID+"/")
}

package store

import (
	"context"
	"errors"
	"time"

	"artvista/pkg/domain"
)

// Collection names shared by every backend.
const (
	CollectionArtworks = "artworks"
	CollectionLikes    = "likes"
	CollectionComments = "comments"
	CollectionUsers    = "users"
)

var (
	// ErrVersionConflict is returned by compare-and-swap writes when the
	// stored document changed since it was read.
	ErrVersionConflict = errors.New("store: version conflict")
	// ErrNotFound is returned by writes that target a missing document.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique key (email) is already taken.
	ErrDuplicate = errors.New("store: duplicate key")
)

// Store defines persistence operations for users, artworks, likes and
// comments. Lookups return (value, found, err) so absence is never an error.
type Store interface {
	// users
	SaveUser(ctx context.Context, u domain.User) error
	HasUserEmail(ctx context.Context, email string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	UpdateUserProfile(ctx context.Context, id string, patch domain.ProfilePatch) (domain.User, bool, error)
	SearchUsersByPrefix(ctx context.Context, prefix string, page domain.Page) ([]domain.User, error)

	// artworks
	CreateArtwork(ctx context.Context, a domain.Artwork) error
	GetArtwork(ctx context.Context, id string) (domain.Artwork, bool, error)
	ListArtworks(ctx context.Context, order domain.SortOrder, page domain.Page) ([]domain.Artwork, error)
	ListArtworksByUser(ctx context.Context, userID string, page domain.Page) ([]domain.Artwork, error)
	CountArtworksByUser(ctx context.Context, userID string) (int, error)
	ListArtworksByHashtag(ctx context.Context, tag string, page domain.Page) ([]domain.Artwork, error)
	SearchArtworksByText(ctx context.Context, term string, page domain.Page) ([]domain.Artwork, error)
	DeleteArtwork(ctx context.Context, id string) error

	// likes
	GetLikeSet(ctx context.Context, artworkID string) (domain.LikeSet, bool, error)
	ReplaceLikes(ctx context.Context, artworkID string, userIDs []string, expectedVersion int64) (domain.LikeSet, error)

	// comments
	GetCommentThread(ctx context.Context, artworkID string) (domain.CommentThread, bool, error)
	ReplaceComments(ctx context.Context, artworkID string, comments []domain.Comment, expectedVersion int64) (domain.CommentThread, error)

	Close() error
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// UserSessionRevoker is an optional capability that revokes all sessions
// issued for a user since a cutoff time.
type UserSessionRevoker interface {
	RevokeUserSessions(userID string, since time.Time) error
}

// JWK represents a JSON Web Key entry used by JWKS endpoints.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKSProvider is an optional capability exposed by session stores that can
// publish JSON Web Keys.
type JWKSProvider interface {
	JWKS() []JWK
}

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"artvista/pkg/domain"
)

// MemoryStore keeps every collection in-process. It is used by tests and
// single-instance development setups.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User // key: user ID
	email    map[string]string      // email -> user ID
	artworks map[string]domain.Artwork
	order    []string // artwork IDs in insertion order
	likes    map[string]domain.LikeSet
	comments map[string]domain.CommentThread
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		email:    make(map[string]string),
		artworks: make(map[string]domain.Artwork),
		likes:    make(map[string]domain.LikeSet),
		comments: make(map[string]domain.CommentThread),
	}
}

// SaveUser registers or replaces a user. A different user holding the same
// email is rejected with ErrDuplicate.
func (m *MemoryStore) SaveUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.email[u.Email]; ok && owner != u.ID {
		return ErrDuplicate
	}
	if prev, ok := m.users[u.ID]; ok && prev.Email != u.Email {
		delete(m.email, prev.Email)
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) UpdateUserProfile(_ context.Context, id string, patch domain.ProfilePatch) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, false, nil
	}
	applyProfilePatch(&u, patch)
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return u, true, nil
}

// SearchUsersByPrefix matches the lower-cased username prefix, ordered by
// username.
func (m *MemoryStore) SearchUsersByPrefix(_ context.Context, prefix string, page domain.Page) ([]domain.User, error) {
	prefix = strings.ToLower(prefix)
	m.mu.RLock()
	res := make([]domain.User, 0)
	for _, u := range m.users {
		if strings.HasPrefix(u.UsernameLower, prefix) {
			res = append(res, u)
		}
	}
	m.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].UsernameLower < res[j].UsernameLower })
	return pageSlice(res, page), nil
}

// CreateArtwork stores the artwork together with its empty like set and
// comment thread under one lock.
func (m *MemoryStore) CreateArtwork(_ context.Context, a domain.Artwork) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.artworks[a.ID]; exists {
		return ErrDuplicate
	}
	m.artworks[a.ID] = cloneArtwork(a)
	m.order = append(m.order, a.ID)
	m.likes[a.ID] = domain.LikeSet{ArtworkID: a.ID, UserIDs: []string{}}
	m.comments[a.ID] = domain.CommentThread{ArtworkID: a.ID, Comments: []domain.Comment{}}
	return nil
}

func (m *MemoryStore) GetArtwork(_ context.Context, id string) (domain.Artwork, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.artworks[id]
	if !ok {
		return domain.Artwork{}, false, nil
	}
	return cloneArtwork(a), true, nil
}

func (m *MemoryStore) ListArtworks(_ context.Context, order domain.SortOrder, page domain.Page) ([]domain.Artwork, error) {
	return m.filterArtworks(order, page, func(domain.Artwork) bool { return true }), nil
}

func (m *MemoryStore) ListArtworksByUser(_ context.Context, userID string, page domain.Page) ([]domain.Artwork, error) {
	return m.filterArtworks(domain.OrderNewest, page, func(a domain.Artwork) bool {
		return a.UserID == userID
	}), nil
}

func (m *MemoryStore) CountArtworksByUser(_ context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.artworks {
		if a.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListArtworksByHashtag(_ context.Context, tag string, page domain.Page) ([]domain.Artwork, error) {
	return m.filterArtworks(domain.OrderNewest, page, func(a domain.Artwork) bool {
		for _, h := range a.Hashtags {
			if h == tag {
				return true
			}
		}
		return false
	}), nil
}

func (m *MemoryStore) SearchArtworksByText(_ context.Context, term string, page domain.Page) ([]domain.Artwork, error) {
	return m.filterArtworks(domain.OrderNewest, page, func(a domain.Artwork) bool {
		return matchesText(a, term)
	}), nil
}

func (m *MemoryStore) filterArtworks(order domain.SortOrder, page domain.Page, keep func(domain.Artwork) bool) []domain.Artwork {
	m.mu.RLock()
	res := make([]domain.Artwork, 0, len(m.order))
	for _, id := range m.order {
		if a, ok := m.artworks[id]; ok && keep(a) {
			res = append(res, cloneArtwork(a))
		}
	}
	m.mu.RUnlock()
	sortArtworks(res, order)
	return pageSlice(res, page)
}

// DeleteArtwork removes only the artwork document. Its like set and comment
// thread are left in place.
func (m *MemoryStore) DeleteArtwork(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.artworks, id)
	filtered := m.order[:0]
	for _, item := range m.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.order = filtered
	return nil
}

func (m *MemoryStore) GetLikeSet(_ context.Context, artworkID string) (domain.LikeSet, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.likes[artworkID]
	if !ok {
		return domain.LikeSet{}, false, nil
	}
	set.UserIDs = cloneStrings(set.UserIDs)
	return set, true, nil
}

func (m *MemoryStore) ReplaceLikes(_ context.Context, artworkID string, userIDs []string, expectedVersion int64) (domain.LikeSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.likes[artworkID]
	if !ok {
		return domain.LikeSet{}, ErrNotFound
	}
	if set.Version != expectedVersion {
		return domain.LikeSet{}, ErrVersionConflict
	}
	set.UserIDs = cloneStrings(userIDs)
	set.Version++
	m.likes[artworkID] = set
	set.UserIDs = cloneStrings(set.UserIDs)
	return set, nil
}

func (m *MemoryStore) GetCommentThread(_ context.Context, artworkID string) (domain.CommentThread, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	thread, ok := m.comments[artworkID]
	if !ok {
		return domain.CommentThread{}, false, nil
	}
	thread.Comments = cloneComments(thread.Comments)
	return thread, true, nil
}

func (m *MemoryStore) ReplaceComments(_ context.Context, artworkID string, comments []domain.Comment, expectedVersion int64) (domain.CommentThread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	thread, ok := m.comments[artworkID]
	if !ok {
		return domain.CommentThread{}, ErrNotFound
	}
	if thread.Version != expectedVersion {
		return domain.CommentThread{}, ErrVersionConflict
	}
	thread.Comments = cloneComments(comments)
	thread.Version++
	m.comments[artworkID] = thread
	thread.Comments = cloneComments(thread.Comments)
	return thread, nil
}

func (m *MemoryStore) Close() error { return nil }

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"artvista/pkg/domain"
)

// prefixRangeEnd closes a Firestore range query so that it matches every
// string starting with the prefix.
const prefixRangeEnd = "\uf8ff"

type firestoreUser struct {
	ID              string    `firestore:"userId"`
	Username        string    `firestore:"username"`
	UsernameLower   string    `firestore:"usernameLower"`
	Email           string    `firestore:"email"`
	PasswordHash    string    `firestore:"passwordHash"`
	ProfileImageURL string    `firestore:"profileImageUrl"`
	ProfileImageKey string    `firestore:"profileImagePath"`
	Bio             string    `firestore:"bio"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

type firestoreCoords struct {
	Latitude  float64 `firestore:"latitude"`
	Longitude float64 `firestore:"longitude"`
}

type firestoreArtwork struct {
	ID          string           `firestore:"id"`
	UserID      string           `firestore:"userId"`
	Artist      string           `firestore:"artist"`
	Title       string           `firestore:"title"`
	Description string           `firestore:"description"`
	ImageURL    string           `firestore:"imageURL"`
	ImagePath   string           `firestore:"imagePath"`
	Hashtags    []string         `firestore:"hashtags"`
	Date        time.Time        `firestore:"date"`
	Coords      *firestoreCoords `firestore:"artworkCoords,omitempty"`
}

type firestoreLikes struct {
	UserIDs []string `firestore:"userIds"`
	Version int64    `firestore:"version"`
}

type firestoreComment struct {
	CommentID     string    `firestore:"commentId"`
	CommentAuthor string    `firestore:"commentAuthor"`
	Comment       string    `firestore:"comment"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

type firestoreComments struct {
	Comments []firestoreComment `firestore:"comments"`
	Version  int64              `firestore:"version"`
}

// FirestoreStore persists every collection as Firestore documents. Like and
// comment documents share the artwork's document ID.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore opens a client for the given GCP project.
func NewFirestoreStore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("while creating firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

// NewFirestoreStoreWithClient wraps an existing client.
func NewFirestoreStoreWithClient(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) users() *firestore.CollectionRef {
	return s.client.Collection(CollectionUsers)
}

func (s *FirestoreStore) artworks() *firestore.CollectionRef {
	return s.client.Collection(CollectionArtworks)
}

func (s *FirestoreStore) SaveUser(ctx context.Context, u domain.User) error {
	ref := s.users().Doc(u.ID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, txn *firestore.Transaction) error {
		iter := txn.Documents(s.users().Where("email", "==", u.Email).Limit(1))
		defer iter.Stop()
		snap, err := iter.Next()
		if err != nil && err != iterator.Done {
			return fmt.Errorf("while checking email: %w", err)
		}
		if err == nil && snap.Ref.ID != u.ID {
			return ErrDuplicate
		}
		return txn.Set(ref, userToFirestore(u))
	})
	if err != nil {
		return fmt.Errorf("while saving user %s: %w", u.ID, err)
	}
	return nil
}

func (s *FirestoreStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	_, ok, err := s.GetUserByEmail(ctx, email)
	return ok, err
}

func (s *FirestoreStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	iter := s.users().Where("email", "==", email).Limit(1).Documents(ctx)
	defer iter.Stop()
	snap, err := iter.Next()
	if err == iterator.Done {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("while querying user by email: %w", err)
	}
	return decodeUser(snap)
}

func (s *FirestoreStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	snap, err := s.users().Doc(id).Get(ctx)
	if isNotFound(err) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("while reading user %s: %w", id, err)
	}
	return decodeUser(snap)
}

func (s *FirestoreStore) UpdateUserProfile(ctx context.Context, id string, patch domain.ProfilePatch) (domain.User, bool, error) {
	var updated domain.User
	ref := s.users().Doc(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, txn *firestore.Transaction) error {
		snap, err := txn.Get(ref)
		if err != nil {
			return err
		}
		doc := firestoreUser{}
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("while deserializing user: %w", err)
		}
		u := userFromFirestore(doc)
		applyProfilePatch(&u, patch)
		u.UpdatedAt = time.Now().UTC()
		updated = u
		return txn.Set(ref, userToFirestore(u))
	})
	if isNotFound(err) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("while updating user %s: %w", id, err)
	}
	return updated, true, nil
}

func (s *FirestoreStore) SearchUsersByPrefix(ctx context.Context, prefix string, page domain.Page) ([]domain.User, error) {
	prefix = strings.ToLower(prefix)
	page = page.Normalize()
	q := s.users().
		Where("usernameLower", ">=", prefix).
		Where("usernameLower", "<=", prefix+prefixRangeEnd).
		OrderBy("usernameLower", firestore.Asc).
		Offset(page.Offset).
		Limit(page.Limit)
	iter := q.Documents(ctx)
	defer iter.Stop()
	out := make([]domain.User, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("while iterating users: %w", err)
		}
		u, _, err := decodeUser(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// CreateArtwork writes the artwork and its empty like and comment documents
// in one transaction.
func (s *FirestoreStore) CreateArtwork(ctx context.Context, a domain.Artwork) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, txn *firestore.Transaction) error {
		if err := txn.Create(s.artworks().Doc(a.ID), artworkToFirestore(a)); err != nil {
			return err
		}
		if err := txn.Create(s.client.Collection(CollectionLikes).Doc(a.ID), firestoreLikes{UserIDs: []string{}}); err != nil {
			return err
		}
		return txn.Create(s.client.Collection(CollectionComments).Doc(a.ID), firestoreComments{Comments: []firestoreComment{}})
	})
	if status.Code(err) == codes.AlreadyExists {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("while creating artwork %s: %w", a.ID, err)
	}
	return nil
}

func (s *FirestoreStore) GetArtwork(ctx context.Context, id string) (domain.Artwork, bool, error) {
	snap, err := s.artworks().Doc(id).Get(ctx)
	if isNotFound(err) {
		return domain.Artwork{}, false, nil
	}
	if err != nil {
		return domain.Artwork{}, false, fmt.Errorf("while reading artwork %s: %w", id, err)
	}
	a, err := decodeArtwork(snap)
	if err != nil {
		return domain.Artwork{}, false, err
	}
	return a, true, nil
}

func (s *FirestoreStore) ListArtworks(ctx context.Context, order domain.SortOrder, page domain.Page) ([]domain.Artwork, error) {
	return s.queryArtworks(ctx, pageQuery(s.artworks().OrderBy("date", direction(order)), page))
}

func (s *FirestoreStore) ListArtworksByUser(ctx context.Context, userID string, page domain.Page) ([]domain.Artwork, error) {
	q := s.artworks().Where("userId", "==", userID).OrderBy("date", firestore.Desc)
	return s.queryArtworks(ctx, pageQuery(q, page))
}

func (s *FirestoreStore) CountArtworksByUser(ctx context.Context, userID string) (int, error) {
	iter := s.artworks().Where("userId", "==", userID).Select().Documents(ctx)
	defer iter.Stop()
	n := 0
	for {
		_, err := iter.Next()
		if err == iterator.Done {
			return n, nil
		}
		if err != nil {
			return 0, fmt.Errorf("while counting artworks for %s: %w", userID, err)
		}
		n++
	}
}

func (s *FirestoreStore) ListArtworksByHashtag(ctx context.Context, tag string, page domain.Page) ([]domain.Artwork, error) {
	q := s.artworks().Where("hashtags", "array-contains", tag).OrderBy("date", firestore.Desc)
	return s.queryArtworks(ctx, pageQuery(q, page))
}

// SearchArtworksByText filters client-side since Firestore has no substring
// operator.
func (s *FirestoreStore) SearchArtworksByText(ctx context.Context, term string, page domain.Page) ([]domain.Artwork, error) {
	all, err := s.queryArtworks(ctx, s.artworks().OrderBy("date", firestore.Desc))
	if err != nil {
		return nil, err
	}
	matched := make([]domain.Artwork, 0)
	for _, a := range all {
		if matchesText(a, term) {
			matched = append(matched, a)
		}
	}
	return pageSlice(matched, page), nil
}

func (s *FirestoreStore) queryArtworks(ctx context.Context, q firestore.Query) ([]domain.Artwork, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()
	out := make([]domain.Artwork, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("while iterating artworks: %w", err)
		}
		a, err := decodeArtwork(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
}

// DeleteArtwork removes only the artwork document.
func (s *FirestoreStore) DeleteArtwork(ctx context.Context, id string) error {
	if _, err := s.artworks().Doc(id).Delete(ctx); err != nil && !isNotFound(err) {
		return fmt.Errorf("while deleting artwork %s: %w", id, err)
	}
	return nil
}

func (s *FirestoreStore) GetLikeSet(ctx context.Context, artworkID string) (domain.LikeSet, bool, error) {
	snap, err := s.client.Collection(CollectionLikes).Doc(artworkID).Get(ctx)
	if isNotFound(err) {
		return domain.LikeSet{}, false, nil
	}
	if err != nil {
		return domain.LikeSet{}, false, fmt.Errorf("while reading likes %s: %w", artworkID, err)
	}
	doc := firestoreLikes{}
	if err := snap.DataTo(&doc); err != nil {
		return domain.LikeSet{}, false, fmt.Errorf("while deserializing likes: %w", err)
	}
	return domain.LikeSet{ArtworkID: artworkID, UserIDs: nonNil(doc.UserIDs), Version: doc.Version}, true, nil
}

func (s *FirestoreStore) ReplaceLikes(ctx context.Context, artworkID string, userIDs []string, expectedVersion int64) (domain.LikeSet, error) {
	ref := s.client.Collection(CollectionLikes).Doc(artworkID)
	next := firestoreLikes{UserIDs: nonNil(userIDs), Version: expectedVersion + 1}
	if err := s.compareAndSet(ctx, ref, expectedVersion, next); err != nil {
		return domain.LikeSet{}, err
	}
	return domain.LikeSet{ArtworkID: artworkID, UserIDs: cloneStrings(next.UserIDs), Version: next.Version}, nil
}

func (s *FirestoreStore) GetCommentThread(ctx context.Context, artworkID string) (domain.CommentThread, bool, error) {
	snap, err := s.client.Collection(CollectionComments).Doc(artworkID).Get(ctx)
	if isNotFound(err) {
		return domain.CommentThread{}, false, nil
	}
	if err != nil {
		return domain.CommentThread{}, false, fmt.Errorf("while reading comments %s: %w", artworkID, err)
	}
	doc := firestoreComments{}
	if err := snap.DataTo(&doc); err != nil {
		return domain.CommentThread{}, false, fmt.Errorf("while deserializing comments: %w", err)
	}
	comments := make([]domain.Comment, 0, len(doc.Comments))
	for _, c := range doc.Comments {
		comments = append(comments, domain.Comment(c))
	}
	return domain.CommentThread{ArtworkID: artworkID, Comments: comments, Version: doc.Version}, true, nil
}

func (s *FirestoreStore) ReplaceComments(ctx context.Context, artworkID string, comments []domain.Comment, expectedVersion int64) (domain.CommentThread, error) {
	ref := s.client.Collection(CollectionComments).Doc(artworkID)
	next := firestoreComments{Comments: make([]firestoreComment, 0, len(comments)), Version: expectedVersion + 1}
	for _, c := range comments {
		next.Comments = append(next.Comments, firestoreComment(c))
	}
	if err := s.compareAndSet(ctx, ref, expectedVersion, next); err != nil {
		return domain.CommentThread{}, err
	}
	return domain.CommentThread{ArtworkID: artworkID, Comments: cloneComments(comments), Version: next.Version}, nil
}

// compareAndSet overwrites ref with doc only if the stored version still
// equals expectedVersion.
func (s *FirestoreStore) compareAndSet(ctx context.Context, ref *firestore.DocumentRef, expectedVersion int64, doc any) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, txn *firestore.Transaction) error {
		snap, err := txn.Get(ref)
		if err != nil {
			return err
		}
		current, err := snap.DataAt("version")
		if err != nil {
			return fmt.Errorf("while reading version: %w", err)
		}
		if v, _ := current.(int64); v != expectedVersion {
			return ErrVersionConflict
		}
		return txn.Set(ref, doc)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrVersionConflict):
		return ErrVersionConflict
	case isNotFound(err):
		return ErrNotFound
	default:
		return fmt.Errorf("while updating %s/%s: %w", ref.Parent.ID, ref.ID, err)
	}
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func pageQuery(q firestore.Query, page domain.Page) firestore.Query {
	page = page.Normalize()
	return q.Offset(page.Offset).Limit(page.Limit)
}

func direction(order domain.SortOrder) firestore.Direction {
	if order == domain.OrderOldest {
		return firestore.Asc
	}
	return firestore.Desc
}

func isNotFound(err error) bool {
	return err != nil && status.Code(err) == codes.NotFound
}

func decodeUser(snap *firestore.DocumentSnapshot) (domain.User, bool, error) {
	doc := firestoreUser{}
	if err := snap.DataTo(&doc); err != nil {
		return domain.User{}, false, fmt.Errorf("while deserializing user %s: %w", snap.Ref.ID, err)
	}
	return userFromFirestore(doc), true, nil
}

func decodeArtwork(snap *firestore.DocumentSnapshot) (domain.Artwork, error) {
	doc := firestoreArtwork{}
	if err := snap.DataTo(&doc); err != nil {
		return domain.Artwork{}, fmt.Errorf("while deserializing artwork %s: %w", snap.Ref.ID, err)
	}
	a := domain.Artwork{
		ID:          snap.Ref.ID,
		UserID:      doc.UserID,
		Artist:      doc.Artist,
		Title:       doc.Title,
		Description: doc.Description,
		ImageURL:    doc.ImageURL,
		ImagePath:   doc.ImagePath,
		Hashtags:    nonNil(doc.Hashtags),
		Date:        doc.Date.UTC(),
	}
	if doc.Coords != nil {
		a.Coords = &domain.Coords{Latitude: doc.Coords.Latitude, Longitude: doc.Coords.Longitude}
	}
	return a, nil
}

func artworkToFirestore(a domain.Artwork) firestoreArtwork {
	doc := firestoreArtwork{
		ID:          a.ID,
		UserID:      a.UserID,
		Artist:      a.Artist,
		Title:       a.Title,
		Description: a.Description,
		ImageURL:    a.ImageURL,
		ImagePath:   a.ImagePath,
		Hashtags:    nonNil(a.Hashtags),
		Date:        a.Date,
	}
	if a.Coords != nil {
		doc.Coords = &firestoreCoords{Latitude: a.Coords.Latitude, Longitude: a.Coords.Longitude}
	}
	return doc
}

func userToFirestore(u domain.User) firestoreUser {
	return firestoreUser(u)
}

func userFromFirestore(doc firestoreUser) domain.User {
	return domain.User(doc)
}

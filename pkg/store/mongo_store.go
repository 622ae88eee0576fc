package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"artvista/pkg/domain"
)

const defaultMongoDatabase = "artvista"

type mongoUser struct {
	ID              string    `bson:"_id"`
	Username        string    `bson:"username"`
	UsernameLower   string    `bson:"usernameLower"`
	Email           string    `bson:"email"`
	PasswordHash    string    `bson:"passwordHash"`
	ProfileImageURL string    `bson:"profileImageUrl"`
	ProfileImageKey string    `bson:"profileImagePath"`
	Bio             string    `bson:"bio"`
	CreatedAt       time.Time `bson:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt"`
}

type mongoCoords struct {
	Latitude  float64 `bson:"latitude"`
	Longitude float64 `bson:"longitude"`
}

type mongoArtwork struct {
	ID          string       `bson:"_id"`
	UserID      string       `bson:"userId"`
	Artist      string       `bson:"artist"`
	Title       string       `bson:"title"`
	Description string       `bson:"description"`
	ImageURL    string       `bson:"imageURL"`
	ImagePath   string       `bson:"imagePath"`
	Hashtags    []string     `bson:"hashtags"`
	Date        time.Time    `bson:"date"`
	Coords      *mongoCoords `bson:"artworkCoords,omitempty"`
}

type mongoLikes struct {
	ArtworkID string   `bson:"_id"`
	UserIDs   []string `bson:"userIds"`
	Version   int64    `bson:"version"`
}

type mongoComment struct {
	CommentID     string    `bson:"commentId"`
	CommentAuthor string    `bson:"commentAuthor"`
	Comment       string    `bson:"comment"`
	CreatedAt     time.Time `bson:"createdAt"`
}

type mongoComments struct {
	ArtworkID string         `bson:"_id"`
	Comments  []mongoComment `bson:"comments"`
	Version   int64          `bson:"version"`
}

// MongoStore persists collections in MongoDB. Artwork creation runs in a
// multi-document transaction, so the server must be a replica set.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects to dsn and ensures indexes exist.
func NewMongoStore(ctx context.Context, dsn, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(dsn))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	if strings.TrimSpace(database) == "" {
		database = defaultMongoDatabase
	}
	s := &MongoStore{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(CollectionUsers).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		// Usernames are display names and may repeat; the index serves prefix search.
		{Keys: bson.D{{Key: "usernameLower", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	_, err = s.db.Collection(CollectionArtworks).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "date", Value: -1}}},
		{Keys: bson.D{{Key: "hashtags", Value: 1}, {Key: "date", Value: -1}}},
		{Keys: bson.D{{Key: "date", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create artwork indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) SaveUser(ctx context.Context, u domain.User) error {
	_, err := s.db.Collection(CollectionUsers).ReplaceOne(ctx,
		bson.M{"_id": u.ID}, mongoUser(u), options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	return nil
}

func (s *MongoStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	n, err := s.db.Collection(CollectionUsers).CountDocuments(ctx, bson.M{"email": email}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *MongoStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (domain.User, bool, error) {
	var doc mongoUser
	err := s.db.Collection(CollectionUsers).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	return domain.User(doc), true, nil
}

func (s *MongoStore) UpdateUserProfile(ctx context.Context, id string, patch domain.ProfilePatch) (domain.User, bool, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if patch.Bio != nil {
		set["bio"] = *patch.Bio
	}
	if patch.ProfileImageURL != nil {
		set["profileImageUrl"] = *patch.ProfileImageURL
	}
	if patch.ProfileImageKey != nil {
		set["profileImagePath"] = *patch.ProfileImageKey
	}
	var doc mongoUser
	err := s.db.Collection(CollectionUsers).FindOneAndUpdate(ctx,
		bson.M{"_id": id}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("update user %s: %w", id, err)
	}
	return domain.User(doc), true, nil
}

func (s *MongoStore) SearchUsersByPrefix(ctx context.Context, prefix string, page domain.Page) ([]domain.User, error) {
	filter := bson.M{"usernameLower": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(strings.ToLower(prefix))}}
	opts := pageOptions(page).SetSort(bson.D{{Key: "usernameLower", Value: 1}})
	cur, err := s.db.Collection(CollectionUsers).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []mongoUser
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.User(d))
	}
	return out, nil
}

// CreateArtwork inserts the artwork with its empty like and comment
// documents in one transaction.
func (s *MongoStore) CreateArtwork(ctx context.Context, a domain.Artwork) error {
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		if _, err := s.db.Collection(CollectionArtworks).InsertOne(sessCtx, artworkToMongo(a)); err != nil {
			return nil, err
		}
		if _, err := s.db.Collection(CollectionLikes).InsertOne(sessCtx, mongoLikes{ArtworkID: a.ID, UserIDs: []string{}}); err != nil {
			return nil, err
		}
		_, err := s.db.Collection(CollectionComments).InsertOne(sessCtx, mongoComments{ArtworkID: a.ID, Comments: []mongoComment{}})
		return nil, err
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create artwork %s: %w", a.ID, err)
	}
	return nil
}

func (s *MongoStore) GetArtwork(ctx context.Context, id string) (domain.Artwork, bool, error) {
	var doc mongoArtwork
	err := s.db.Collection(CollectionArtworks).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Artwork{}, false, nil
	}
	if err != nil {
		return domain.Artwork{}, false, err
	}
	return artworkFromMongo(doc), true, nil
}

func (s *MongoStore) ListArtworks(ctx context.Context, order domain.SortOrder, page domain.Page) ([]domain.Artwork, error) {
	dir := -1
	if order == domain.OrderOldest {
		dir = 1
	}
	return s.findArtworks(ctx, bson.M{}, pageOptions(page).SetSort(bson.D{{Key: "date", Value: dir}}))
}

func (s *MongoStore) ListArtworksByUser(ctx context.Context, userID string, page domain.Page) ([]domain.Artwork, error) {
	return s.findArtworks(ctx, bson.M{"userId": userID}, newestFirst(page))
}

func (s *MongoStore) CountArtworksByUser(ctx context.Context, userID string) (int, error) {
	n, err := s.db.Collection(CollectionArtworks).CountDocuments(ctx, bson.M{"userId": userID})
	return int(n), err
}

func (s *MongoStore) ListArtworksByHashtag(ctx context.Context, tag string, page domain.Page) ([]domain.Artwork, error) {
	return s.findArtworks(ctx, bson.M{"hashtags": tag}, newestFirst(page))
}

func (s *MongoStore) SearchArtworksByText(ctx context.Context, term string, page domain.Page) ([]domain.Artwork, error) {
	re := primitive.Regex{Pattern: regexp.QuoteMeta(term), Options: "i"}
	filter := bson.M{"$or": bson.A{bson.M{"title": re}, bson.M{"description": re}}}
	return s.findArtworks(ctx, filter, newestFirst(page))
}

func (s *MongoStore) findArtworks(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]domain.Artwork, error) {
	cur, err := s.db.Collection(CollectionArtworks).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []mongoArtwork
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Artwork, 0, len(docs))
	for _, d := range docs {
		out = append(out, artworkFromMongo(d))
	}
	return out, nil
}

// DeleteArtwork removes only the artwork document.
func (s *MongoStore) DeleteArtwork(ctx context.Context, id string) error {
	_, err := s.db.Collection(CollectionArtworks).DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *MongoStore) GetLikeSet(ctx context.Context, artworkID string) (domain.LikeSet, bool, error) {
	var doc mongoLikes
	err := s.db.Collection(CollectionLikes).FindOne(ctx, bson.M{"_id": artworkID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.LikeSet{}, false, nil
	}
	if err != nil {
		return domain.LikeSet{}, false, err
	}
	return domain.LikeSet{ArtworkID: artworkID, UserIDs: nonNil(doc.UserIDs), Version: doc.Version}, true, nil
}

func (s *MongoStore) ReplaceLikes(ctx context.Context, artworkID string, userIDs []string, expectedVersion int64) (domain.LikeSet, error) {
	userIDs = nonNil(cloneStrings(userIDs))
	if err := s.casUpdate(ctx, CollectionLikes, artworkID, expectedVersion, "userIds", userIDs); err != nil {
		return domain.LikeSet{}, err
	}
	return domain.LikeSet{ArtworkID: artworkID, UserIDs: userIDs, Version: expectedVersion + 1}, nil
}

func (s *MongoStore) GetCommentThread(ctx context.Context, artworkID string) (domain.CommentThread, bool, error) {
	var doc mongoComments
	err := s.db.Collection(CollectionComments).FindOne(ctx, bson.M{"_id": artworkID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.CommentThread{}, false, nil
	}
	if err != nil {
		return domain.CommentThread{}, false, err
	}
	comments := make([]domain.Comment, 0, len(doc.Comments))
	for _, c := range doc.Comments {
		comments = append(comments, domain.Comment(c))
	}
	return domain.CommentThread{ArtworkID: artworkID, Comments: comments, Version: doc.Version}, true, nil
}

func (s *MongoStore) ReplaceComments(ctx context.Context, artworkID string, comments []domain.Comment, expectedVersion int64) (domain.CommentThread, error) {
	docs := make([]mongoComment, 0, len(comments))
	for _, c := range comments {
		docs = append(docs, mongoComment(c))
	}
	if err := s.casUpdate(ctx, CollectionComments, artworkID, expectedVersion, "comments", docs); err != nil {
		return domain.CommentThread{}, err
	}
	return domain.CommentThread{ArtworkID: artworkID, Comments: cloneComments(comments), Version: expectedVersion + 1}, nil
}

// casUpdate sets field and bumps the version only when the stored version
// still matches expectedVersion.
func (s *MongoStore) casUpdate(ctx context.Context, collection, artworkID string, expectedVersion int64, field string, value any) error {
	coll := s.db.Collection(collection)
	res, err := coll.UpdateOne(ctx,
		bson.M{"_id": artworkID, "version": expectedVersion},
		bson.M{"$set": bson.M{field: value}, "$inc": bson.M{"version": 1}},
	)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", collection, artworkID, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	n, err := coll.CountDocuments(ctx, bson.M{"_id": artworkID})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

func pageOptions(page domain.Page) *options.FindOptions {
	page = page.Normalize()
	return options.Find().SetSkip(int64(page.Offset)).SetLimit(int64(page.Limit))
}

func newestFirst(page domain.Page) *options.FindOptions {
	return pageOptions(page).SetSort(bson.D{{Key: "date", Value: -1}})
}

func artworkToMongo(a domain.Artwork) mongoArtwork {
	doc := mongoArtwork{
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
		doc.Coords = &mongoCoords{Latitude: a.Coords.Latitude, Longitude: a.Coords.Longitude}
	}
	return doc
}

func artworkFromMongo(doc mongoArtwork) domain.Artwork {
	a := domain.Artwork{
		ID:          doc.ID,
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
	return a
}

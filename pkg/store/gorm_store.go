package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"artvista/pkg/domain"
)

const migrateLockID int64 = 41724172

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &ArtworkModel{}, &LikeSetModel{}, &CommentThreadModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// GIN index backs the hashtag containment query.
		if err := tx.Exec(`CREATE INDEX IF NOT EXISTS artworks_hashtags_gin ON artworks USING GIN (hashtags jsonb_path_ops)`).Error; err != nil {
			return fmt.Errorf("create hashtag index: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"username", "username_lower", "email", "password_hash",
			"profile_image_url", "profile_image_key", "bio", "updated_at",
		}),
	}).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// UpdateUserProfile writes only the patched columns.
func (s *GormStore) UpdateUserProfile(ctx context.Context, id string, patch domain.ProfilePatch) (domain.User, bool, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if patch.Bio != nil {
		updates["bio"] = *patch.Bio
	}
	if patch.ProfileImageURL != nil {
		updates["profile_image_url"] = *patch.ProfileImageURL
	}
	if patch.ProfileImageKey != nil {
		updates["profile_image_key"] = *patch.ProfileImageKey
	}
	res := s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return domain.User{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.User{}, false, nil
	}
	return s.GetUserByID(ctx, id)
}

// SearchUsersByPrefix matches username_lower by prefix.
func (s *GormStore) SearchUsersByPrefix(ctx context.Context, prefix string, page domain.Page) ([]domain.User, error) {
	page = page.Normalize()
	var models []UserModel
	if err := s.db.WithContext(ctx).
		Where("username_lower LIKE ?", escapeLike(strings.ToLower(prefix))+"%").
		Order("username_lower ASC").
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// CreateArtwork inserts the artwork and its empty like set and comment
// thread in one transaction.
func (s *GormStore) CreateArtwork(ctx context.Context, a domain.Artwork) error {
	model, err := artworkToModel(a)
	if err != nil {
		return fmt.Errorf("encode artwork: %w", err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicate
			}
			return err
		}
		if err := tx.Create(&LikeSetModel{ArtworkID: a.ID, UserIDs: []byte("[]")}).Error; err != nil {
			return err
		}
		return tx.Create(&CommentThreadModel{ArtworkID: a.ID, Comments: []byte("[]")}).Error
	})
}

func (s *GormStore) GetArtwork(ctx context.Context, id string) (domain.Artwork, bool, error) {
	var model ArtworkModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Artwork{}, false, nil
		}
		return domain.Artwork{}, false, err
	}
	return artworkFromModel(model), true, nil
}

func (s *GormStore) ListArtworks(ctx context.Context, order domain.SortOrder, page domain.Page) ([]domain.Artwork, error) {
	return s.listArtworks(ctx, orderClause(order), page)
}

func (s *GormStore) ListArtworksByUser(ctx context.Context, userID string, page domain.Page) ([]domain.Artwork, error) {
	return s.listArtworks(ctx, "date DESC", page, "user_id = ?", userID)
}

func (s *GormStore) CountArtworksByUser(ctx context.Context, userID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ArtworkModel{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// ListArtworksByHashtag uses jsonb containment, the SQL analogue of
// array-contains.
func (s *GormStore) ListArtworksByHashtag(ctx context.Context, tag string, page domain.Page) ([]domain.Artwork, error) {
	needle, err := json.Marshal([]string{tag})
	if err != nil {
		return nil, err
	}
	return s.listArtworks(ctx, "date DESC", page, "hashtags @> ?::jsonb", string(needle))
}

func (s *GormStore) SearchArtworksByText(ctx context.Context, term string, page domain.Page) ([]domain.Artwork, error) {
	pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
	return s.listArtworks(ctx, "date DESC", page, "LOWER(title) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern)
}

func (s *GormStore) listArtworks(ctx context.Context, order string, page domain.Page, conds ...any) ([]domain.Artwork, error) {
	page = page.Normalize()
	var models []ArtworkModel
	tx := s.db.WithContext(ctx).Order(order).Order("id ASC").Limit(page.Limit).Offset(page.Offset)
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Artwork, 0, len(models))
	for _, m := range models {
		res = append(res, artworkFromModel(m))
	}
	return res, nil
}

// DeleteArtwork removes only the artwork row; likes and comments rows stay.
func (s *GormStore) DeleteArtwork(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&ArtworkModel{}, "id = ?", id).Error
}

func (s *GormStore) GetLikeSet(ctx context.Context, artworkID string) (domain.LikeSet, bool, error) {
	var model LikeSetModel
	if err := s.db.WithContext(ctx).First(&model, "artwork_id = ?", artworkID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.LikeSet{}, false, nil
		}
		return domain.LikeSet{}, false, err
	}
	return likeSetFromModel(model), true, nil
}

func (s *GormStore) ReplaceLikes(ctx context.Context, artworkID string, userIDs []string, expectedVersion int64) (domain.LikeSet, error) {
	payload, err := json.Marshal(nonNil(userIDs))
	if err != nil {
		return domain.LikeSet{}, err
	}
	if err := s.casUpdate(ctx, &LikeSetModel{}, artworkID, expectedVersion, "user_ids", payload); err != nil {
		return domain.LikeSet{}, err
	}
	return domain.LikeSet{ArtworkID: artworkID, UserIDs: cloneStrings(userIDs), Version: expectedVersion + 1}, nil
}

func (s *GormStore) GetCommentThread(ctx context.Context, artworkID string) (domain.CommentThread, bool, error) {
	var model CommentThreadModel
	if err := s.db.WithContext(ctx).First(&model, "artwork_id = ?", artworkID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.CommentThread{}, false, nil
		}
		return domain.CommentThread{}, false, err
	}
	return commentThreadFromModel(model), true, nil
}

func (s *GormStore) ReplaceComments(ctx context.Context, artworkID string, comments []domain.Comment, expectedVersion int64) (domain.CommentThread, error) {
	payload, err := json.Marshal(nonNil(comments))
	if err != nil {
		return domain.CommentThread{}, err
	}
	if err := s.casUpdate(ctx, &CommentThreadModel{}, artworkID, expectedVersion, "comments", payload); err != nil {
		return domain.CommentThread{}, err
	}
	return domain.CommentThread{ArtworkID: artworkID, Comments: cloneComments(comments), Version: expectedVersion + 1}, nil
}

// casUpdate writes column only when the row still has expectedVersion.
func (s *GormStore) casUpdate(ctx context.Context, model any, artworkID string, expectedVersion int64, column string, payload []byte) error {
	res := s.db.WithContext(ctx).Model(model).
		Where("artwork_id = ? AND version = ?", artworkID, expectedVersion).
		Updates(map[string]any{
			column:    gorm.Expr("?::jsonb", string(payload)),
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where("artwork_id = ?", artworkID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func orderClause(order domain.SortOrder) string {
	if order == domain.OrderOldest {
		return "date ASC"
	}
	return "date DESC"
}

// escapeLike escapes LIKE metacharacters using Postgres' default backslash
// escape.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"artvista/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID              string `gorm:"primaryKey"`
	Username        string `gorm:"not null"`
	UsernameLower   string `gorm:"not null;index"`
	Email           string `gorm:"uniqueIndex;not null"`
	PasswordHash    string `gorm:"not null"`
	ProfileImageURL string
	ProfileImageKey string
	Bio             string    `gorm:"type:text"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time
}

func (UserModel) TableName() string { return CollectionUsers }

type ArtworkModel struct {
	ID          string         `gorm:"primaryKey"`
	UserID      string         `gorm:"not null;index"`
	Artist      string         `gorm:"not null"`
	Title       string         `gorm:"not null"`
	Description string         `gorm:"type:text;not null"`
	ImageURL    string         `gorm:"not null"`
	ImagePath   string         `gorm:"not null"`
	Hashtags    datatypes.JSON `gorm:"type:jsonb"`
	Date        time.Time      `gorm:"not null;index"`
	Latitude    *float64
	Longitude   *float64
}

func (ArtworkModel) TableName() string { return CollectionArtworks }

type LikeSetModel struct {
	ArtworkID string         `gorm:"primaryKey"`
	UserIDs   datatypes.JSON `gorm:"type:jsonb;not null"`
	Version   int64          `gorm:"not null;default:0"`
}

func (LikeSetModel) TableName() string { return CollectionLikes }

type CommentThreadModel struct {
	ArtworkID string         `gorm:"primaryKey"`
	Comments  datatypes.JSON `gorm:"type:jsonb;not null"`
	Version   int64          `gorm:"not null;default:0"`
}

func (CommentThreadModel) TableName() string { return CollectionComments }

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:              u.ID,
		Username:        u.Username,
		UsernameLower:   u.UsernameLower,
		Email:           u.Email,
		PasswordHash:    u.PasswordHash,
		ProfileImageURL: u.ProfileImageURL,
		ProfileImageKey: u.ProfileImageKey,
		Bio:             u.Bio,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:              m.ID,
		Username:        m.Username,
		UsernameLower:   m.UsernameLower,
		Email:           m.Email,
		PasswordHash:    m.PasswordHash,
		ProfileImageURL: m.ProfileImageURL,
		ProfileImageKey: m.ProfileImageKey,
		Bio:             m.Bio,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func artworkToModel(a domain.Artwork) (ArtworkModel, error) {
	tags, err := json.Marshal(nonNil(a.Hashtags))
	if err != nil {
		return ArtworkModel{}, err
	}
	m := ArtworkModel{
		ID:          a.ID,
		UserID:      a.UserID,
		Artist:      a.Artist,
		Title:       a.Title,
		Description: a.Description,
		ImageURL:    a.ImageURL,
		ImagePath:   a.ImagePath,
		Hashtags:    datatypes.JSON(tags),
		Date:        a.Date,
	}
	if a.Coords != nil {
		lat, lng := a.Coords.Latitude, a.Coords.Longitude
		m.Latitude, m.Longitude = &lat, &lng
	}
	return m, nil
}

func artworkFromModel(m ArtworkModel) domain.Artwork {
	a := domain.Artwork{
		ID:          m.ID,
		UserID:      m.UserID,
		Artist:      m.Artist,
		Title:       m.Title,
		Description: m.Description,
		ImageURL:    m.ImageURL,
		ImagePath:   m.ImagePath,
		Hashtags:    []string{},
		Date:        m.Date,
	}
	if len(m.Hashtags) > 0 {
		_ = json.Unmarshal(m.Hashtags, &a.Hashtags)
	}
	if m.Latitude != nil && m.Longitude != nil {
		a.Coords = &domain.Coords{Latitude: *m.Latitude, Longitude: *m.Longitude}
	}
	return a
}

func likeSetFromModel(m LikeSetModel) domain.LikeSet {
	set := domain.LikeSet{ArtworkID: m.ArtworkID, UserIDs: []string{}, Version: m.Version}
	if len(m.UserIDs) > 0 {
		_ = json.Unmarshal(m.UserIDs, &set.UserIDs)
	}
	return set
}

func commentThreadFromModel(m CommentThreadModel) domain.CommentThread {
	thread := domain.CommentThread{ArtworkID: m.ArtworkID, Comments: []domain.Comment{}, Version: m.Version}
	if len(m.Comments) > 0 {
		_ = json.Unmarshal(m.Comments, &thread.Comments)
	}
	return thread
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

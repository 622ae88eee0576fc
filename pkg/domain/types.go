package domain

import "time"

// User is an account plus its public profile.
type User struct {
	ID              string    `json:"userId"`
	Username        string    `json:"username"`
	UsernameLower   string    `json:"-"`
	Email           string    `json:"email"`
	PasswordHash    string    `json:"-"`
	ProfileImageURL string    `json:"profileImageUrl"`
	ProfileImageKey string    `json:"-"`
	Bio             string    `json:"bio"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ProfilePatch lists the profile fields a user may change. Nil fields are
// left untouched.
type ProfilePatch struct {
	Bio             *string `json:"bio,omitempty"`
	ProfileImageURL *string `json:"-"`
	ProfileImageKey *string `json:"profileImagePath,omitempty"`
}

// Session is the authenticated caller. Every mutating operation takes one
// explicitly instead of reading ambient auth state.
type Session struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Coords is an optional capture location for an artwork.
type Coords struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Artwork struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Artist      string    `json:"artist"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ImageURL    string    `json:"imageURL"`
	ImagePath   string    `json:"-"`
	Hashtags    []string  `json:"hashtags"`
	Date        time.Time `json:"date"`
	Coords      *Coords   `json:"artworkCoords"`
}

// LikeSet holds the users who liked one artwork. Version increments on every
// successful write and guards against lost updates.
type LikeSet struct {
	ArtworkID string   `json:"artworkId"`
	UserIDs   []string `json:"userIds"`
	Version   int64    `json:"-"`
}

// Has reports whether userID is in the set.
func (l LikeSet) Has(userID string) bool {
	for _, id := range l.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type Comment struct {
	CommentID     string    `json:"commentId"`
	CommentAuthor string    `json:"commentAuthor"`
	Comment       string    `json:"comment"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CommentThread is the ordered comment list of one artwork.
type CommentThread struct {
	ArtworkID string    `json:"artworkId"`
	Comments  []Comment `json:"comments"`
	Version   int64     `json:"-"`
}

// LikeSummary is what a viewer sees of a LikeSet.
type LikeSummary struct {
	ArtworkID string `json:"artworkId"`
	Count     int    `json:"count"`
	LikedByMe bool   `json:"likedByMe"`
}

// ArtworkDetails bundles an artwork with its engagement.
type ArtworkDetails struct {
	Artwork  Artwork     `json:"artwork"`
	Owner    *User       `json:"owner,omitempty"`
	Likes    LikeSummary `json:"likes"`
	Comments []Comment   `json:"comments"`
}

// ImageRef is the result of an image upload.
type ImageRef struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// UserMatch is a username search hit with the user's artwork count.
type UserMatch struct {
	User         User `json:"user"`
	ArtworkCount int  `json:"artworkCount"`
}

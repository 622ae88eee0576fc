package app

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"artvista/internal/util"
	"artvista/pkg/domain"
	"artvista/pkg/events"
)

// NewArtwork is the create form. ImagePath is the key returned by an upload.
type NewArtwork struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	ImagePath   string         `json:"imagePath"`
	Hashtags    []string       `json:"hashtags"`
	Coords      *domain.Coords `json:"artworkCoords"`
}

func (a *App) CreateArtwork(ctx context.Context, s domain.Session, in NewArtwork) (domain.Artwork, error) {
	const op = "create artwork"
	if err := requireSession(s); err != nil {
		return domain.Artwork{}, err
	}
	title := strings.TrimSpace(in.Title)
	description := strings.TrimSpace(in.Description)
	imagePath := strings.TrimSpace(in.ImagePath)
	switch {
	case title == "":
		return domain.Artwork{}, invalid(op, "title is required")
	case description == "":
		return domain.Artwork{}, invalid(op, "description is required")
	}
	if err := validateCoords(in.Coords); err != nil {
		return domain.Artwork{}, invalid(op, err.Error())
	}
	if err := a.ownedImage(ctx, op, s, imagePath); err != nil {
		return domain.Artwork{}, err
	}

	imageURL, err := a.objects.URL(ctx, imagePath)
	if err != nil {
		return domain.Artwork{}, unavailable(op, err)
	}
	artwork := domain.Artwork{
		ID:          util.NewID(),
		UserID:      s.UserID,
		Artist:      s.Username,
		Title:       title,
		Description: description,
		ImageURL:    imageURL,
		ImagePath:   imagePath,
		Hashtags:    NormalizeHashtags(in.Hashtags),
		Date:        time.Now().UTC(),
	}
	if in.Coords != nil {
		c := *in.Coords
		artwork.Coords = &c
	}
	if err := a.store.CreateArtwork(ctx, artwork); err != nil {
		return domain.Artwork{}, unavailable(op, err)
	}
	util.LoggerFromContext(ctx).Info("artwork created", "artwork_id", artwork.ID, "user_id", s.UserID)
	return artwork, nil
}

func (a *App) GetArtwork(ctx context.Context, id string) (domain.Artwork, error) {
	artwork, ok, err := a.store.GetArtwork(ctx, id)
	if err != nil {
		return domain.Artwork{}, unavailable("get artwork", err)
	}
	if !ok {
		return domain.Artwork{}, ErrArtworkNotFound
	}
	return artwork, nil
}

// ListArtworks is the feed. An empty order means newest first.
func (a *App) ListArtworks(ctx context.Context, order domain.SortOrder, page domain.Page) ([]domain.Artwork, error) {
	switch order {
	case "":
		order = domain.OrderNewest
	case domain.OrderNewest, domain.OrderOldest:
	default:
		return nil, invalid("list artworks", "order must be newest or oldest")
	}
	items, err := a.store.ListArtworks(ctx, order, page.Normalize())
	if err != nil {
		return nil, unavailable("list artworks", err)
	}
	return items, nil
}

func (a *App) ListArtworksByUser(ctx context.Context, userID string, page domain.Page) ([]domain.Artwork, error) {
	items, err := a.store.ListArtworksByUser(ctx, userID, page.Normalize())
	if err != nil {
		return nil, unavailable("list user artworks", err)
	}
	return items, nil
}

// GetArtworkDetails loads the artwork, its likes and its comments in
// parallel, then the owner's profile.
func (a *App) GetArtworkDetails(ctx context.Context, s domain.Session, id string) (domain.ArtworkDetails, error) {
	const op = "get artwork details"
	var (
		artwork  domain.Artwork
		found    bool
		likes    domain.LikeSet
		comments domain.CommentThread
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		artwork, found, err = a.store.GetArtwork(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		likes, _, err = a.store.GetLikeSet(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		comments, _, err = a.store.GetCommentThread(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.ArtworkDetails{}, unavailable(op, err)
	}
	if !found {
		return domain.ArtworkDetails{}, ErrArtworkNotFound
	}

	details := domain.ArtworkDetails{
		Artwork:  artwork,
		Likes:    summarize(id, likes, s.UserID),
		Comments: sortComments(comments.Comments),
	}
	owner, ok, err := a.store.GetUserByID(ctx, artwork.UserID)
	if err != nil {
		return domain.ArtworkDetails{}, unavailable(op, err)
	}
	if ok {
		details.Owner = &owner
	}
	return details, nil
}

// DeleteArtwork removes the artwork document and its image. Only the owner
// may delete. Likes and comments stay behind.
func (a *App) DeleteArtwork(ctx context.Context, s domain.Session, id string) error {
	const op = "delete artwork"
	if err := requireSession(s); err != nil {
		return err
	}
	artwork, err := a.GetArtwork(ctx, id)
	if err != nil {
		return err
	}
	if artwork.UserID != s.UserID {
		return ErrNotOwner
	}
	if err := a.store.DeleteArtwork(ctx, id); err != nil {
		return unavailable(op, err)
	}
	a.removeImage(ctx, artwork)
	a.publish(ctx, events.Event{Type: events.ArtworkDeleted, ArtworkID: id, UserID: s.UserID})
	return nil
}

// removeImage hands the image to the cleanup queue, falling back to an
// inline delete. Failures are logged; the artwork is already gone. Keys
// outside the owner's prefix and keys still used as the owner's profile
// picture are left in place.
func (a *App) removeImage(ctx context.Context, artwork domain.Artwork) {
	if artwork.ImagePath == "" {
		return
	}
	logger := util.LoggerFromContext(ctx)
	if !imageOwnedBy(artwork.UserID, artwork.ImagePath) {
		logger.Warn("image kept: key not owned by artwork owner", "key", artwork.ImagePath, "artwork_id", artwork.ID)
		return
	}
	if owner, ok, err := a.store.GetUserByID(ctx, artwork.UserID); err == nil && ok && owner.ProfileImageKey == artwork.ImagePath {
		logger.Info("image kept: used as profile picture", "key", artwork.ImagePath)
		return
	}
	if a.cleaner != nil {
		job, err := a.cleaner.Enqueue(ctx, artwork.ImagePath, artwork.ID)
		if err == nil {
			logger.Info("image cleanup queued", "job_id", job.ID, "key", artwork.ImagePath)
			return
		}
		logger.Warn("image cleanup enqueue failed", "key", artwork.ImagePath, "err", err)
	}
	if err := a.objects.Delete(ctx, artwork.ImagePath); err != nil {
		logger.Error("image delete failed", "key", artwork.ImagePath, "err", err)
	}
}

// NormalizeHashtags trims, lower-cases and '#'-prefixes tags, dropping
// empties and duplicates while keeping first-seen order.
func NormalizeHashtags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = normalizeHashtag(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func normalizeHashtag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	tag = strings.TrimLeft(tag, "#")
	if tag == "" {
		return ""
	}
	return "#" + tag
}

type coordsError string

func (e coordsError) Error() string { return string(e) }

func validateCoords(c *domain.Coords) error {
	if c == nil {
		return nil
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return coordsError("latitude must be within [-90, 90]")
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return coordsError("longitude must be within [-180, 180]")
	}
	return nil
}

// hashtagQueryTooShort reports whether a hashtag search input is below the
// two-character minimum.
func hashtagQueryTooShort(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) < 2
}

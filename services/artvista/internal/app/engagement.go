package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"artvista/internal/util"
	"artvista/pkg/domain"
	"artvista/pkg/events"
	"artvista/pkg/store"
)

const maxCommentRunes = 2000

// ToggleLike flips the caller's membership in the artwork's like set. The
// write is a compare-and-swap on the set's version, retried on conflict, so
// concurrent toggles by different users are never lost.
func (a *App) ToggleLike(ctx context.Context, s domain.Session, artworkID string) (domain.LikeSummary, error) {
	const op = "toggle like"
	if err := requireSession(s); err != nil {
		return domain.LikeSummary{}, err
	}
	if _, err := a.GetArtwork(ctx, artworkID); err != nil {
		return domain.LikeSummary{}, err
	}

	var updated domain.LikeSet
	err := retryOnConflict(ctx, func() error {
		current, ok, err := a.store.GetLikeSet(ctx, artworkID)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrNotFound
		}
		updated, err = a.store.ReplaceLikes(ctx, artworkID, toggleMember(current.UserIDs, s.UserID), current.Version)
		return err
	})
	if err := engagementError(op, err); err != nil {
		return domain.LikeSummary{}, err
	}

	summary := summarize(artworkID, updated, s.UserID)
	a.publish(ctx, events.Event{
		Type:      events.LikeToggled,
		ArtworkID: artworkID,
		UserID:    s.UserID,
		Payload:   summary,
	})
	return summary, nil
}

func (a *App) GetLikes(ctx context.Context, s domain.Session, artworkID string) (domain.LikeSummary, error) {
	set, ok, err := a.store.GetLikeSet(ctx, artworkID)
	if err != nil {
		return domain.LikeSummary{}, unavailable("get likes", err)
	}
	if !ok {
		return domain.LikeSummary{}, ErrArtworkNotFound
	}
	return summarize(artworkID, set, s.UserID), nil
}

// AddComment appends a comment authored by the caller.
func (a *App) AddComment(ctx context.Context, s domain.Session, artworkID, text string) (domain.Comment, error) {
	const op = "add comment"
	if err := requireSession(s); err != nil {
		return domain.Comment{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Comment{}, invalid(op, "comment must not be empty")
	}
	if utf8.RuneCountInString(text) > maxCommentRunes {
		return domain.Comment{}, invalid(op, "comment is too long")
	}
	if _, err := a.GetArtwork(ctx, artworkID); err != nil {
		return domain.Comment{}, err
	}

	comment := domain.Comment{
		CommentID:     util.NewUUID(),
		CommentAuthor: s.UserID,
		Comment:       text,
		CreatedAt:     time.Now().UTC(),
	}
	err := retryOnConflict(ctx, func() error {
		thread, ok, err := a.store.GetCommentThread(ctx, artworkID)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrNotFound
		}
		next := append(thread.Comments, comment)
		_, err = a.store.ReplaceComments(ctx, artworkID, next, thread.Version)
		return err
	})
	if err := engagementError(op, err); err != nil {
		return domain.Comment{}, err
	}
	a.publish(ctx, events.Event{Type: events.CommentAdded, ArtworkID: artworkID, UserID: s.UserID, Payload: comment})
	return comment, nil
}

// DeleteComment removes a comment. Only its author may delete it.
func (a *App) DeleteComment(ctx context.Context, s domain.Session, artworkID, commentID string) error {
	const op = "delete comment"
	if err := requireSession(s); err != nil {
		return err
	}
	err := retryOnConflict(ctx, func() error {
		thread, ok, err := a.store.GetCommentThread(ctx, artworkID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrArtworkNotFound
		}
		idx := -1
		for i, c := range thread.Comments {
			if c.CommentID == commentID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrCommentNotFound
		}
		if thread.Comments[idx].CommentAuthor != s.UserID {
			return ErrNotCommentAuthor
		}
		next := make([]domain.Comment, 0, len(thread.Comments)-1)
		next = append(next, thread.Comments[:idx]...)
		next = append(next, thread.Comments[idx+1:]...)
		_, err = a.store.ReplaceComments(ctx, artworkID, next, thread.Version)
		return err
	})
	if err := engagementError(op, err); err != nil {
		return err
	}
	a.publish(ctx, events.Event{Type: events.CommentDeleted, ArtworkID: artworkID, UserID: s.UserID, Payload: map[string]string{"commentId": commentID}})
	return nil
}

// ListComments returns the thread oldest first.
func (a *App) ListComments(ctx context.Context, artworkID string) ([]domain.Comment, error) {
	thread, ok, err := a.store.GetCommentThread(ctx, artworkID)
	if err != nil {
		return nil, unavailable("list comments", err)
	}
	if !ok {
		return nil, ErrArtworkNotFound
	}
	return sortComments(thread.Comments), nil
}

// engagementError maps the outcome of a retried write to a domain error.
func engagementError(op string, err error) error {
	var derr *domain.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &derr):
		return err
	case errors.Is(err, store.ErrNotFound):
		return ErrArtworkNotFound
	default:
		return unavailable(op, err)
	}
}

func toggleMember(ids []string, userID string) []string {
	out := make([]string, 0, len(ids)+1)
	removed := false
	for _, id := range ids {
		if id == userID {
			removed = true
			continue
		}
		out = append(out, id)
	}
	if !removed {
		out = append(out, userID)
	}
	return out
}

func summarize(artworkID string, set domain.LikeSet, userID string) domain.LikeSummary {
	return domain.LikeSummary{
		ArtworkID: artworkID,
		Count:     len(set.UserIDs),
		LikedByMe: userID != "" && set.Has(userID),
	}
}

func sortComments(in []domain.Comment) []domain.Comment {
	out := make([]domain.Comment, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

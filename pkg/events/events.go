// Package events carries engagement changes (likes, comments, deletions) to
// live subscribers.
package events

import (
	"context"
	"time"
)

// Type names an engagement change.
type Type string

const (
	LikeToggled    Type = "like.toggled"
	CommentAdded   Type = "comment.added"
	CommentDeleted Type = "comment.deleted"
	ArtworkDeleted Type = "artwork.deleted"
)

// Event is published after a successful write.
type Event struct {
	Type      Type      `json:"type"`
	ArtworkID string    `json:"artworkId"`
	UserID    string    `json:"userId"`
	Payload   any       `json:"payload,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher sends events to a transport.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Subscriber streams the events of one artwork.
type Subscriber interface {
	Subscribe(ctx context.Context, artworkID string) (Subscription, error)
}

// Subscription delivers events until closed.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

package app

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"artvista/pkg/domain"
)

// userCountConcurrency caps parallel artwork-count lookups per username
// search.
const userCountConcurrency = 8

// Search runs a title, hashtag or username query. Matching is always
// case-insensitive and blank input yields an empty result.
func (a *App) Search(ctx context.Context, q domain.SearchQuery) (domain.SearchResult, error) {
	const op = "search"
	if q.Field == "" {
		q.Field = domain.SearchTitle
	}
	text := strings.TrimSpace(q.Text)
	page := q.Page.Normalize()
	result := domain.SearchResult{Field: q.Field, Query: text, Artworks: []domain.Artwork{}, Users: []domain.UserMatch{}}

	switch q.Field {
	case domain.SearchTitle:
		if text == "" {
			return result, nil
		}
		items, err := a.store.SearchArtworksByText(ctx, strings.ToLower(text), page)
		if err != nil {
			return domain.SearchResult{}, unavailable(op, err)
		}
		result.Artworks = items
	case domain.SearchHashtag:
		if hashtagQueryTooShort(text) {
			return result, nil
		}
		tag := normalizeHashtag(text)
		if tag == "" {
			return result, nil
		}
		result.Query = tag
		items, err := a.store.ListArtworksByHashtag(ctx, tag, page)
		if err != nil {
			return domain.SearchResult{}, unavailable(op, err)
		}
		result.Artworks = items
	case domain.SearchUsername:
		if text == "" {
			return result, nil
		}
		users, err := a.store.SearchUsersByPrefix(ctx, strings.ToLower(text), page)
		if err != nil {
			return domain.SearchResult{}, unavailable(op, err)
		}
		matches, err := a.withArtworkCounts(ctx, users)
		if err != nil {
			return domain.SearchResult{}, unavailable(op, err)
		}
		result.Users = matches
	default:
		return domain.SearchResult{}, invalid(op, "field must be title, hashtag or username")
	}
	return result, nil
}

func (a *App) withArtworkCounts(ctx context.Context, users []domain.User) ([]domain.UserMatch, error) {
	matches := make([]domain.UserMatch, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(userCountConcurrency)
	for i, u := range users {
		i, u := i, u
		g.Go(func() error {
			n, err := a.store.CountArtworksByUser(gctx, u.ID)
			if err != nil {
				return err
			}
			matches[i] = domain.UserMatch{User: u, ArtworkCount: n}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return matches, nil
}

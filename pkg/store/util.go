package store

import (
	"sort"
	"strings"

	"artvista/pkg/domain"
)

func sortArtworks(items []domain.Artwork, order domain.SortOrder) {
	sort.SliceStable(items, func(i, j int) bool {
		if order == domain.OrderOldest {
			return items[i].Date.Before(items[j].Date)
		}
		return items[i].Date.After(items[j].Date)
	})
}

func pageSlice[T any](items []T, page domain.Page) []T {
	start, end := page.Window(len(items))
	out := make([]T, end-start)
	copy(out, items[start:end])
	return out
}

// matchesText is the client-side rendition of the title/description search
// used by backends without a substring operator.
func matchesText(a domain.Artwork, term string) bool {
	term = strings.ToLower(term)
	return strings.Contains(strings.ToLower(a.Title), term) ||
		strings.Contains(strings.ToLower(a.Description), term)
}

func cloneArtwork(a domain.Artwork) domain.Artwork {
	a.Hashtags = append([]string(nil), a.Hashtags...)
	if a.Coords != nil {
		c := *a.Coords
		a.Coords = &c
	}
	return a
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneComments(in []domain.Comment) []domain.Comment {
	out := make([]domain.Comment, len(in))
	copy(out, in)
	return out
}

func applyProfilePatch(u *domain.User, patch domain.ProfilePatch) {
	if patch.Bio != nil {
		u.Bio = *patch.Bio
	}
	if patch.ProfileImageURL != nil {
		u.ProfileImageURL = *patch.ProfileImageURL
	}
	if patch.ProfileImageKey != nil {
		u.ProfileImageKey = *patch.ProfileImageKey
	}
}

package domain

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Page is the offset pagination policy shared by every listing and search.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Normalize applies defaults and clamps out-of-range values.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Window returns the [start, end) bounds of the page within n items.
func (p Page) Window(n int) (int, int) {
	p = p.Normalize()
	start := p.Offset
	if start > n {
		start = n
	}
	end := start + p.Limit
	if end > n {
		end = n
	}
	return start, end
}

type SortOrder string

const (
	OrderNewest SortOrder = "newest"
	OrderOldest SortOrder = "oldest"
)

type SearchField string

const (
	SearchTitle    SearchField = "title"
	SearchHashtag  SearchField = "hashtag"
	SearchUsername SearchField = "username"
)

// SearchQuery is the single search contract. Title matches substrings of
// title or description, Hashtag matches tag membership, Username matches
// username prefixes. All matching is case-insensitive.
type SearchQuery struct {
	Field SearchField `json:"field"`
	Text  string      `json:"q"`
	Page  Page        `json:"page"`
}

// SearchResult carries artworks for title/hashtag queries and users for
// username queries.
type SearchResult struct {
	Field    SearchField `json:"field"`
	Query    string      `json:"query"`
	Artworks []Artwork   `json:"artworks"`
	Users    []UserMatch `json:"users"`
}

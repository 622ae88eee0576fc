package app

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"artvista/internal/util"
	"artvista/pkg/domain"
	"artvista/pkg/events"
	"artvista/pkg/queue"
	"artvista/pkg/storage"
	"artvista/pkg/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeCleaner struct {
	keys []string
}

func (c *fakeCleaner) Enqueue(_ context.Context, objectKey, artworkID string) (queue.CleanupJob, error) {
	c.keys = append(c.keys, objectKey)
	return queue.CleanupJob{ID: "job-" + artworkID, ObjectKey: objectKey, ArtworkID: artworkID}, nil
}

type testEnv struct {
	app     *App
	store   *store.MemoryStore
	objects *storage.FileStore
	events  *recordingPublisher
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	objects, err := storage.NewFileStore(t.TempDir(), "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	sessions, err := store.NewJWTHS256SessionStore(testSecret, time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	pub := &recordingPublisher{}
	a, err := New(Config{Store: st, Sessions: sessions, Objects: objects, Events: pub})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return testEnv{app: a, store: st, objects: objects, events: pub}
}

func (e testEnv) signUp(t *testing.T, email, username string) domain.Session {
	t.Helper()
	_, token, err := e.app.SignUp(context.Background(), SignUpInput{Email: email, Password: "secret1", Username: username})
	if err != nil {
		t.Fatalf("signup %s: %v", email, err)
	}
	s, err := e.app.SessionFromToken(context.Background(), token)
	if err != nil {
		t.Fatalf("session for %s: %v", email, err)
	}
	return s
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func (e testEnv) upload(t *testing.T, s domain.Session) domain.ImageRef {
	t.Helper()
	data := pngBytes(t)
	ref, err := e.app.UploadImage(context.Background(), s, bytes.NewReader(data), int64(len(data)), "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return ref
}

func (e testEnv) post(t *testing.T, s domain.Session, title, description string, tags ...string) domain.Artwork {
	t.Helper()
	ref := e.upload(t, s)
	art, err := e.app.CreateArtwork(context.Background(), s, NewArtwork{
		Title:       title,
		Description: description,
		ImagePath:   ref.Path,
		Hashtags:    tags,
	})
	if err != nil {
		t.Fatalf("create artwork %q: %v", title, err)
	}
	return art
}

func TestSignUpAndLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, token, err := env.app.SignUp(ctx, SignUpInput{Email: " Ada@Example.com ", Password: "secret1", Username: "ada"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if user.Email != "ada@example.com" || token == "" {
		t.Fatalf("unexpected signup result: %+v token=%q", user, token)
	}
	if _, _, err := env.app.SignUp(ctx, SignUpInput{Email: "ada@example.com", Password: "secret1", Username: "ada2"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if _, _, err := env.app.Login(ctx, "ada@example.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	_, loginToken, err := env.app.Login(ctx, "ADA@example.com", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := env.app.Logout(ctx, loginToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := env.app.SessionFromToken(ctx, loginToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}
}

func TestLogoutEverywhere(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.signUp(t, "ada@example.com", "ada")
	_, second, err := env.app.Login(ctx, "ada@example.com", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := env.app.LogoutEverywhere(ctx, domain.Session{}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if err := env.app.LogoutEverywhere(ctx, ada); err != nil {
		t.Fatalf("logout everywhere: %v", err)
	}
	if _, err := env.app.SessionFromToken(ctx, second); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected second device to be logged out, got %v", err)
	}

	objects, err := storage.NewFileStore(t.TempDir(), "http://localhost/files")
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	opaque, err := New(Config{Store: store.NewMemoryStore(), Sessions: store.NewRedisSessionStore(nil, time.Hour), Objects: objects})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if err := opaque.LogoutEverywhere(ctx, ada); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("opaque sessions should not support logout everywhere, got %v", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []SignUpInput{
		{Email: "not-an-email", Password: "secret1", Username: "ada"},
		{Email: "a@example.com", Password: "short", Username: "ada"},
		{Email: "a@example.com", Password: "secret1", Username: "a"},
		{Email: "a@example.com", Password: "secret1", Username: "bad name"},
	}
	for _, in := range cases {
		if _, _, err := env.app.SignUp(context.Background(), in); domain.KindOf(err) != domain.KindValidation {
			t.Fatalf("signup %+v: expected validation error, got %v", in, err)
		}
	}
}

func TestUpdateProfileOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.signUp(t, "ada@example.com", "ada")
	bob := env.signUp(t, "bob@example.com", "bob")

	bio := "painter"
	if _, err := env.app.UpdateProfile(ctx, bob, ada.UserID, domain.ProfilePatch{Bio: &bio}); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	ref := env.upload(t, ada)
	updated, err := env.app.UpdateProfile(ctx, ada, ada.UserID, domain.ProfilePatch{Bio: &bio, ProfileImageKey: &ref.Path})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Bio != "painter" || updated.ProfileImageURL != ref.URL {
		t.Fatalf("unexpected profile: %+v", updated)
	}

	bogus := "../etc/passwd"
	if _, err := env.app.UpdateProfile(ctx, ada, ada.UserID, domain.ProfilePatch{ProfileImageKey: &bogus}); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error for foreign key, got %v", err)
	}
}

func TestUploadRejectsNonImages(t *testing.T) {
	env := newTestEnv(t)
	ada := env.signUp(t, "ada@example.com", "ada")
	ctx := context.Background()

	text := []byte("just some text, not an image")
	if _, err := env.app.UploadImage(ctx, ada, bytes.NewReader(text), int64(len(text)), ""); !errors.Is(err, ErrNotImage) {
		t.Fatalf("expected ErrNotImage, got %v", err)
	}
	if _, err := env.app.UploadImage(ctx, ada, bytes.NewReader(text), int64(len(text)), "text/plain"); !errors.Is(err, ErrNotImage) {
		t.Fatalf("expected ErrNotImage for text/plain, got %v", err)
	}
	if _, err := env.app.UploadImage(ctx, ada, bytes.NewReader(text), env.app.MaxUploadBytes()+1, "image/png"); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
	if _, err := env.app.UploadImage(ctx, domain.Session{}, bytes.NewReader(text), 1, "image/png"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	ref := env.upload(t, ada)
	if !strings.HasPrefix(ref.Path, "images/"+ada.UserID+"/") || !strings.HasPrefix(ref.URL, "http://localhost:8080/files/images/") {
		t.Fatalf("unexpected image ref: %+v", ref)
	}
}

func TestCreateArtworkNormalizesAndValidates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.signUp(t, "ada@example.com", "ada")

	art := env.post(t, ada, " Sunset ", "orange sky", "Nature", "#nature", " #Sky ", "")
	if art.Title != "Sunset" || art.Artist != "ada" || art.UserID != ada.UserID {
		t.Fatalf("unexpected artwork: %+v", art)
	}
	if diff := cmp.Diff([]string{"#nature", "#sky"}, art.Hashtags); diff != "" {
		t.Fatalf("hashtags mismatch (-want +got):\n%s", diff)
	}

	ref := env.upload(t, ada)
	bad := []NewArtwork{
		{Title: "", Description: "d", ImagePath: ref.Path},
		{Title: "t", Description: " ", ImagePath: ref.Path},
		{Title: "t", Description: "d", ImagePath: "elsewhere/x.png"},
		{Title: "t", Description: "d", ImagePath: ref.Path, Coords: &domain.Coords{Latitude: 91}},
		{Title: "t", Description: "d", ImagePath: ref.Path, Coords: &domain.Coords{Longitude: -181}},
	}
	for _, in := range bad {
		if _, err := env.app.CreateArtwork(ctx, ada, in); domain.KindOf(err) != domain.KindValidation {
			t.Fatalf("create %+v: expected validation error, got %v", in, err)
		}
	}
}

func TestArtworkImageMustBelongToCaller(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	victim := env.signUp(t, "victim@example.com", "victim")
	mallory := env.signUp(t, "mallory@example.com", "mallory")
	art := env.post(t, victim, "Sunset", "evening sky")

	stolen := NewArtwork{Title: "Mine now", Description: "copy", ImagePath: art.ImagePath}
	if _, err := env.app.CreateArtwork(ctx, mallory, stolen); !errors.Is(err, ErrImageNotOwned) {
		t.Fatalf("expected ErrImageNotOwned for another user's key, got %v", err)
	}
	if _, err := env.app.UpdateProfile(ctx, mallory, mallory.UserID, domain.ProfilePatch{ProfileImageKey: &art.ImagePath}); !errors.Is(err, ErrImageNotOwned) {
		t.Fatalf("expected ErrImageNotOwned for profile picture, got %v", err)
	}
	for _, key := range []string{
		"images/does-not-exist",
		"images/" + mallory.UserID + "/never-uploaded",
		"images/" + mallory.UserID + "/../" + victim.UserID + "/x",
		"images/" + mallory.UserID + "/",
	} {
		in := NewArtwork{Title: "t", Description: "d", ImagePath: key}
		if _, err := env.app.CreateArtwork(ctx, mallory, in); domain.KindOf(err) != domain.KindValidation {
			t.Fatalf("key %q: expected validation error, got %v", key, err)
		}
	}

	// A row that slipped in with a foreign key must not take the object with it.
	legacy := domain.Artwork{ID: "legacy", UserID: mallory.UserID, Artist: "mallory", Title: "x", ImagePath: art.ImagePath, Date: time.Now().UTC()}
	if err := env.store.CreateArtwork(ctx, legacy); err != nil {
		t.Fatalf("seed legacy artwork: %v", err)
	}
	if err := env.app.DeleteArtwork(ctx, mallory, legacy.ID); err != nil {
		t.Fatalf("delete legacy artwork: %v", err)
	}
	if ok, err := env.objects.Exists(ctx, art.ImagePath); err != nil || !ok {
		t.Fatalf("victim image must survive: ok=%v err=%v", ok, err)
	}
}

func TestDeleteArtworkKeepsProfilePicture(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.signUp(t, "ada@example.com", "ada")
	ref := env.upload(t, ada)
	if _, err := env.app.UpdateProfile(ctx, ada, ada.UserID, domain.ProfilePatch{ProfileImageKey: &ref.Path}); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	art, err := env.app.CreateArtwork(ctx, ada, NewArtwork{Title: "Me", Description: "self portrait", ImagePath: ref.Path})
	if err != nil {
		t.Fatalf("create artwork: %v", err)
	}
	if err := env.app.DeleteArtwork(ctx, ada, art.ID); err != nil {
		t.Fatalf("delete artwork: %v", err)
	}
	if ok, err := env.objects.Exists(ctx, ref.Path); err != nil || !ok {
		t.Fatalf("profile picture must survive: ok=%v err=%v", ok, err)
	}
}

func TestListArtworksOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.signUp(t, "ada@example.com", "ada")
	first := env.post(t, ada, "First", "one")
	time.Sleep(2 * time.Millisecond)
	second := env.post(t, ada, "Second", "two")

	newest, err := env.app.ListArtworks(ctx, "", domain.Page{})
	if err != nil {
		t.Fatalf("list newest: %v", err)
	}
	if len(newest) != 2 || newest[0].ID != second.ID {
		t.Fatalf("expected newest first, got %+v", newest)
	}
	oldest, err := env.app.ListArtworks(ctx, domain.OrderOldest, domain.Page{})
	if err != nil {
		t.Fatalf("list oldest: %v", err)
	}
	if oldest[0].ID != first.ID {
		t.Fatalf("expected oldest first, got %+v", oldest)
	}
	if _, err := env.app.ListArtworks(ctx, "random", domain.Page{}); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error for unknown order, got %v", err)
	}
}

func TestConcurrentLikesAreNotLost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.signUp(t, "ada@example.com", "ada")
	bob := env.signUp(t, "bob@example.com", "bob")
	art := env.post(t, ada, "Sunset", "orange sky")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, s := range []domain.Session{ada, bob} {
		wg.Add(1)
		go func(s domain.Session) {
			defer wg.Done()
			_, err := env.app.ToggleLike(ctx, s, art.ID)
			errs <- err
		}(s)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("toggle like: %v", err)
		}
	}

	set, ok, err := env.store.GetLikeSet(ctx, art.ID)
	if err != nil || !ok {
		t.Fatalf("get like set: ok=%v err=%v", ok, err)
	}
	if !set.Has(ada.UserID) || !set.Has(bob.UserID) || len(set.UserIDs) != 2 {
		t.Fatalf("expected both likes present, got %+v", set.UserIDs)
	}
}

func TestToggleLikeTwiceRestoresState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.signUp(t, "ada@example.com", "ada")
	art := env.post(t, ada, "Sunset", "orange sky")

	on, err := env.app.ToggleLike(ctx, ada, art.ID)
	if err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if !on.LikedByMe || on.Count != 1 {
		t.Fatalf("expected liked, got %+v", on)
	}
	off, err := env.app.ToggleLike(ctx, ada, art.ID)
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if off.LikedByMe || off.Count != 0 {
		t.Fatalf("expected unliked, got %+v", off)
	}
	if _, err := env.app.ToggleLike(ctx, ada, "missing"); !errors.Is(err, ErrArtworkNotFound) {
		t.Fatalf("expected ErrArtworkNotFound, got %v", err)
	}

	got := env.events.types()
	want := []events.Type{events.LikeToggled, events.LikeToggled}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	if _, err := env.app.ToggleLike(util.ContextWithRequestID(ctx, "req-7"), ada, art.ID); err != nil {
		t.Fatalf("third toggle: %v", err)
	}
	env.events.mu.Lock()
	last := env.events.events[len(env.events.events)-1]
	env.events.mu.Unlock()
	if last.RequestID != "req-7" {
		t.Fatalf("event request id = %q, want req-7", last.RequestID)
	}
}

// contendedStore loses every compare-and-swap while contend is set, as if
// another writer always got there first.
type contendedStore struct {
	*store.MemoryStore
	contend atomic.Bool
	writes  atomic.Int32
}

func (c *contendedStore) ReplaceLikes(ctx context.Context, artworkID string, userIDs []string, expected int64) (domain.LikeSet, error) {
	if c.contend.Load() {
		c.writes.Add(1)
		return domain.LikeSet{}, store.ErrVersionConflict
	}
	return c.MemoryStore.ReplaceLikes(ctx, artworkID, userIDs, expected)
}

func (c *contendedStore) ReplaceComments(ctx context.Context, artworkID string, comments []domain.Comment, expected int64) (domain.CommentThread, error) {
	if c.contend.Load() {
		c.writes.Add(1)
		return domain.CommentThread{}, store.ErrVersionConflict
	}
	return c.MemoryStore.ReplaceComments(ctx, artworkID, comments, expected)
}

func TestEngagementGivesUpAfterMaxWriteAttempts(t *testing.T) {
	env := newTestEnv(t)
	contended := &contendedStore{MemoryStore: env.store}
	env.app.store = contended
	ctx := context.Background()
	ada := env.signUp(t, "ada@example.com", "ada")
	art := env.post(t, ada, "Sunset", "evening sky")
	comment, err := env.app.AddComment(ctx, ada, art.ID, "first")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	published := len(env.events.types())

	contended.contend.Store(true)
	ops := map[string]func() error{
		"toggle like": func() error {
			_, err := env.app.ToggleLike(ctx, ada, art.ID)
			return err
		},
		"add comment": func() error {
			_, err := env.app.AddComment(ctx, ada, art.ID, "second")
			return err
		},
		"delete comment": func() error {
			return env.app.DeleteComment(ctx, ada, art.ID, comment.CommentID)
		},
	}
	for name, op := range ops {
		contended.writes.Store(0)
		err := op()
		if !errors.Is(err, ErrWriteConflict) || domain.KindOf(err) != domain.KindConflict {
			t.Fatalf("%s: expected ErrWriteConflict, got %v", name, err)
		}
		if got := contended.writes.Load(); got != maxWriteAttempts {
			t.Fatalf("%s: %d write attempts, want %d", name, got, maxWriteAttempts)
		}
	}
	if got := len(env.events.types()); got != published {
		t.Fatalf("failed writes published %d events", got-published)
	}

	contended.contend.Store(false)
	likes, err := env.app.GetLikes(ctx, ada, art.ID)
	if err != nil || likes.Count != 0 {
		t.Fatalf("likes changed by failed toggles: %+v err=%v", likes, err)
	}
}

func TestCommentAuthorship(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.signUp(t, "ada@example.com", "ada")
	bob := env.signUp(t, "bob@example.com", "bob")
	art := env.post(t, ada, "Sunset", "orange sky")

	if _, err := env.app.AddComment(ctx, bob, art.ID, "   "); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error for blank comment, got %v", err)
	}
	c1, err := env.app.AddComment(ctx, bob, art.ID, " lovely ")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if c1.Comment != "lovely" || c1.CommentAuthor != bob.UserID || c1.CommentID == "" {
		t.Fatalf("unexpected comment: %+v", c1)
	}
	if _, err := env.app.AddComment(ctx, ada, art.ID, "thanks"); err != nil {
		t.Fatalf("add second comment: %v", err)
	}

	if err := env.app.DeleteComment(ctx, ada, art.ID, c1.CommentID); !errors.Is(err, ErrNotCommentAuthor) {
		t.Fatalf("expected ErrNotCommentAuthor, got %v", err)
	}
	if err := env.app.DeleteComment(ctx, bob, art.ID, "nope"); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected ErrCommentNotFound, got %v", err)
	}
	if err := env.app.DeleteComment(ctx, bob, art.ID, c1.CommentID); err != nil {
		t.Fatalf("delete comment: %v", err)
	}

	comments, err := env.app.ListComments(ctx, art.ID)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 1 || comments[0].Comment != "thanks" {
		t.Fatalf("unexpected comments: %+v", comments)
	}
}

func TestSearchFindsSunsetByHashtagAndTitle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.signUp(t, "ada@example.com", "ada")
	art := env.post(t, ada, "Sunset", "evening sky", "#sunset")
	env.post(t, ada, "Harbor", "boats at noon", "#sea")

	byTag, err := env.app.Search(ctx, domain.SearchQuery{Field: domain.SearchHashtag, Text: "#sunset"})
	if err != nil {
		t.Fatalf("hashtag search: %v", err)
	}
	if len(byTag.Artworks) != 1 || byTag.Artworks[0].ID != art.ID {
		t.Fatalf("hashtag #sunset should return exactly the sunset artwork, got %+v", byTag.Artworks)
	}

	byTitle, err := env.app.Search(ctx, domain.SearchQuery{Field: domain.SearchTitle, Text: "sun"})
	if err != nil {
		t.Fatalf("title search: %v", err)
	}
	if len(byTitle.Artworks) != 1 || byTitle.Artworks[0].ID != art.ID {
		t.Fatalf("title \"sun\" should return the sunset artwork, got %+v", byTitle.Artworks)
	}
}

func TestSearchScenarios(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.signUp(t, "ada@example.com", "ada")
	adam := env.signUp(t, "adam@example.com", "Adam")
	env.post(t, ada, "Sunset over hills", "orange", "#Nature")
	env.post(t, ada, "Portrait", "a quiet sunset glow", "#people")
	env.post(t, adam, "City", "night lights")

	res, err := env.app.Search(ctx, domain.SearchQuery{Text: "sunset"})
	if err != nil {
		t.Fatalf("title search: %v", err)
	}
	if res.Field != domain.SearchTitle || len(res.Artworks) != 2 {
		t.Fatalf("expected 2 sunset matches, got %+v", res)
	}

	res, err = env.app.Search(ctx, domain.SearchQuery{Field: domain.SearchHashtag, Text: "NATURE"})
	if err != nil {
		t.Fatalf("hashtag search: %v", err)
	}
	if res.Query != "#nature" || len(res.Artworks) != 1 {
		t.Fatalf("unexpected hashtag result: %+v", res)
	}

	res, err = env.app.Search(ctx, domain.SearchQuery{Field: domain.SearchHashtag, Text: "n"})
	if err != nil {
		t.Fatalf("short hashtag search: %v", err)
	}
	if len(res.Artworks) != 0 {
		t.Fatalf("expected no results for one-character hashtag, got %+v", res.Artworks)
	}

	res, err = env.app.Search(ctx, domain.SearchQuery{Field: domain.SearchUsername, Text: "AD"})
	if err != nil {
		t.Fatalf("username search: %v", err)
	}
	counts := map[string]int{}
	for _, m := range res.Users {
		counts[m.User.Username] = m.ArtworkCount
	}
	if diff := cmp.Diff(map[string]int{"ada": 2, "Adam": 1}, counts); diff != "" {
		t.Fatalf("username matches mismatch (-want +got):\n%s", diff)
	}

	res, err = env.app.Search(ctx, domain.SearchQuery{Text: "   "})
	if err != nil || len(res.Artworks) != 0 {
		t.Fatalf("blank search: res=%+v err=%v", res, err)
	}
	if _, err := env.app.Search(ctx, domain.SearchQuery{Field: "color", Text: "red"}); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error for unknown field, got %v", err)
	}
}

func TestDeleteArtworkOwnerOnlyKeepsEngagement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.signUp(t, "ada@example.com", "ada")
	bob := env.signUp(t, "bob@example.com", "bob")
	art := env.post(t, ada, "Sunset", "orange sky")
	if _, err := env.app.ToggleLike(ctx, bob, art.ID); err != nil {
		t.Fatalf("toggle like: %v", err)
	}

	if err := env.app.DeleteArtwork(ctx, bob, art.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := env.app.DeleteArtwork(ctx, ada, art.ID); err != nil {
		t.Fatalf("delete artwork: %v", err)
	}
	if _, err := env.app.GetArtwork(ctx, art.ID); !errors.Is(err, ErrArtworkNotFound) {
		t.Fatalf("expected artwork gone, got %v", err)
	}
	set, ok, err := env.store.GetLikeSet(ctx, art.ID)
	if err != nil || !ok || !set.Has(bob.UserID) {
		t.Fatalf("expected like set to survive delete: set=%+v ok=%v err=%v", set, ok, err)
	}
	if _, err := env.objects.URL(ctx, art.ImagePath); err != nil {
		t.Fatalf("url: %v", err)
	}
}

func TestDeleteArtworkQueuesImageCleanup(t *testing.T) {
	env := newTestEnv(t)
	cleaner := &fakeCleaner{}
	env.app.cleaner = cleaner
	ctx := context.Background()
	ada := env.signUp(t, "ada@example.com", "ada")
	art := env.post(t, ada, "Sunset", "orange sky")

	if err := env.app.DeleteArtwork(ctx, ada, art.ID); err != nil {
		t.Fatalf("delete artwork: %v", err)
	}
	if diff := cmp.Diff([]string{art.ImagePath}, cleaner.keys); diff != "" {
		t.Fatalf("cleanup keys mismatch (-want +got):\n%s", diff)
	}
	if err := env.app.CleanupImage(ctx, queue.CleanupJob{ObjectKey: art.ImagePath}); err != nil {
		t.Fatalf("cleanup image: %v", err)
	}
}

func TestArtworkDetails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.signUp(t, "ada@example.com", "ada")
	bob := env.signUp(t, "bob@example.com", "bob")
	art := env.post(t, ada, "Sunset", "orange sky")
	if _, err := env.app.ToggleLike(ctx, bob, art.ID); err != nil {
		t.Fatalf("toggle like: %v", err)
	}
	if _, err := env.app.AddComment(ctx, bob, art.ID, "wow"); err != nil {
		t.Fatalf("add comment: %v", err)
	}

	details, err := env.app.GetArtworkDetails(ctx, bob, art.ID)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.Owner == nil || details.Owner.ID != ada.UserID {
		t.Fatalf("expected owner ada, got %+v", details.Owner)
	}
	if details.Likes.Count != 1 || !details.Likes.LikedByMe || len(details.Comments) != 1 {
		t.Fatalf("unexpected engagement: %+v", details)
	}
	if _, err := env.app.GetArtworkDetails(ctx, bob, "missing"); !errors.Is(err, ErrArtworkNotFound) {
		t.Fatalf("expected ErrArtworkNotFound, got %v", err)
	}
}

func TestNormalizeHashtags(t *testing.T) {
	got := NormalizeHashtags([]string{"Art", "#art", "##Oil", " ", "#"})
	if diff := cmp.Diff([]string{"#art", "#oil"}, got); diff != "" {
		t.Fatalf("normalize mismatch (-want +got):\n%s", diff)
	}
}

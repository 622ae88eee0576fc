// Command seed bulk-imports users and artworks from a YAML manifest into the
// configured backends.
//
//	seed <manifest.yaml>
//
// Users are logged in when they already exist and signed up otherwise. Image
// paths are resolved relative to the manifest; http(s) URLs are fetched.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"artvista/internal/util"
	"artvista/pkg/domain"
	"artvista/services/artvista/internal/app"
	"artvista/services/artvista/internal/bootstrap"
	"artvista/services/artvista/internal/config"
)

type manifest struct {
	Users    []seedUser    `yaml:"users"`
	Artworks []seedArtwork `yaml:"artworks"`
}

type seedUser struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Username string `yaml:"username"`
	Bio      string `yaml:"bio"`
}

type seedArtwork struct {
	Owner       string         `yaml:"owner"`
	Title       string         `yaml:"title"`
	Description string         `yaml:"description"`
	Image       string         `yaml:"image"`
	Hashtags    []string       `yaml:"hashtags"`
	Coords      *domain.Coords `yaml:"coords"`
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <manifest.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		exitErr(err)
	}
	util.InitLogger(cfg.LogLevel)

	m, err := loadManifest(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	a, err := newApp(context.Background(), cfg)
	if err != nil {
		exitErr(err)
	}
	defer a.Close()

	created, err := seed(context.Background(), a, m, filepath.Dir(os.Args[1]))
	if err != nil {
		exitErr(err)
	}
	slog.Info("seed complete", "users", len(m.Users), "artworks", created)
}

func newApp(ctx context.Context, cfg config.FileConfig) (*app.App, error) {
	client := bootstrap.NewRedisClient(cfg)
	docs, err := bootstrap.NewDocumentStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	objects, _, err := bootstrap.NewObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sessions, err := bootstrap.NewSessionStore(cfg, client)
	if err != nil {
		return nil, err
	}
	publisher, _, err := bootstrap.NewEvents(cfg, client)
	if err != nil {
		return nil, err
	}
	return app.New(app.Config{
		Store:          docs,
		Sessions:       sessions,
		Objects:        objects,
		Events:         publisher,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
}

func loadManifest(path string) (manifest, error) {
	var m manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// seed returns the number of artworks created.
func seed(ctx context.Context, a *app.App, m manifest, baseDir string) (int, error) {
	sessions := make(map[string]domain.Session, len(m.Users))
	for _, u := range m.Users {
		s, err := ensureUser(ctx, a, u)
		if err != nil {
			return 0, fmt.Errorf("user %s: %w", u.Email, err)
		}
		sessions[strings.ToLower(strings.TrimSpace(u.Email))] = s
	}

	created := 0
	for i, art := range m.Artworks {
		s, ok := sessions[strings.ToLower(strings.TrimSpace(art.Owner))]
		if !ok {
			return created, fmt.Errorf("artwork %d: owner %q is not a manifest user", i, art.Owner)
		}
		ref, err := a.UploadImageFromURI(ctx, s, resolveImage(baseDir, art.Image))
		if err != nil {
			return created, fmt.Errorf("artwork %q: upload: %w", art.Title, err)
		}
		out, err := a.CreateArtwork(ctx, s, app.NewArtwork{
			Title:       art.Title,
			Description: art.Description,
			ImagePath:   ref.Path,
			Hashtags:    art.Hashtags,
			Coords:      art.Coords,
		})
		if err != nil {
			return created, fmt.Errorf("artwork %q: %w", art.Title, err)
		}
		slog.Info("artwork seeded", "artwork_id", out.ID, "title", out.Title, "owner", s.Username)
		created++
	}
	return created, nil
}

func ensureUser(ctx context.Context, a *app.App, u seedUser) (domain.Session, error) {
	_, token, err := a.Login(ctx, u.Email, u.Password)
	if errors.Is(err, app.ErrInvalidCredentials) {
		var user domain.User
		user, token, err = a.SignUp(ctx, app.SignUpInput{Email: u.Email, Password: u.Password, Username: u.Username})
		if err == nil {
			slog.Info("user created", "user_id", user.ID, "username", user.Username)
		}
	}
	if err != nil {
		return domain.Session{}, err
	}
	s, err := a.SessionFromToken(ctx, token)
	if err != nil {
		return domain.Session{}, err
	}
	if bio := strings.TrimSpace(u.Bio); bio != "" {
		if _, err := a.UpdateProfile(ctx, s, s.UserID, domain.ProfilePatch{Bio: &bio}); err != nil {
			return domain.Session{}, err
		}
	}
	return s, nil
}

func resolveImage(baseDir, image string) string {
	image = strings.TrimSpace(image)
	if strings.Contains(image, "://") || filepath.IsAbs(image) {
		return image
	}
	return filepath.Join(baseDir, image)
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

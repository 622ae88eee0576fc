package app

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"artvista/internal/util"
	"artvista/pkg/auth"
	"artvista/pkg/domain"
	"artvista/pkg/store"
)

// SignUpInput is the registration form.
type SignUpInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// SignUp registers a user and issues a session token.
func (a *App) SignUp(ctx context.Context, in SignUpInput) (domain.User, string, error) {
	const op = "signup"
	email := normalizeEmail(in.Email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return domain.User{}, "", invalid(op, "a valid email is required")
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return domain.User{}, "", invalid(op, err.Error())
	}
	username := strings.TrimSpace(in.Username)
	if err := auth.ValidateUsername(username); err != nil {
		return domain.User{}, "", invalid(op, err.Error())
	}

	exists, err := a.store.HasUserEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", unavailable(op, err)
	}
	if exists {
		return domain.User{}, "", ErrEmailTaken
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, "", domain.E(domain.KindInternal, op, "", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:            util.NewID(),
		Username:      username,
		UsernameLower: strings.ToLower(username),
		Email:         email,
		PasswordHash:  hash,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.SaveUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.User{}, "", ErrEmailTaken
		}
		return domain.User{}, "", unavailable(op, err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", unavailable(op, err)
	}
	return user, token, nil
}

// Login validates credentials and issues a session token.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	const op = "login"
	user, ok, err := a.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return domain.User{}, "", unavailable(op, err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", unavailable(op, err)
	}
	return user, token, nil
}

// Logout revokes the session token.
func (a *App) Logout(_ context.Context, token string) error {
	if err := a.sessions.DeleteSession(token); err != nil {
		return unavailable("logout", err)
	}
	return nil
}

// LogoutEverywhere ends every session of the caller issued up to now. Only
// session backends that can revoke by user support it.
func (a *App) LogoutEverywhere(ctx context.Context, s domain.Session) error {
	if err := requireSession(s); err != nil {
		return err
	}
	revoker, ok := a.sessions.(store.UserSessionRevoker)
	if !ok {
		return invalid("logout", "this deployment cannot end all sessions")
	}
	if err := revoker.RevokeUserSessions(s.UserID, time.Now().UTC()); err != nil {
		return unavailable("logout", err)
	}
	util.LoggerFromContext(ctx).Info("all sessions revoked", "user_id", s.UserID)
	return nil
}

// SessionFromToken resolves the caller behind a bearer token.
func (a *App) SessionFromToken(ctx context.Context, token string) (domain.Session, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Session{}, ErrUnauthenticated
	}
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.Session{}, ErrUnauthenticated
	}
	user, found, err := a.store.GetUserByID(ctx, uid)
	if err != nil {
		return domain.Session{}, unavailable("session", err)
	}
	if !found {
		return domain.Session{}, ErrUnauthenticated
	}
	return domain.Session{UserID: user.ID, Username: user.Username, Email: user.Email}, nil
}

func (a *App) GetProfile(ctx context.Context, userID string) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, unavailable("get profile", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// UpdateProfile changes bio and picture. Only the profile owner may call it;
// a new picture must be an uploaded image key.
func (a *App) UpdateProfile(ctx context.Context, s domain.Session, userID string, patch domain.ProfilePatch) (domain.User, error) {
	const op = "update profile"
	if err := requireSession(s); err != nil {
		return domain.User{}, err
	}
	if s.UserID != userID {
		return domain.User{}, ErrNotOwner
	}
	if patch.Bio != nil {
		bio := strings.TrimSpace(*patch.Bio)
		patch.Bio = &bio
	}
	patch.ProfileImageURL = nil
	if patch.ProfileImageKey != nil {
		key := strings.TrimSpace(*patch.ProfileImageKey)
		if err := a.ownedImage(ctx, op, s, key); err != nil {
			return domain.User{}, err
		}
		url, err := a.objects.URL(ctx, key)
		if err != nil {
			return domain.User{}, unavailable(op, err)
		}
		patch.ProfileImageKey = &key
		patch.ProfileImageURL = &url
	}
	user, ok, err := a.store.UpdateUserProfile(ctx, userID, patch)
	if err != nil {
		return domain.User{}, unavailable(op, err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

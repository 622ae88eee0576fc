package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"artvista/internal/ratelimit"
	"artvista/internal/util"
	"artvista/pkg/domain"
	"artvista/pkg/events"
	"artvista/pkg/store"
	"artvista/services/artvista/internal/app"
	"artvista/services/artvista/internal/security"
)

const maxJSONBody = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                      *app.App
	Redis                    redis.UniversalClient
	Subscriber               events.Subscriber
	JWKS                     store.JWKSProvider
	CORSOrigins              []string
	TrustedProxyCIDRs        []string
	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int
	// FilesPath and FilesRoot expose a local object directory over HTTP.
	FilesPath string
	FilesRoot string
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app           *app.App
	subscriber    events.Subscriber
	jwks          store.JWKSProvider
	proxies       *util.TrustedProxies
	corsOrigins   util.Origins
	upgrader      websocket.Upgrader
	mux           *http.ServeMux
	signupLimiter *ratelimit.FixedWindowLimiter
	loginLimiter  *ratelimit.FixedWindowLimiter
	alerter       *security.AuditAlerter
	filesPath     string
	filesRoot     string
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app required")
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	signupLimit := cfg.SignupRateLimitPerMinute
	if signupLimit <= 0 {
		signupLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	s := &Server{
		app:         cfg.App,
		subscriber:  cfg.Subscriber,
		jwks:        cfg.JWKS,
		proxies:     proxies,
		corsOrigins: util.NewOrigins(cfg.CORSOrigins),
		mux:         http.NewServeMux(),
		filesPath:   cfg.FilesPath,
		filesRoot:   cfg.FilesRoot,
		alerter:     security.NewAuditAlerter(cfg.Redis, ""),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.corsOrigins.Allows(r.Header.Get("Origin"))
		},
	}
	if cfg.Redis != nil {
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "artvista:ratelimit:"+name, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		if s.signupLimiter, err = newLimiter("signup", signupLimit); err != nil {
			return nil, err
		}
		if s.loginLimiter, err = newLimiter("login", loginLimit); err != nil {
			return nil, err
		}
	} else {
		slog.Warn("rate limiting disabled: no redis configured")
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var media []string
	if s.filesRoot != "" && s.filesPath != "" {
		media = append(media, "/"+strings.Trim(s.filesPath, "/")+"/")
	}
	h := util.WithSecurityHeaders(util.SecurityHeaders{MediaPrefixes: media}, util.WithCORS(s.corsOrigins, s.mux))
	return util.WithRequestID(util.WithRequestLog(h))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.HandleFunc("/.well-known/jwks.json", s.handleJWKS)

	// users
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/users/", s.authenticated(s.handleUserByID))

	// images, artworks, search
	s.mux.Handle("/api/images", s.authenticated(s.handleImages))
	s.mux.Handle("/api/artworks", s.authenticated(s.handleArtworks))
	s.mux.Handle("/api/artworks/", s.authenticated(s.handleArtworkByID))
	s.mux.Handle("/api/search", s.authenticated(s.handleSearch))

	if s.filesRoot != "" && s.filesPath != "" {
		prefix := "/" + strings.Trim(s.filesPath, "/") + "/"
		s.mux.Handle(prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(s.filesRoot))))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, domain.KindUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrapper
type authHandler func(http.ResponseWriter, *http.Request, domain.Session)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "authorize", "fail", "reason", "missing_token")
			writeAppError(w, app.ErrUnauthenticated)
			return
		}
		session, err := s.app.SessionFromToken(r.Context(), token)
		if err != nil {
			s.audit(r, "authorize", "fail", "reason", string(domain.KindOf(err)))
			writeAppError(w, err)
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", session.UserID))
		next(w, r.WithContext(ctx), session)
	})
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "signup", "rate_limited")
		return
	}
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "signup", "fail", "reason", "invalid_json")
		return
	}
	user, token, err := s.app.SignUp(r.Context(), app.SignUpInput{Email: req.Email, Password: req.Password, Username: req.Username})
	if err != nil {
		s.audit(r, "signup", "fail", "reason", string(domain.KindOf(err)))
		writeAppError(w, err)
		return
	}
	s.audit(r, "signup", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "login", "rate_limited")
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "login", "fail", "reason", "invalid_json")
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "login", "fail", "reason", string(domain.KindOf(err)))
		writeAppError(w, err)
		return
	}
	s.audit(r, "login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "logout", "fail", "reason", "missing_token")
		writeAppError(w, app.ErrUnauthenticated)
		return
	}
	if r.URL.Query().Get("all") == "true" {
		session, err := s.app.SessionFromToken(r.Context(), token)
		if err == nil {
			err = s.app.LogoutEverywhere(r.Context(), session)
		}
		if err != nil {
			s.audit(r, "logout", "fail", "reason", string(domain.KindOf(err)), "scope", "all")
			writeAppError(w, err)
			return
		}
		s.audit(r, "logout", "success", "scope", "all", "user_id", session.UserID)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := s.app.Logout(r.Context(), token); err != nil {
		s.audit(r, "logout", "fail", "reason", string(domain.KindOf(err)))
		writeAppError(w, err)
		return
	}
	s.audit(r, "logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	var keys []store.JWK
	if s.jwks != nil {
		keys = s.jwks.JWKS()
	}
	if len(keys) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, session domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user, err := s.app.GetProfile(r.Context(), session.UserID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// /api/users/{id} or /api/users/{id}/artworks
func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request, session domain.Session) {
	id, rest := splitID(r.URL.Path, "/api/users/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch {
	case rest == "artworks":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		items, err := s.app.ListArtworksByUser(r.Context(), id, pageFromQuery(r))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeItems(w, items)
	case rest != "":
		http.NotFound(w, r)
	case r.Method == http.MethodGet:
		user, err := s.app.GetProfile(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case r.Method == http.MethodPatch:
		var patch domain.ProfilePatch
		if !decodeJSON(w, r, &patch) {
			return
		}
		user, err := s.app.UpdateProfile(r.Context(), session, id, patch)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request, session domain.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxUploadBytes()+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAppError(w, app.ErrImageTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, domain.KindValidation, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.KindValidation, "file is required (field: file)")
		return
	}
	defer file.Close()
	ref, err := s.app.UploadImage(r.Context(), session, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

// /api/artworks
func (s *Server) handleArtworks(w http.ResponseWriter, r *http.Request, session domain.Session) {
	switch r.Method {
	case http.MethodGet:
		order := domain.SortOrder(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("order"))))
		items, err := s.app.ListArtworks(r.Context(), order, pageFromQuery(r))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeItems(w, items)
	case http.MethodPost:
		var req app.NewArtwork
		if !decodeJSON(w, r, &req) {
			return
		}
		artwork, err := s.app.CreateArtwork(r.Context(), session, req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, artwork)
	default:
		methodNotAllowed(w)
	}
}

// /api/artworks/{id}[/likes|/likes/toggle|/comments|/comments/{commentId}|/live]
func (s *Server) handleArtworkByID(w http.ResponseWriter, r *http.Request, session domain.Session) {
	id, rest := splitID(r.URL.Path, "/api/artworks/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch {
	case rest == "":
		s.handleArtwork(w, r, session, id)
	case rest == "likes":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		summary, err := s.app.GetLikes(r.Context(), session, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	case rest == "likes/toggle":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		summary, err := s.app.ToggleLike(r.Context(), session, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	case rest == "comments":
		s.handleComments(w, r, session, id)
	case strings.HasPrefix(rest, "comments/"):
		commentID := strings.TrimPrefix(rest, "comments/")
		if commentID == "" || strings.Contains(commentID, "/") {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := s.app.DeleteComment(r.Context(), session, id, commentID); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case rest == "live":
		s.handleLive(w, r, session, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleArtwork(w http.ResponseWriter, r *http.Request, session domain.Session, id string) {
	switch r.Method {
	case http.MethodGet:
		details, err := s.app.GetArtworkDetails(r.Context(), session, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, details)
	case http.MethodDelete:
		if err := s.app.DeleteArtwork(r.Context(), session, id); err != nil {
			s.audit(r, "artwork.delete", "fail", "user_id", session.UserID, "artwork_id", id, "reason", string(domain.KindOf(err)))
			writeAppError(w, err)
			return
		}
		s.audit(r, "artwork.delete", "success", "user_id", session.UserID, "artwork_id", id)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type commentRequest struct {
	Comment string `json:"comment"`
}

func (s *Server) handleComments(w http.ResponseWriter, r *http.Request, session domain.Session, id string) {
	switch r.Method {
	case http.MethodGet:
		comments, err := s.app.ListComments(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": comments, "count": len(comments)})
	case http.MethodPost:
		var req commentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		comment, err := s.app.AddComment(r.Context(), session, id, req.Comment)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, comment)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, _ domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	res, err := s.app.Search(r.Context(), domain.SearchQuery{
		Field: domain.SearchField(strings.ToLower(strings.TrimSpace(q.Get("field")))),
		Text:  q.Get("q"),
		Page:  pageFromQuery(r),
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, domain.KindValidation, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// splitID returns the first path segment after prefix and the remainder.
func splitID(path, prefix string) (string, string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	id, tail, _ := strings.Cut(rest, "/")
	return id, tail
}

func pageFromQuery(r *http.Request) domain.Page {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return domain.Page{Limit: limit, Offset: offset}.Normalize()
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindValidation, "invalid JSON body")
		return false
	}
	return true
}

func writeItems(w http.ResponseWriter, items []domain.Artwork) {
	if items == nil {
		items = []domain.Artwork{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind domain.ErrorKind, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "kind": string(kind)})
}

// writeAppError maps a classified error to its HTTP status.
func writeAppError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	writeError(w, statusForKind(kind), kind, domain.MessageOf(err))
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.proxies.ClientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	result, err := s.alerter.Observe(r.Context(), event, outcome, s.proxies.ClientIP(r))
	if err != nil {
		logger.Warn("security alert observe failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert", append(logAttrs,
			"count", result.Count,
			"threshold", result.Rule.Threshold,
			"window", result.Rule.Window.String())...)
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + s.proxies.ClientIP(r)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, domain.KindUnavailable, msg)
	return false
}

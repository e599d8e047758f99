package api

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"training-backend/internal/database"
	"training-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type AuthMode string

const (
	SingleUser AuthMode = "single_user"
	MultiUser  AuthMode = "multi_user"
)

func ParseAuthMode(s string) (AuthMode, error) {
	switch m := AuthMode(s); m {
	case SingleUser, MultiUser:
		return m, nil
	}
	return "", fmt.Errorf("invalid auth mode '%s'", s)
}

const (
	SessionCookie     = "session_token"
	sessionDuration   = 30 * 24 * time.Hour
	minPasswordLength = 8
	defaultUserEmail  = "default@localhost"
)

type userIdKey struct{}

// UserId returns the authenticated user of the request.
func UserId(r *http.Request) (uuid.UUID, error) {
	id, ok := r.Context().Value(userIdKey{}).(uuid.UUID)
	if !ok {
		return uuid.Nil, CodedErrorf(http.StatusUnauthorized, "unauthenticated")
	}
	return id, nil
}

func withUserId(r *http.Request, id uuid.UUID) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userIdKey{}, id))
}

type AuthService struct {
	db   *gorm.DB
	mode AuthMode

	defaultUser uuid.UUID
}

// NewAuthService prepares authentication for the mode. In single user mode
// the default user is created if it does not exist yet.
func NewAuthService(ctx context.Context, db *gorm.DB, mode AuthMode) (*AuthService, error) {
	auth := &AuthService{db: db, mode: mode}
	if mode != SingleUser {
		return auth, nil
	}

	var user database.User
	if err := db.WithContext(ctx).Where(database.User{Email: defaultUserEmail}).Attrs(database.User{
		Id:           uuid.New(),
		PasswordHash: "-",
		CreationTime: time.Now().UTC(),
	}).FirstOrCreate(&user).Error; err != nil {
		return nil, fmt.Errorf("error creating default user: %w", err)
	}
	auth.defaultUser = user.Id

	return auth, nil
}

func (a *AuthService) AddRoutes(r chi.Router) {
	if a.mode != MultiUser {
		return
	}
	r.Post("/register", RestHandlerWithStatus(http.StatusCreated, a.Register))
	r.Post("/login", a.Login)
	r.Post("/logout", RestHandlerWithStatus(http.StatusNoContent, a.Logout))
}

func (a *AuthService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.mode == SingleUser {
			next.ServeHTTP(w, withUserId(r, a.defaultUser))
			return
		}

		cookie, err := r.Cookie(SessionCookie)
		if err != nil || cookie.Value == "" {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}

		var session database.Session
		err = a.db.WithContext(r.Context()).
			First(&session, "token_hash = ? AND expire_at > ?", hashToken(cookie.Value), time.Now().UTC()).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				slog.Error("error looking up session", "error", err)
			}
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, withUserId(r, session.UserId))
	})
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (a *AuthService) Register(r *http.Request) (any, error) {
	req, err := ParseRequest[api.Credentials](r)
	if err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !strings.Contains(email, "@") {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid email '%s'", req.Email)
	}
	if len(req.Password) < minPasswordLength {
		return nil, CodedErrorf(http.StatusBadRequest, "password must have at least %d characters", minPasswordLength)
	}

	ctx := r.Context()

	var count int64
	if err := a.db.WithContext(ctx).Model(&database.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		slog.Error("error checking existing user", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error registering user")
	}
	if count > 0 {
		return nil, CodedErrorf(http.StatusConflict, "email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("error hashing password", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error registering user")
	}

	user := database.User{Id: uuid.New(), Email: email, PasswordHash: string(hash), CreationTime: time.Now().UTC()}
	if err := a.db.WithContext(ctx).Create(&user).Error; err != nil {
		slog.Error("error creating user", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error registering user")
	}

	slog.Info("registered user", "user_id", user.Id)

	return api.RegisterResponse{Id: user.Id}, nil
}

func (a *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	req, err := ParseRequest[api.Credentials](r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()

	var user database.User
	if err := a.db.WithContext(ctx).First(&user, "email = ?", strings.ToLower(strings.TrimSpace(req.Email))).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Error("error getting user", "error", err)
		}
		writeError(w, CodedErrorf(http.StatusUnauthorized, "invalid credentials"))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, CodedErrorf(http.StatusUnauthorized, "invalid credentials"))
		return
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		writeError(w, CodedError(http.StatusInternalServerError, fmt.Errorf("error generating session token: %w", err)))
		return
	}
	token := hex.EncodeToString(raw)

	session := database.Session{
		TokenHash: hashToken(token),
		UserId:    user.Id,
		ExpireAt:  time.Now().UTC().Add(sessionDuration),
	}
	if err := a.db.WithContext(ctx).Create(&session).Error; err != nil {
		writeError(w, CodedError(http.StatusInternalServerError, fmt.Errorf("error creating session: %w", err)))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  session.ExpireAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *AuthService) Logout(r *http.Request) (any, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, nil
	}
	if err := a.db.WithContext(r.Context()).Where("token_hash = ?", hashToken(cookie.Value)).Delete(&database.Session{}).Error; err != nil {
		return nil, CodedError(http.StatusInternalServerError, fmt.Errorf("error deleting session: %w", err))
	}
	return nil, nil
}

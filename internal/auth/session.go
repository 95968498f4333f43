package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"crop-planner/internal/models"
)

const CookieName = "crop_session"

var ErrNoSession = errors.New("no session")

type Session struct {
	ID   string
	User *models.User
}

type sessionClaims struct {
	User models.User `json:"user"`
	jwt.RegisteredClaims
}

type contextKey struct{}

// Sessions signs the logged-in user into a browser-session cookie.
type Sessions struct {
	secretKey []byte
	secure    bool
}

func NewSessions(secret string, secure bool) *Sessions {
	return &Sessions{
		secretKey: []byte(secret),
		secure:    secure,
	}
}

// Issue starts a new session for user and writes its cookie. The cookie has
// no expiry so it ends with the browser session.
func (s *Sessions) Issue(w http.ResponseWriter, user *models.User) (*Session, error) {
	id := uuid.NewString()
	claims := sessionClaims{
		User:             *user,
		RegisteredClaims: jwt.RegisteredClaims{ID: id},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return &Session{ID: id, User: user}, nil
}

func (s *Sessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Sessions) parse(tokenString string) (*Session, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	if claims.ID == "" {
		return nil, errors.New("session token without id")
	}

	user := claims.User
	return &Session{ID: claims.ID, User: &user}, nil
}

// Load reads the session from the cookie, or from a Bearer Authorization
// header carrying the same token.
func (s *Sessions) Load(r *http.Request) (*Session, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return nil, errors.New("invalid Authorization header format")
		}
		return s.parse(parts[1])
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoSession
	}
	return s.parse(cookie.Value)
}

// Require sends browsers without a valid session to the login screen.
func (s *Sessions) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.Load(r)
		if err != nil {
			if !errors.Is(err, ErrNoSession) {
				slog.Warn("Invalid session attempt", "error", err)
				s.Clear(w)
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

// RequireToken is Require for API callers: it answers 401 instead of
// redirecting.
func (s *Sessions) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.Load(r)
		if err != nil {
			if !errors.Is(err, ErrNoSession) {
				slog.Warn("Invalid token attempt", "error", err)
			}
			http.Error(w, "Invalid or missing session", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

func FromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(contextKey{}).(*Session)
	return sess, ok
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mapfy/mapfy/internal/api"
	"github.com/mapfy/mapfy/internal/store"
)

// GoogleIdentity is the subset of a verified Google ID token the backend
// needs to create or match an account.
type GoogleIdentity struct {
	Subject string
	Email   string
	Name    string
}

// GoogleVerifier validates a Google ID token.
type GoogleVerifier interface {
	Verify(ctx context.Context, idToken string) (GoogleIdentity, error)
}

// TokeninfoVerifier checks ID tokens against Google's tokeninfo endpoint.
type TokeninfoVerifier struct {
	// ClientID must match the token's audience.
	ClientID string
	Client   *http.Client
}

func (v *TokeninfoVerifier) Verify(ctx context.Context, idToken string) (GoogleIdentity, error) {
	client := v.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	url := "https://oauth2.googleapis.com/tokeninfo?id_token=" + idToken
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return GoogleIdentity{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return GoogleIdentity{}, fmt.Errorf("tokeninfo request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return GoogleIdentity{}, fmt.Errorf("tokeninfo returned status %d", resp.StatusCode)
	}

	var info struct {
		Aud   string `json:"aud"`
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return GoogleIdentity{}, err
	}
	if v.ClientID != "" && info.Aud != v.ClientID {
		return GoogleIdentity{}, errors.New("token audience mismatch")
	}
	return GoogleIdentity{Subject: info.Sub, Email: info.Email, Name: info.Name}, nil
}

type ctxKey int

const userKey ctxKey = 0

func userFrom(ctx context.Context) store.User {
	u, _ := ctx.Value(userKey).(store.User)
	return u
}

func (s *Server) issueToken(userID uint) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.auth.TokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.auth.JWTSecret))
}

func (s *Server) parseToken(raw string) (uint, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.auth.JWTSecret), nil
	})
	if err != nil {
		return 0, err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return 0, errors.New("missing subject claim")
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subject claim: %w", err)
	}
	return uint(id), nil
}

// requireAuth resolves the bearer token to an account and stores it on the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			s.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		user, cached := s.tokens.Get(raw)
		if !cached {
			userID, err := s.parseToken(raw)
			if err != nil {
				s.writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			user, err = s.store.UserByID(userID)
			if err != nil {
				s.writeError(w, http.StatusUnauthorized, "unknown account")
				return
			}
			s.tokens.Add(raw, user)
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to process password")
		return
	}

	user := store.User{
		Name:         req.Name,
		Email:        strings.ToLower(req.Email),
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(&user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			s.writeError(w, http.StatusConflict, "email already registered")
			return
		}
		s.log.Error().Err(err).Msg("failed to create user")
		s.writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	s.respondWithToken(w, user)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}

	user, err := s.store.UserByEmail(strings.ToLower(req.Email))
	if err != nil {
		// Same response as a wrong password: no account enumeration.
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if user.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.respondWithToken(w, user)
}

type googleLoginRequest struct {
	IDToken string `json:"idToken" validate:"required"`
}

func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if s.google == nil {
		s.writeError(w, http.StatusNotImplemented, "google sign-in is not configured")
		return
	}

	var req googleLoginRequest
	if !s.decode(w, r, &req) {
		return
	}

	ident, err := s.google.Verify(r.Context(), req.IDToken)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "invalid google token")
		return
	}

	user, err := s.store.UserByGoogleSub(ident.Subject)
	if errors.Is(err, store.ErrNotFound) {
		// Link by email when the account already exists, otherwise create
		// one on first sign-in.
		user, err = s.store.UserByEmail(strings.ToLower(ident.Email))
		switch {
		case err == nil:
			user.GoogleSub = ident.Subject
			err = s.store.SaveUser(&user)
			if err == nil {
				// Cached snapshots of this account predate the link.
				s.tokens.Invalidate(user.ID)
			}
		case errors.Is(err, store.ErrNotFound):
			user = store.User{
				Name:      ident.Name,
				Email:     strings.ToLower(ident.Email),
				GoogleSub: ident.Subject,
			}
			err = s.store.CreateUser(&user)
		}
	}
	if err != nil {
		s.log.Error().Err(err).Msg("google sign-in failed")
		s.writeError(w, http.StatusInternalServerError, "sign-in failed")
		return
	}

	s.respondWithToken(w, user)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	s.writeJSON(w, http.StatusOK, api.UserInfo{ID: user.ID, Name: user.Name, Email: user.Email})
}

func (s *Server) respondWithToken(w http.ResponseWriter, user store.User) {
	token, err := s.issueToken(user.ID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to sign token")
		s.writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	s.writeJSON(w, http.StatusOK, api.AuthResponse{
		Token: token,
		User:  api.UserInfo{ID: user.ID, Name: user.Name, Email: user.Email},
	})
}

// Package api is the HTTP client for the MapFy backend: authentication and
// the per-user map store. Every authenticated call reads its bearer token
// from the session at call time.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mapfy/mapfy/pkg/engine"
	"github.com/mapfy/mapfy/pkg/geojson"
)

// Sentinel errors for status codes callers branch on.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// NetworkError wraps transport and server failures with the operation that
// produced them.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("api: %s returned status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("api: %s failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UserInfo identifies an account in API responses.
type UserInfo struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AuthResponse is returned by the sign-in endpoints.
type AuthResponse struct {
	Token string   `json:"token"`
	User  UserInfo `json:"user"`
}

// MapRecord is one persisted map.
type MapRecord struct {
	ID          uint               `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Style       string             `json:"style"`
	Viewport    engine.Viewport    `json:"viewport"`
	GeoJSON     geojson.Collection `json:"geojson"`
	IsDraft     bool               `json:"isDraft"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// MapSummary is the list representation of a persisted map, without its
// feature payload.
type MapSummary struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsDraft     bool      `json:"isDraft"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TokenSource supplies the bearer token, empty when signed out.
type TokenSource interface {
	Token() string
}

// Client handles communication with the MapFy backend.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the backend is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthcheck", nil, nil)
}

// Register creates an account and returns its first token.
func (c *Client) Register(ctx context.Context, name, email, password string) (AuthResponse, error) {
	var out AuthResponse
	body := map[string]string{"name": name, "email": email, "password": password}
	err := c.do(ctx, http.MethodPost, "/api/auth/register", body, &out)
	return out, err
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	var out AuthResponse
	body := map[string]string{"email": email, "password": password}
	err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &out)
	return out, err
}

// GoogleLogin exchanges a Google ID token for a MapFy token, creating the
// account on first sign-in.
func (c *Client) GoogleLogin(ctx context.Context, idToken string) (AuthResponse, error) {
	var out AuthResponse
	body := map[string]string{"idToken": idToken}
	err := c.do(ctx, http.MethodPost, "/api/auth/google", body, &out)
	return out, err
}

// Me returns the account behind the current token.
func (c *Client) Me(ctx context.Context) (UserInfo, error) {
	var out UserInfo
	err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &out)
	return out, err
}

// ListMaps returns the caller's maps, newest first.
func (c *Client) ListMaps(ctx context.Context) ([]MapSummary, error) {
	var out []MapSummary
	err := c.do(ctx, http.MethodGet, "/api/maps", nil, &out)
	return out, err
}

// GetMap fetches one map with its full feature payload.
func (c *Client) GetMap(ctx context.Context, id uint) (MapRecord, error) {
	var out MapRecord
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/maps/%d", id), nil, &out)
	return out, err
}

// CreateMap persists a new map and returns it with its assigned id.
func (c *Client) CreateMap(ctx context.Context, rec MapRecord) (MapRecord, error) {
	var out MapRecord
	err := c.do(ctx, http.MethodPost, "/api/maps", rec, &out)
	return out, err
}

// UpdateMap overwrites an existing map.
func (c *Client) UpdateMap(ctx context.Context, rec MapRecord) (MapRecord, error) {
	var out MapRecord
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/maps/%d", rec.ID), rec, &out)
	return out, err
}

// DeleteMap removes a map.
func (c *Client) DeleteMap(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/maps/%d", id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &NetworkError{Op: op, Err: fmt.Errorf("encoding request: %w", err)}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &NetworkError{Op: op, StatusCode: resp.StatusCode, Err: ErrUnauthorized}
	case resp.StatusCode == http.StatusNotFound:
		return &NetworkError{Op: op, StatusCode: resp.StatusCode, Err: ErrNotFound}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &NetworkError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(msg)))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

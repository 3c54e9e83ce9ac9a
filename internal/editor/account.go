package editor

import (
	"context"

	"github.com/mapfy/mapfy/internal/api"
	"github.com/mapfy/mapfy/internal/session"
)

// Account binds the sign-in state to the backend client. The session is the
// client's token source, so every authenticated call picks up the current
// token and signing out revokes it everywhere at once.
type Account struct {
	session *session.Session
	client  *api.Client
}

// NewAccount creates a signed-out account against the given backend.
func NewAccount(baseURL string) *Account {
	s := session.New()
	return &Account{session: s, client: api.New(baseURL, s)}
}

// Client returns the API client bound to this account's token.
func (a *Account) Client() *api.Client {
	return a.client
}

// Session exposes the sign-in state.
func (a *Account) Session() *session.Session {
	return a.session
}

// Register creates an account and signs it in.
func (a *Account) Register(ctx context.Context, name, email, password string) error {
	resp, err := a.client.Register(ctx, name, email, password)
	if err != nil {
		return err
	}
	a.install(resp)
	return nil
}

// Login signs in with email and password.
func (a *Account) Login(ctx context.Context, email, password string) error {
	resp, err := a.client.Login(ctx, email, password)
	if err != nil {
		return err
	}
	a.install(resp)
	return nil
}

// LoginWithGoogle signs in with a Google ID token, creating the account on
// first use.
func (a *Account) LoginWithGoogle(ctx context.Context, idToken string) error {
	resp, err := a.client.GoogleLogin(ctx, idToken)
	if err != nil {
		return err
	}
	a.install(resp)
	return nil
}

// Logout clears the session. In-flight calls keep the token they already
// read; new calls go out unauthenticated.
func (a *Account) Logout() {
	a.session.SignOut()
}

func (a *Account) install(resp api.AuthResponse) {
	a.session.SignIn(session.User{
		ID:    resp.User.ID,
		Name:  resp.User.Name,
		Email: resp.User.Email,
	}, resp.Token)
}

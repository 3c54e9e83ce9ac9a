package session

import "testing"

func TestSession_SignInOut(t *testing.T) {
	s := New()
	if s.IsAuthenticated() {
		t.Fatal("fresh session must be signed out")
	}

	s.SignIn(User{ID: 7, Name: "ada", Email: "ada@example.com"}, "tok-123")
	if !s.IsAuthenticated() {
		t.Fatal("expected authenticated")
	}
	if s.Token() != "tok-123" {
		t.Errorf("token = %q", s.Token())
	}
	if u := s.User(); u.ID != 7 || u.Email != "ada@example.com" {
		t.Errorf("user = %+v", u)
	}

	s.SignOut()
	if s.IsAuthenticated() {
		t.Fatal("expected signed out")
	}
	if s.Token() != "" || s.User() != (User{}) {
		t.Error("state not cleared")
	}
}

package auth

import (
	"errors"
	"testing"
)

func TestAuthorizePublish(t *testing.T) {
	m := New("")
	if m.App() != DefaultApp {
		t.Fatalf("App = %q, want %q", m.App(), DefaultApp)
	}

	cases := []struct {
		app string
		ok  bool
	}{
		{"kyu", true},
		{"Kyu", false},
		{"live", false},
		{"", false},
	}
	for _, tc := range cases {
		err := m.AuthorizePublish(tc.app)
		if tc.ok && err != nil {
			t.Errorf("AuthorizePublish(%q) = %v, want nil", tc.app, err)
		}
		if !tc.ok && !errors.Is(err, ErrForbiddenApp) {
			t.Errorf("AuthorizePublish(%q) = %v, want ErrForbiddenApp", tc.app, err)
		}
	}
}

func TestPlayApp(t *testing.T) {
	m := New("live")
	if got := m.PlayApp(""); got != "live" {
		t.Fatalf("PlayApp(\"\") = %q, want live", got)
	}
	if got := m.PlayApp("other"); got != "other" {
		t.Fatalf("PlayApp(other) = %q", got)
	}
}

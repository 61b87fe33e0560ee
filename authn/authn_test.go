package authn

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kangaroo-oauth/kangaroo/storage"
	"github.com/kangaroo-oauth/kangaroo/storage/memory"
)

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	if _, err := registry.Get("password"); !errors.Is(err, ErrNotBound) {
		t.Errorf("unbound name: err = %v, want ErrNotBound", err)
	}
	if _, err := registry.Get(""); !errors.Is(err, ErrNotBound) {
		t.Errorf("empty name: err = %v, want ErrNotBound", err)
	}

	static := &StaticAuthenticator{}
	registry.Register("static", static)
	got, err := registry.Get("static")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != static {
		t.Error("Get() returned a different authenticator")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !CheckPassword(hash, "hunter2") {
		t.Error("correct password rejected")
	}
	if CheckPassword(hash, "hunter3") {
		t.Error("wrong password accepted")
	}
}

func TestPasswordAuthenticator(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	appID := uuid.New()
	hash, _ := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	user := &storage.User{
		ID:            uuid.New(),
		ApplicationID: appID,
		Login:         "pat@example.com",
		PasswordHash:  string(hash),
	}
	if err := store.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	client := &storage.Client{ID: uuid.New(), ApplicationID: appID}

	auth := NewPasswordAuthenticator(store)

	tests := []struct {
		name    string
		login   string
		pass    string
		wantErr bool
	}{
		{"valid credentials", "pat@example.com", "hunter2", false},
		{"wrong password", "pat@example.com", "nope", true},
		{"unknown login", "sam@example.com", "hunter2", true},
		{"missing credentials", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{}
			if tt.login != "" {
				form.Set("login", tt.login)
			}
			if tt.pass != "" {
				form.Set("password", tt.pass)
			}
			r := httptest.NewRequest("GET", "/authorize", strings.NewReader(""))
			r.URL.RawQuery = form.Encode()

			got, err := auth.Authenticate(ctx, r, client)
			if tt.wantErr {
				if !errors.Is(err, ErrAuthenticationFailed) {
					t.Errorf("err = %v, want ErrAuthenticationFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if got.ID != user.ID {
				t.Errorf("resolved user = %s, want %s", got.ID, user.ID)
			}
		})
	}
}

func TestStaticAuthenticator(t *testing.T) {
	r := httptest.NewRequest("GET", "/authorize", nil)

	var empty StaticAuthenticator
	if _, err := empty.Authenticate(context.Background(), r, nil); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("err = %v, want ErrAuthenticationFailed", err)
	}

	user := &storage.User{ID: uuid.New()}
	fixed := StaticAuthenticator{User: user}
	got, err := fixed.Authenticate(context.Background(), r, nil)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got != user {
		t.Error("Authenticate() returned a different user")
	}
}

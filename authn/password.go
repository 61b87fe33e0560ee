package authn

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/kangaroo-oauth/kangaroo/storage"
)

// HashPassword returns the salted bcrypt hash of a plaintext
// credential. Used for both user passwords and client secrets.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing credential: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether plaintext matches the stored bcrypt
// hash. The comparison is constant-time inside bcrypt.
func CheckPassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// PasswordAuthenticator authenticates authorization requests carrying
// login/password form parameters against the user store.
type PasswordAuthenticator struct {
	users storage.UserStore
}

// NewPasswordAuthenticator creates a password authenticator backed by
// the given user store.
func NewPasswordAuthenticator(users storage.UserStore) *PasswordAuthenticator {
	return &PasswordAuthenticator{users: users}
}

// Authenticate resolves the user named by the request's login/password
// parameters within the client's application.
func (p *PasswordAuthenticator) Authenticate(ctx context.Context, r *http.Request, client *storage.Client) (*storage.User, error) {
	login := r.FormValue("login")
	password := r.FormValue("password")
	if login == "" || password == "" {
		return nil, ErrAuthenticationFailed
	}

	user, err := p.users.GetUserByLogin(ctx, client.ApplicationID, login)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrAuthenticationFailed
		}
		return nil, fmt.Errorf("resolving user %q: %w", login, err)
	}

	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrAuthenticationFailed
	}
	return user, nil
}

// StaticAuthenticator always resolves the same user. Intended for
// development setups and tests.
type StaticAuthenticator struct {
	User *storage.User
}

// Authenticate returns the configured user.
func (s *StaticAuthenticator) Authenticate(_ context.Context, _ *http.Request, _ *storage.Client) (*storage.User, error) {
	if s.User == nil {
		return nil, ErrAuthenticationFailed
	}
	return s.User, nil
}

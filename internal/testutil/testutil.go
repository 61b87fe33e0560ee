// Package testutil provides shared fixtures for tests: a seeded
// in-memory store with an application, role, user, and one client per
// grant flow.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kangaroo-oauth/kangaroo/storage"
	"github.com/kangaroo-oauth/kangaroo/storage/memory"
)

// Test credentials shared by fixtures.
const (
	ClientSecret = "client-secret-for-tests"
	UserPassword = "user-password-for-tests"
	UserLogin    = "pat@example.com"
)

// Fixture is a seeded in-memory world for grant engine tests.
type Fixture struct {
	Store *memory.Store

	Application *storage.Application
	Role        *storage.Role
	User        *storage.User

	// One client per grant flow. CodeClient and PasswordClient are
	// confidential (secret ClientSecret); ImplicitClient is public.
	CodeClient        *storage.Client
	ImplicitClient    *storage.Client
	PasswordClient    *storage.Client
	CredentialsClient *storage.Client
}

// NewFixture seeds a memory store with one application, one role, one
// user, and a client for each grant flow.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	app := &storage.Application{
		ID:     uuid.New(),
		Name:   "kangaroo-test",
		Scopes: []string{"read", "write", "admin"},
	}
	if err := store.SaveApplication(ctx, app); err != nil {
		t.Fatalf("seeding application: %v", err)
	}

	role := &storage.Role{
		ID:            uuid.New(),
		ApplicationID: app.ID,
		Name:          "member",
		Scopes:        []string{"read", "write"},
	}
	if err := store.SaveRole(ctx, role); err != nil {
		t.Fatalf("seeding role: %v", err)
	}

	roleID := role.ID
	user := &storage.User{
		ID:            uuid.New(),
		ApplicationID: app.ID,
		RoleID:        &roleID,
		Login:         UserLogin,
		PasswordHash:  QuickHash(t, UserPassword),
		CreatedAt:     time.Now().UTC(),
	}
	if err := store.SaveUser(ctx, user); err != nil {
		t.Fatalf("seeding user: %v", err)
	}

	f := &Fixture{
		Store:       store,
		Application: app,
		Role:        role,
		User:        user,
	}

	secretHash := QuickHash(t, ClientSecret)
	f.CodeClient = f.seedClient(t, storage.ClientTypeAuthorizationGrant, secretHash,
		[]string{"https://app.example.com/callback"})
	f.ImplicitClient = f.seedClient(t, storage.ClientTypeImplicit, "",
		[]string{"https://spa.example.com/callback"})
	f.PasswordClient = f.seedClient(t, storage.ClientTypeOwnerCredentials, secretHash, nil)
	f.CredentialsClient = f.seedClient(t, storage.ClientTypeClientCredentials, secretHash, nil)

	return f
}

func (f *Fixture) seedClient(t *testing.T, clientType storage.ClientType, secretHash string, redirectURIs []string) *storage.Client {
	t.Helper()
	client := &storage.Client{
		ID:            uuid.New(),
		ApplicationID: f.Application.ID,
		Name:          string(clientType) + "-client",
		Type:          clientType,
		SecretHash:    secretHash,
		RedirectURIs:  redirectURIs,
		Config:        map[string]string{},
		CreatedAt:     time.Now().UTC(),
	}
	if err := f.Store.SaveClient(context.Background(), client); err != nil {
		t.Fatalf("seeding %s client: %v", clientType, err)
	}
	return client
}

// QuickHash bcrypt-hashes a credential at minimum cost. Test fixtures
// only; production hashing uses the default cost.
func QuickHash(t *testing.T, plaintext string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing credential: %v", err)
	}
	return string(hash)
}

// Package memory provides an in-memory storage backend guarded by a
// single mutex. It is the development and test backend; nothing
// survives a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kangaroo-oauth/kangaroo/storage"
)

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu sync.RWMutex

	clients       map[uuid.UUID]*storage.Client
	users         map[uuid.UUID]*storage.User
	usersByLogin  map[loginKey]uuid.UUID
	roles         map[uuid.UUID]*storage.Role
	applications  map[uuid.UUID]*storage.Application
	tokens        map[uuid.UUID]*storage.Token
	sessions      map[uuid.UUID]*storage.HTTPSession
	sessionsByVal map[string]uuid.UUID

	stopOnce sync.Once
	stopCh   chan struct{}
}

type loginKey struct {
	applicationID uuid.UUID
	login         string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		clients:       make(map[uuid.UUID]*storage.Client),
		users:         make(map[uuid.UUID]*storage.User),
		usersByLogin:  make(map[loginKey]uuid.UUID),
		roles:         make(map[uuid.UUID]*storage.Role),
		applications:  make(map[uuid.UUID]*storage.Application),
		tokens:        make(map[uuid.UUID]*storage.Token),
		sessions:      make(map[uuid.UUID]*storage.HTTPSession),
		sessionsByVal: make(map[string]uuid.UUID),
		stopCh:        make(chan struct{}),
	}
}

// StartCleanup launches a background loop that removes expired tokens
// and sessions at the given interval. Stop terminates it.
func (s *Store) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.removeExpired(time.Now())
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the cleanup loop. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Store) removeExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, token := range s.tokens {
		if token.Expired(now) {
			delete(s.tokens, id)
		}
	}
	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessionsByVal, session.Value)
			delete(s.sessions, id)
		}
	}
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(_ context.Context, id uuid.UUID) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyClient(client), nil
}

// SaveClient persists a client registration.
func (s *Store) SaveClient(_ context.Context, client *storage.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[client.ID] = copyClient(client)
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyUser(user), nil
}

// GetUserByLogin retrieves a user by login within an application.
func (s *Store) GetUserByLogin(_ context.Context, applicationID uuid.UUID, login string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByLogin[loginKey{applicationID, login}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyUser(s.users[id]), nil
}

// SaveUser persists a user and refreshes the login index.
func (s *Store) SaveUser(_ context.Context, user *storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.users[user.ID]; ok {
		delete(s.usersByLogin, loginKey{prev.ApplicationID, prev.Login})
	}
	s.users[user.ID] = copyUser(user)
	s.usersByLogin[loginKey{user.ApplicationID, user.Login}] = user.ID
	return nil
}

// GetRole retrieves a role by ID.
func (s *Store) GetRole(_ context.Context, id uuid.UUID) (*storage.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyRole(role), nil
}

// SaveRole persists a role.
func (s *Store) SaveRole(_ context.Context, role *storage.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roles[role.ID] = copyRole(role)
	return nil
}

// GetApplication retrieves an application by ID.
func (s *Store) GetApplication(_ context.Context, id uuid.UUID) (*storage.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyApplication(app), nil
}

// SaveApplication persists an application.
func (s *Store) SaveApplication(_ context.Context, app *storage.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applications[app.ID] = copyApplication(app)
	return nil
}

// SaveTokens persists one or more tokens under a single lock hold.
func (s *Store) SaveTokens(_ context.Context, tokens ...*storage.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, token := range tokens {
		s.tokens[token.ID] = copyToken(token)
	}
	return nil
}

// GetToken retrieves a token by ID.
func (s *Store) GetToken(_ context.Context, id uuid.UUID) (*storage.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyToken(token), nil
}

// DeleteToken removes a token.
func (s *Store) DeleteToken(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.tokens, id)
	return nil
}

// RedeemToken atomically marks a one-time-use token as used, deletes
// its linked auth token, and inserts the replacements. Concurrent
// redemptions of the same token serialize on the store lock; exactly
// one wins.
func (s *Store) RedeemToken(_ context.Context, id uuid.UUID, replacements ...*storage.Token) (*storage.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if token.Used {
		return nil, storage.ErrAlreadyRedeemed
	}

	token.Used = true
	if token.Type == storage.TokenTypeRefresh && token.AuthTokenID != nil {
		delete(s.tokens, *token.AuthTokenID)
	}
	for _, replacement := range replacements {
		s.tokens[replacement.ID] = copyToken(replacement)
	}
	return copyToken(token), nil
}

// ListSessionTokens returns all tokens linked to a session.
func (s *Store) ListSessionTokens(_ context.Context, sessionID uuid.UUID) ([]*storage.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var linked []*storage.Token
	for _, token := range s.tokens {
		if token.SessionID != nil && *token.SessionID == sessionID {
			linked = append(linked, copyToken(token))
		}
	}
	return linked, nil
}

// DeleteSessionTokens removes every token linked to a session.
func (s *Store) DeleteSessionTokens(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, token := range s.tokens {
		if token.SessionID != nil && *token.SessionID == sessionID {
			delete(s.tokens, id)
		}
	}
	return nil
}

// SaveSession persists a session.
func (s *Store) SaveSession(_ context.Context, session *storage.HTTPSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = copySession(session)
	s.sessionsByVal[session.Value] = session.ID
	return nil
}

// GetSessionByValue retrieves a session by its opaque cookie value.
func (s *Store) GetSessionByValue(_ context.Context, value string) (*storage.HTTPSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.sessionsByVal[value]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copySession(s.sessions[id]), nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(s.sessionsByVal, session.Value)
	delete(s.sessions, id)
	return nil
}

// ReplaceSession deletes the old session and inserts the replacement
// under one lock hold.
func (s *Store) ReplaceSession(_ context.Context, oldID *uuid.UUID, replacement *storage.HTTPSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldID != nil {
		if old, ok := s.sessions[*oldID]; ok {
			delete(s.sessionsByVal, old.Value)
			delete(s.sessions, *oldID)
		}
	}
	s.sessions[replacement.ID] = copySession(replacement)
	s.sessionsByVal[replacement.Value] = replacement.ID
	return nil
}

// Copy helpers keep callers from mutating stored records through
// shared slices, maps, or pointers.

func copyClient(c *storage.Client) *storage.Client {
	clone := *c
	clone.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	clone.ReferrerURIs = append([]string(nil), c.ReferrerURIs...)
	if c.Config != nil {
		clone.Config = make(map[string]string, len(c.Config))
		for k, v := range c.Config {
			clone.Config[k] = v
		}
	}
	return &clone
}

func copyUser(u *storage.User) *storage.User {
	clone := *u
	if u.RoleID != nil {
		roleID := *u.RoleID
		clone.RoleID = &roleID
	}
	return &clone
}

func copyRole(r *storage.Role) *storage.Role {
	clone := *r
	clone.Scopes = append([]string(nil), r.Scopes...)
	return &clone
}

func copyApplication(a *storage.Application) *storage.Application {
	clone := *a
	clone.Scopes = append([]string(nil), a.Scopes...)
	return &clone
}

func copyToken(t *storage.Token) *storage.Token {
	clone := *t
	clone.Scopes = append([]string(nil), t.Scopes...)
	if t.UserID != nil {
		userID := *t.UserID
		clone.UserID = &userID
	}
	if t.AuthTokenID != nil {
		authID := *t.AuthTokenID
		clone.AuthTokenID = &authID
	}
	if t.SessionID != nil {
		sessionID := *t.SessionID
		clone.SessionID = &sessionID
	}
	return &clone
}

func copySession(s *storage.HTTPSession) *storage.HTTPSession {
	clone := *s
	return &clone
}

// Package postgres provides the PostgreSQL storage backend.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/kangaroo-oauth/kangaroo/storage"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// tokenColumns lists columns returned by token SELECT queries.
var tokenColumns = []string{
	"id", "token_type", "client_id", "user_id", "issued_at",
	"expires_in_seconds", "redirect_uri", "auth_token_id", "scopes",
	"session_id", "used",
}

// Store implements storage.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a store on an open database handle. The caller owns the
// handle and runs migrations before first use.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, id uuid.UUID) (*storage.Client, error) {
	query := `
		SELECT id, application_id, name, client_type, secret_hash,
		       redirect_uris, referrer_uris, config, created_at
		FROM clients WHERE id = $1
	`

	client := &storage.Client{}
	var redirectURIs, referrerURIs, config []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&client.ID,
		&client.ApplicationID,
		&client.Name,
		&client.Type,
		&client.SecretHash,
		&redirectURIs,
		&referrerURIs,
		&config,
		&client.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("querying client: %w", err)
	}

	if err := json.Unmarshal(redirectURIs, &client.RedirectURIs); err != nil {
		return nil, fmt.Errorf("unmarshaling redirect URIs: %w", err)
	}
	if err := json.Unmarshal(referrerURIs, &client.ReferrerURIs); err != nil {
		return nil, fmt.Errorf("unmarshaling referrer URIs: %w", err)
	}
	if err := json.Unmarshal(config, &client.Config); err != nil {
		return nil, fmt.Errorf("unmarshaling client config: %w", err)
	}
	return client, nil
}

// SaveClient persists a client registration, updating on conflict.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	redirectURIs, err := json.Marshal(client.RedirectURIs)
	if err != nil {
		return fmt.Errorf("marshaling redirect URIs: %w", err)
	}
	referrerURIs, err := json.Marshal(client.ReferrerURIs)
	if err != nil {
		return fmt.Errorf("marshaling referrer URIs: %w", err)
	}
	config, err := json.Marshal(client.Config)
	if err != nil {
		return fmt.Errorf("marshaling client config: %w", err)
	}

	query := `
		INSERT INTO clients
		(id, application_id, name, client_type, secret_hash, redirect_uris, referrer_uris, config, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			client_type = EXCLUDED.client_type,
			secret_hash = EXCLUDED.secret_hash,
			redirect_uris = EXCLUDED.redirect_uris,
			referrer_uris = EXCLUDED.referrer_uris,
			config = EXCLUDED.config
	`
	_, err = s.db.ExecContext(ctx, query,
		client.ID,
		client.ApplicationID,
		client.Name,
		client.Type,
		client.SecretHash,
		redirectURIs,
		referrerURIs,
		config,
		client.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting client: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*storage.User, error) {
	query := `
		SELECT id, application_id, role_id, login, password_hash, created_at
		FROM users WHERE id = $1
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByLogin retrieves a user by login within an application.
func (s *Store) GetUserByLogin(ctx context.Context, applicationID uuid.UUID, login string) (*storage.User, error) {
	query := `
		SELECT id, application_id, role_id, login, password_hash, created_at
		FROM users WHERE application_id = $1 AND login = $2
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, applicationID, login))
}

func (*Store) scanUser(row *sql.Row) (*storage.User, error) {
	user := &storage.User{}
	var roleID uuid.NullUUID
	err := row.Scan(
		&user.ID,
		&user.ApplicationID,
		&roleID,
		&user.Login,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	if roleID.Valid {
		id := roleID.UUID
		user.RoleID = &id
	}
	return user, nil
}

// SaveUser persists a user, updating on conflict.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	query := `
		INSERT INTO users (id, application_id, role_id, login, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			role_id = EXCLUDED.role_id,
			login = EXCLUDED.login,
			password_hash = EXCLUDED.password_hash
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.ApplicationID,
		nullUUID(user.RoleID),
		user.Login,
		user.PasswordHash,
		user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetRole retrieves a role by ID.
func (s *Store) GetRole(ctx context.Context, id uuid.UUID) (*storage.Role, error) {
	query := `SELECT id, application_id, name, scopes FROM roles WHERE id = $1`

	role := &storage.Role{}
	var scopes []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&role.ID,
		&role.ApplicationID,
		&role.Name,
		&scopes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("querying role: %w", err)
	}
	if err := json.Unmarshal(scopes, &role.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshaling role scopes: %w", err)
	}
	return role, nil
}

// SaveRole persists a role, updating on conflict.
func (s *Store) SaveRole(ctx context.Context, role *storage.Role) error {
	scopes, err := json.Marshal(role.Scopes)
	if err != nil {
		return fmt.Errorf("marshaling role scopes: %w", err)
	}

	query := `
		INSERT INTO roles (id, application_id, name, scopes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			scopes = EXCLUDED.scopes
	`
	if _, err := s.db.ExecContext(ctx, query, role.ID, role.ApplicationID, role.Name, scopes); err != nil {
		return fmt.Errorf("inserting role: %w", err)
	}
	return nil
}

// GetApplication retrieves an application by ID.
func (s *Store) GetApplication(ctx context.Context, id uuid.UUID) (*storage.Application, error) {
	query := `SELECT id, name, scopes FROM applications WHERE id = $1`

	app := &storage.Application{}
	var scopes []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&app.ID, &app.Name, &scopes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("querying application: %w", err)
	}
	if err := json.Unmarshal(scopes, &app.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshaling application scopes: %w", err)
	}
	return app, nil
}

// SaveApplication persists an application, updating on conflict.
func (s *Store) SaveApplication(ctx context.Context, app *storage.Application) error {
	scopes, err := json.Marshal(app.Scopes)
	if err != nil {
		return fmt.Errorf("marshaling application scopes: %w", err)
	}

	query := `
		INSERT INTO applications (id, name, scopes)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			scopes = EXCLUDED.scopes
	`
	if _, err := s.db.ExecContext(ctx, query, app.ID, app.Name, scopes); err != nil {
		return fmt.Errorf("inserting application: %w", err)
	}
	return nil
}

// SaveTokens persists one or more tokens inside a single transaction.
func (s *Store) SaveTokens(ctx context.Context, tokens ...*storage.Token) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, token := range tokens {
		if err := insertToken(ctx, tx, token); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing tokens: %w", err)
	}
	return nil
}

func insertToken(ctx context.Context, tx *sql.Tx, token *storage.Token) error {
	scopes, err := json.Marshal(token.Scopes)
	if err != nil {
		return fmt.Errorf("marshaling token scopes: %w", err)
	}

	query := `
		INSERT INTO tokens
		(id, token_type, client_id, user_id, issued_at, expires_in_seconds, redirect_uri, auth_token_id, scopes, session_id, used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = tx.ExecContext(ctx, query,
		token.ID,
		token.Type,
		token.ClientID,
		nullUUID(token.UserID),
		token.IssuedAt,
		int64(token.ExpiresIn/time.Second),
		token.RedirectURI,
		nullUUID(token.AuthTokenID),
		scopes,
		nullUUID(token.SessionID),
		token.Used,
	)
	if err != nil {
		return fmt.Errorf("inserting token: %w", err)
	}
	return nil
}

// GetToken retrieves a token by ID.
func (s *Store) GetToken(ctx context.Context, id uuid.UUID) (*storage.Token, error) {
	query, args, err := psq.Select(tokenColumns...).From("tokens").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building token query: %w", err)
	}

	token, err := scanToken(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return token, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*storage.Token, error) {
	token := &storage.Token{}
	var userID, authTokenID, sessionID uuid.NullUUID
	var expiresInSeconds int64
	var scopes []byte

	err := row.Scan(
		&token.ID,
		&token.Type,
		&token.ClientID,
		&userID,
		&token.IssuedAt,
		&expiresInSeconds,
		&token.RedirectURI,
		&authTokenID,
		&scopes,
		&sessionID,
		&token.Used,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning token row: %w", err)
	}

	token.ExpiresIn = time.Duration(expiresInSeconds) * time.Second
	if userID.Valid {
		id := userID.UUID
		token.UserID = &id
	}
	if authTokenID.Valid {
		id := authTokenID.UUID
		token.AuthTokenID = &id
	}
	if sessionID.Valid {
		id := sessionID.UUID
		token.SessionID = &id
	}
	if err := json.Unmarshal(scopes, &token.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshaling token scopes: %w", err)
	}
	return token, nil
}

// DeleteToken removes a token.
func (s *Store) DeleteToken(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RedeemToken marks the token used, deletes its linked auth token, and
// inserts the replacements inside one transaction. The row lock taken
// by FOR UPDATE serializes concurrent redemptions; only the first
// committer sees used = false.
func (s *Store) RedeemToken(ctx context.Context, id uuid.UUID, replacements ...*storage.Token) (*storage.Token, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := psq.Select(tokenColumns...).From("tokens").
		Where(sq.Eq{"id": id}).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building redemption query: %w", err)
	}

	token, err := scanToken(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if token.Used {
		return nil, storage.ErrAlreadyRedeemed
	}

	if _, err := tx.ExecContext(ctx, `UPDATE tokens SET used = TRUE WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("marking token used: %w", err)
	}
	if token.Type == storage.TokenTypeRefresh && token.AuthTokenID != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tokens WHERE id = $1`, *token.AuthTokenID); err != nil {
			return nil, fmt.Errorf("deleting linked auth token: %w", err)
		}
	}
	for _, replacement := range replacements {
		if err := insertToken(ctx, tx, replacement); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing redemption: %w", err)
	}

	token.Used = true
	return token, nil
}

// ListSessionTokens returns all tokens linked to a session.
func (s *Store) ListSessionTokens(ctx context.Context, sessionID uuid.UUID) ([]*storage.Token, error) {
	query, args, err := psq.Select(tokenColumns...).From("tokens").
		Where(sq.Eq{"session_id": sessionID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session token query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying session tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []*storage.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session token rows: %w", err)
	}
	return tokens, nil
}

// DeleteSessionTokens removes every token linked to a session.
func (s *Store) DeleteSessionTokens(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("deleting session tokens: %w", err)
	}
	return nil
}

// SaveSession persists a session.
func (s *Store) SaveSession(ctx context.Context, session *storage.HTTPSession) error {
	query := `
		INSERT INTO sessions (id, value, timeout_seconds, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.Value,
		int64(session.Timeout/time.Second),
		session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSessionByValue retrieves a session by its opaque cookie value.
func (s *Store) GetSessionByValue(ctx context.Context, value string) (*storage.HTTPSession, error) {
	query := `SELECT id, value, timeout_seconds, created_at FROM sessions WHERE value = $1`

	session := &storage.HTTPSession{}
	var timeoutSeconds int64
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&session.ID,
		&session.Value,
		&timeoutSeconds,
		&session.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("querying session: %w", err)
	}
	session.Timeout = time.Duration(timeoutSeconds) * time.Second
	return session, nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ReplaceSession deletes the old session and inserts the replacement
// inside one transaction.
func (s *Store) ReplaceSession(ctx context.Context, oldID *uuid.UUID, replacement *storage.HTTPSession) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if oldID != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, *oldID); err != nil {
			return fmt.Errorf("deleting old session: %w", err)
		}
	}

	query := `
		INSERT INTO sessions (id, value, timeout_seconds, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = tx.ExecContext(ctx, query,
		replacement.ID,
		replacement.Value,
		int64(replacement.Timeout/time.Second),
		replacement.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting replacement session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing session replacement: %w", err)
	}
	return nil
}

// Cleanup removes expired tokens and sessions.
func (s *Store) Cleanup(ctx context.Context) error {
	query := `DELETE FROM tokens WHERE issued_at + (expires_in_seconds * INTERVAL '1 second') < NOW()`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("cleaning up tokens: %w", err)
	}
	query = `DELETE FROM sessions WHERE created_at + (timeout_seconds * INTERVAL '1 second') < NOW()`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("cleaning up sessions: %w", err)
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// Verify interface compliance.
var _ storage.Store = (*Store)(nil)

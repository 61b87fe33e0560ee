package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kangaroo-oauth/kangaroo/authn"
	"github.com/kangaroo-oauth/kangaroo/storage"
)

// bootstrap seeds the declared applications, roles, users, and clients
// into the store. Saves are upserts, so rerunning with fixed IDs keeps
// the records current; generated IDs are logged so operators can pin
// them in the config.
func bootstrap(ctx context.Context, store storage.Store, cfg *BootstrapConfig, logger *slog.Logger) error {
	for _, appDef := range cfg.Applications {
		appID, err := defOrNewID(appDef.ID)
		if err != nil {
			return fmt.Errorf("application %q: %w", appDef.Name, err)
		}

		app := &storage.Application{
			ID:     appID,
			Name:   appDef.Name,
			Scopes: appDef.Scopes,
		}
		if err := store.SaveApplication(ctx, app); err != nil {
			return fmt.Errorf("saving application %q: %w", appDef.Name, err)
		}
		logger.Info("Bootstrapped application", "name", app.Name, "id", app.ID)

		roleIDs := make(map[string]uuid.UUID, len(appDef.Roles))
		for _, roleDef := range appDef.Roles {
			roleID, err := defOrNewID(roleDef.ID)
			if err != nil {
				return fmt.Errorf("role %q: %w", roleDef.Name, err)
			}
			role := &storage.Role{
				ID:            roleID,
				ApplicationID: appID,
				Name:          roleDef.Name,
				Scopes:        roleDef.Scopes,
			}
			if err := store.SaveRole(ctx, role); err != nil {
				return fmt.Errorf("saving role %q: %w", roleDef.Name, err)
			}
			roleIDs[roleDef.Name] = roleID
		}

		for _, userDef := range appDef.Users {
			if err := bootstrapUser(ctx, store, appID, roleIDs, userDef, logger); err != nil {
				return err
			}
		}

		for _, clientDef := range appDef.Clients {
			if err := bootstrapClient(ctx, store, appID, clientDef, logger); err != nil {
				return err
			}
		}
	}
	return nil
}

func bootstrapUser(ctx context.Context, store storage.Store, appID uuid.UUID, roleIDs map[string]uuid.UUID, def UserDef, logger *slog.Logger) error {
	userID, err := defOrNewID(def.ID)
	if err != nil {
		return fmt.Errorf("user %q: %w", def.Login, err)
	}

	var roleID *uuid.UUID
	if def.Role != "" {
		id, ok := roleIDs[def.Role]
		if !ok {
			return fmt.Errorf("user %q references undeclared role %q", def.Login, def.Role)
		}
		roleID = &id
	}

	hash, err := authn.HashPassword(def.Password)
	if err != nil {
		return fmt.Errorf("hashing password for user %q: %w", def.Login, err)
	}

	user := &storage.User{
		ID:            userID,
		ApplicationID: appID,
		RoleID:        roleID,
		Login:         def.Login,
		PasswordHash:  hash,
		CreatedAt:     time.Now().UTC(),
	}
	if err := store.SaveUser(ctx, user); err != nil {
		return fmt.Errorf("saving user %q: %w", def.Login, err)
	}
	logger.Info("Bootstrapped user", "login", def.Login, "id", userID)
	return nil
}

func bootstrapClient(ctx context.Context, store storage.Store, appID uuid.UUID, def ClientDef, logger *slog.Logger) error {
	clientID, err := defOrNewID(def.ID)
	if err != nil {
		return fmt.Errorf("client %q: %w", def.Name, err)
	}

	clientType := storage.ClientType(def.Type)
	if !clientType.Valid() {
		return fmt.Errorf("client %q has unknown type %q", def.Name, def.Type)
	}

	var secretHash string
	if def.Secret != "" {
		secretHash, err = authn.HashPassword(def.Secret)
		if err != nil {
			return fmt.Errorf("hashing secret for client %q: %w", def.Name, err)
		}
	}

	config := map[string]string{}
	if def.Authenticator != "" {
		config[storage.ConfigAuthenticator] = def.Authenticator
	}
	if def.AccessTokenExpiresIn > 0 {
		config[storage.ConfigAccessTokenExpiresIn] = strconv.Itoa(def.AccessTokenExpiresIn)
	}
	if def.RefreshTokenExpiresIn > 0 {
		config[storage.ConfigRefreshTokenExpiresIn] = strconv.Itoa(def.RefreshTokenExpiresIn)
	}
	if def.AuthorizationCodeExpiresIn > 0 {
		config[storage.ConfigAuthorizationCodeExpiresIn] = strconv.Itoa(def.AuthorizationCodeExpiresIn)
	}

	client := &storage.Client{
		ID:            clientID,
		ApplicationID: appID,
		Name:          def.Name,
		Type:          clientType,
		SecretHash:    secretHash,
		RedirectURIs:  def.RedirectURIs,
		ReferrerURIs:  def.ReferrerURIs,
		Config:        config,
		CreatedAt:     time.Now().UTC(),
	}
	if err := store.SaveClient(ctx, client); err != nil {
		return fmt.Errorf("saving client %q: %w", def.Name, err)
	}
	logger.Info("Bootstrapped client", "name", def.Name, "id", clientID, "type", clientType)
	return nil
}

// defOrNewID parses a declared identifier or generates one.
func defOrNewID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("malformed id %q: %w", raw, err)
	}
	return id, nil
}

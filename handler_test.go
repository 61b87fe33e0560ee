package kangaroo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/kangaroo-oauth/kangaroo/authn"
	"github.com/kangaroo-oauth/kangaroo/instrumentation"
	"github.com/kangaroo-oauth/kangaroo/internal/testutil"
	"github.com/kangaroo-oauth/kangaroo/server"
	"github.com/kangaroo-oauth/kangaroo/storage"
)

func setupTestHandler(t *testing.T) (*Handler, *testutil.Fixture) {
	t.Helper()

	fx := testutil.NewFixture(t)

	// Bind the static authenticator to the browser-flow clients.
	registry := authn.NewRegistry()
	registry.Register("static", &authn.StaticAuthenticator{User: fx.User})
	fx.CodeClient.Config[storage.ConfigAuthenticator] = "static"
	fx.ImplicitClient.Config[storage.ConfigAuthenticator] = "static"
	ctx := context.Background()
	if err := fx.Store.SaveClient(ctx, fx.CodeClient); err != nil {
		t.Fatalf("updating code client: %v", err)
	}
	if err := fx.Store.SaveClient(ctx, fx.ImplicitClient); err != nil {
		t.Fatalf("updating implicit client: %v", err)
	}

	srv, err := server.New(fx.Store, fx.Store, fx.Store, fx.Store, registry, nil, nil)
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}

	handler := NewHandler(srv, &Config{RateLimitDisabled: true}, nil)
	t.Cleanup(handler.Close)
	return handler, fx
}

func doAuthorize(t *testing.T, handler *Handler, params url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/authorize?"+params.Encode(), nil)
	if cookie != nil {
		r.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	handler.ServeAuthorize(w, r)
	return w
}

func doToken(t *testing.T, handler *Handler, form url.Values, basicID, basicSecret string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basicID != "" {
		r.SetBasicAuth(basicID, basicSecret)
	}
	w := httptest.NewRecorder()
	handler.ServeToken(w, r)
	return w
}

func decodeToken(t *testing.T, w *httptest.ResponseRecorder) TokenResponse {
	t.Helper()
	var resp TokenResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding token response: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	return resp
}

func mustParseUUID(t *testing.T, raw string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(raw)
	if err != nil {
		t.Fatalf("parsing uuid %q: %v", raw, err)
	}
	return id
}

func TestMethodNotAllowed(t *testing.T) {
	handler, _ := setupTestHandler(t)

	r := httptest.NewRequest(http.MethodPost, "/authorize", nil)
	w := httptest.NewRecorder()
	handler.ServeAuthorize(w, r)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /authorize status = %d, want 405", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/token", nil)
	w = httptest.NewRecorder()
	handler.ServeToken(w, r)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /token status = %d, want 405", w.Code)
	}
}

func TestAuthorizationCodeFlow(t *testing.T) {
	handler, fx := setupTestHandler(t)

	// Step 1: authorization request.
	w := doAuthorize(t, handler, url.Values{
		"response_type": {"code"},
		"client_id":     {fx.CodeClient.ID.String()},
		"scope":         {"read write"},
		"state":         {"xyz-state"},
	}, nil)
	if w.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, want 302, body %s", w.Code, w.Body.String())
	}

	location, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing Location: %v", err)
	}
	if got := location.Query().Get("state"); got != "xyz-state" {
		t.Errorf("state = %q, want xyz-state", got)
	}
	code := location.Query().Get("code")
	if code == "" {
		t.Fatal("redirect carries no code")
	}

	// Step 2: code exchange.
	w = doToken(t, handler, url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}, fx.CodeClient.ID.String(), testutil.ClientSecret)
	if w.Code != http.StatusOK {
		t.Fatalf("token status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}

	resp := decodeToken(t, w)
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Errorf("token response incomplete: %+v", resp)
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", resp.TokenType)
	}
	if resp.Scope != "read write" {
		t.Errorf("scope = %q, want %q", resp.Scope, "read write")
	}

	// Step 3: replaying the code must fail.
	w = doToken(t, handler, url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}, fx.CodeClient.ID.String(), testutil.ClientSecret)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("replay status = %d, want 400", w.Code)
	}
	if got := decodeError(t, w).Error; got != ErrorCodeInvalidGrant {
		t.Errorf("replay error = %q, want invalid_grant", got)
	}
}

func TestAuthorizationCodeRedirectMismatch(t *testing.T) {
	handler, fx := setupTestHandler(t)

	w := doAuthorize(t, handler, url.Values{
		"response_type": {"code"},
		"client_id":     {fx.CodeClient.ID.String()},
		"redirect_uri":  {"https://app.example.com/callback?tab=1"},
	}, nil)
	if w.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, want 302", w.Code)
	}
	location, _ := url.Parse(w.Header().Get("Location"))
	code := location.Query().Get("code")

	// The exchange must repeat the authorization redirect byte for
	// byte; the bare registered URI is not the recorded value.
	w = doToken(t, handler, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://app.example.com/callback"},
	}, fx.CodeClient.ID.String(), testutil.ClientSecret)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("mismatched redirect status = %d, want 400", w.Code)
	}
	if got := decodeError(t, w).Error; got != ErrorCodeInvalidGrant {
		t.Errorf("error = %q, want invalid_grant", got)
	}

	// The exact recorded value succeeds.
	w = doToken(t, handler, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://app.example.com/callback?tab=1"},
	}, fx.CodeClient.ID.String(), testutil.ClientSecret)
	if w.Code != http.StatusOK {
		t.Fatalf("exact redirect status = %d, want 200, body %s", w.Code, w.Body.String())
	}
}

func TestImplicitFlowSessionLifecycle(t *testing.T) {
	handler, fx := setupTestHandler(t)

	params := url.Values{
		"response_type": {"token"},
		"client_id":     {fx.ImplicitClient.ID.String()},
		"state":         {"spa-state"},
	}
	w := doAuthorize(t, handler, params, nil)
	if w.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, want 302, body %s", w.Code, w.Body.String())
	}

	location, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing Location: %v", err)
	}
	fragment, err := url.ParseQuery(location.Fragment)
	if err != nil {
		t.Fatalf("parsing fragment: %v", err)
	}
	firstToken := fragment.Get("access_token")
	if firstToken == "" {
		t.Fatal("fragment carries no access_token")
	}
	if got := fragment.Get("token_type"); got != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", got)
	}
	if got := fragment.Get("state"); got != "spa-state" {
		t.Errorf("state = %q, want spa-state", got)
	}

	cookies := w.Result().Cookies()
	var session *http.Cookie
	for _, c := range cookies {
		if c.Name == server.DefaultCookieName {
			session = c
		}
	}
	if session == nil {
		t.Fatal("no session cookie set")
	}
	if !session.HttpOnly || !session.Secure {
		t.Error("session cookie must be HttpOnly and Secure")
	}

	// A returning browser resumes silently and gets a rotated cookie.
	w = doAuthorize(t, handler, params, session)
	if w.Code != http.StatusFound {
		t.Fatalf("resumed authorize status = %d, want 302, body %s", w.Code, w.Body.String())
	}
	location, _ = url.Parse(w.Header().Get("Location"))
	fragment, _ = url.ParseQuery(location.Fragment)
	if got := fragment.Get("access_token"); got == "" || got == firstToken {
		t.Errorf("resumed access_token = %q, want a fresh token", got)
	}

	var rotated *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == server.DefaultCookieName {
			rotated = c
		}
	}
	if rotated == nil {
		t.Fatal("no rotated session cookie set")
	}
	if rotated.Value == session.Value {
		t.Error("session cookie value must rotate on resume")
	}
}

func TestPasswordGrant(t *testing.T) {
	handler, fx := setupTestHandler(t)

	w := doToken(t, handler, url.Values{
		"grant_type": {"password"},
		"username":   {testutil.UserLogin},
		"password":   {testutil.UserPassword},
		"scope":      {"read"},
	}, fx.PasswordClient.ID.String(), testutil.ClientSecret)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	resp := decodeToken(t, w)
	if resp.RefreshToken == "" {
		t.Error("password grant must issue a refresh token")
	}
	if resp.Scope != "read" {
		t.Errorf("scope = %q, want read", resp.Scope)
	}
}

func TestPasswordGrantBadCredentials(t *testing.T) {
	handler, fx := setupTestHandler(t)

	w := doToken(t, handler, url.Values{
		"grant_type": {"password"},
		"username":   {testutil.UserLogin},
		"password":   {"wrong-password"},
	}, fx.PasswordClient.ID.String(), testutil.ClientSecret)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if got := decodeError(t, w).Error; got != ErrorCodeUnauthorized {
		t.Errorf("error = %q, want unauthorized", got)
	}
}

func TestClientCredentialsGrant(t *testing.T) {
	handler, fx := setupTestHandler(t)

	w := doToken(t, handler, url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {"read admin"},
	}, fx.CredentialsClient.ID.String(), testutil.ClientSecret)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	resp := decodeToken(t, w)
	if resp.RefreshToken != "" {
		t.Error("client credentials grant must not issue a refresh token")
	}
	if resp.Scope != "read admin" {
		t.Errorf("scope = %q, want %q", resp.Scope, "read admin")
	}
}

func TestRefreshTokenGrant(t *testing.T) {
	handler, fx := setupTestHandler(t)

	// Seed a pair through the password grant.
	w := doToken(t, handler, url.Values{
		"grant_type": {"password"},
		"username":   {testutil.UserLogin},
		"password":   {testutil.UserPassword},
		"scope":      {"read write"},
	}, fx.PasswordClient.ID.String(), testutil.ClientSecret)
	if w.Code != http.StatusOK {
		t.Fatalf("seeding grant status = %d, body %s", w.Code, w.Body.String())
	}
	seed := decodeToken(t, w)

	// Narrowing exchange succeeds.
	w = doToken(t, handler, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {seed.RefreshToken},
		"scope":         {"read"},
	}, fx.PasswordClient.ID.String(), testutil.ClientSecret)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	refreshed := decodeToken(t, w)
	if refreshed.Scope != "read" {
		t.Errorf("refreshed scope = %q, want read", refreshed.Scope)
	}
	if refreshed.AccessToken == seed.AccessToken || refreshed.RefreshToken == seed.RefreshToken {
		t.Error("refresh must issue a fresh token pair")
	}

	// Second redemption of the same refresh token fails.
	w = doToken(t, handler, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {seed.RefreshToken},
	}, fx.PasswordClient.ID.String(), testutil.ClientSecret)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("replay status = %d, want 400", w.Code)
	}
	if got := decodeError(t, w).Error; got != ErrorCodeInvalidGrant {
		t.Errorf("replay error = %q, want invalid_grant", got)
	}

	// The old access token was invalidated with the redemption.
	ctx := context.Background()
	oldBearerID := mustParseUUID(t, seed.AccessToken)
	if _, err := fx.Store.GetToken(ctx, oldBearerID); err == nil {
		t.Error("old bearer token should be deleted after refresh")
	}
}

func TestRefreshTokenErrorVocabulary(t *testing.T) {
	handler, fx := setupTestHandler(t)

	tests := []struct {
		name       string
		token      string
		wantStatus int
		wantCode   string
	}{
		{"malformed value", "not-a-uuid", http.StatusBadRequest, ErrorCodeBadRequest},
		{"unknown token", "0191d1a0-0000-7000-8000-000000000000", http.StatusNotFound, ErrorCodeNotFound},
		{"missing value", "", http.StatusBadRequest, ErrorCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{"grant_type": {"refresh_token"}}
			if tt.token != "" {
				form.Set("refresh_token", tt.token)
			}
			w := doToken(t, handler, form, fx.PasswordClient.ID.String(), testutil.ClientSecret)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := decodeError(t, w).Error; got != tt.wantCode {
				t.Errorf("error = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestTokenGrantTypeDispatch(t *testing.T) {
	handler, fx := setupTestHandler(t)

	for _, grantType := range []string{"", "implicit", "urn:ietf:params:oauth:grant-type:jwt-bearer"} {
		w := doToken(t, handler, url.Values{"grant_type": {grantType}},
			fx.PasswordClient.ID.String(), testutil.ClientSecret)
		if w.Code != http.StatusBadRequest {
			t.Errorf("grant_type %q status = %d, want 400", grantType, w.Code)
			continue
		}
		if got := decodeError(t, w).Error; got != ErrorCodeInvalidGrant {
			t.Errorf("grant_type %q error = %q, want invalid_grant", grantType, got)
		}
	}
}

func TestTokenClientAuthentication(t *testing.T) {
	handler, fx := setupTestHandler(t)

	// Wrong secret.
	w := doToken(t, handler, url.Values{
		"grant_type": {"client_credentials"},
	}, fx.CredentialsClient.ID.String(), "wrong-secret")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret status = %d, want 401", w.Code)
	}
	if got := decodeError(t, w).Error; got != ErrorCodeAccessDenied {
		t.Errorf("wrong secret error = %q, want access_denied", got)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("401 response must carry WWW-Authenticate")
	}

	// No identity at all.
	w = doToken(t, handler, url.Values{"grant_type": {"client_credentials"}}, "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing identity status = %d, want 401", w.Code)
	}
	if got := decodeError(t, w).Error; got != ErrorCodeInvalidClient {
		t.Errorf("missing identity error = %q, want invalid_client", got)
	}

	// Header and body naming different clients.
	form := url.Values{
		"grant_type": {"client_credentials"},
		"client_id":  {fx.PasswordClient.ID.String()},
	}
	w = doToken(t, handler, form, fx.CredentialsClient.ID.String(), testutil.ClientSecret)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("disagreeing identity status = %d, want 401", w.Code)
	}
	if got := decodeError(t, w).Error; got != ErrorCodeInvalidClient {
		t.Errorf("disagreeing identity error = %q, want invalid_client", got)
	}
}

func TestAuthorizeFlowClientTypeMismatch(t *testing.T) {
	handler, fx := setupTestHandler(t)

	// An Implicit client asking for a code is rejected directly.
	w := doAuthorize(t, handler, url.Values{
		"response_type": {"code"},
		"client_id":     {fx.ImplicitClient.ID.String()},
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := decodeError(t, w).Error; got != ErrorCodeInvalidRequest {
		t.Errorf("error = %q, want invalid_request", got)
	}
}

func TestAuthorizeScopeEscalationSilentlyNarrows(t *testing.T) {
	handler, fx := setupTestHandler(t)

	// Role permits read and write; admin is dropped without error.
	w := doAuthorize(t, handler, url.Values{
		"response_type": {"token"},
		"client_id":     {fx.ImplicitClient.ID.String()},
		"scope":         {"read admin"},
	}, nil)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302, body %s", w.Code, w.Body.String())
	}
	location, _ := url.Parse(w.Header().Get("Location"))
	fragment, _ := url.ParseQuery(location.Fragment)
	if got := fragment.Get("scope"); got != "read" {
		t.Errorf("scope = %q, want read", got)
	}
}

func TestImplicitZeroScopeRoleOmitsScopeKey(t *testing.T) {
	handler, fx := setupTestHandler(t)
	ctx := context.Background()

	// A role granting no scopes is a valid, empty permission set.
	role := &storage.Role{
		ID:            uuid.New(),
		ApplicationID: fx.Application.ID,
		Name:          "observer",
	}
	if err := fx.Store.SaveRole(ctx, role); err != nil {
		t.Fatalf("seeding role: %v", err)
	}
	roleID := role.ID
	fx.User.RoleID = &roleID
	if err := fx.Store.SaveUser(ctx, fx.User); err != nil {
		t.Fatalf("updating user: %v", err)
	}

	w := doAuthorize(t, handler, url.Values{
		"response_type": {"token"},
		"client_id":     {fx.ImplicitClient.ID.String()},
	}, nil)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302, body %s", w.Code, w.Body.String())
	}

	location, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing Location: %v", err)
	}
	fragment, err := url.ParseQuery(location.Fragment)
	if err != nil {
		t.Fatalf("parsing fragment: %v", err)
	}
	if fragment.Get("access_token") == "" {
		t.Error("fragment carries no access_token")
	}
	if _, present := fragment["scope"]; present {
		t.Errorf("zero-scope grant must omit the scope key, fragment = %q", location.Fragment)
	}
}

func TestRefreshScopeWideningFails(t *testing.T) {
	handler, fx := setupTestHandler(t)

	w := doToken(t, handler, url.Values{
		"grant_type": {"password"},
		"username":   {testutil.UserLogin},
		"password":   {testutil.UserPassword},
		"scope":      {"read"},
	}, fx.PasswordClient.ID.String(), testutil.ClientSecret)
	seed := decodeToken(t, w)

	w = doToken(t, handler, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {seed.RefreshToken},
		"scope":         {"read write"},
	}, fx.PasswordClient.ID.String(), testutil.ClientSecret)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", w.Code, w.Body.String())
	}
	if got := decodeError(t, w).Error; got != ErrorCodeInvalidScope {
		t.Errorf("error = %q, want invalid_scope", got)
	}
}

func TestInstrumentedGrantLifecycle(t *testing.T) {
	handler, fx := setupTestHandler(t)

	inst, err := instrumentation.New(instrumentation.Config{ServiceName: "kangaroo-test"})
	if err != nil {
		t.Fatalf("instrumentation.New: %v", err)
	}
	handler.SetInstrumentation(inst)

	// Authorize, exchange the code, refresh, and resume the session so
	// every grant metric path runs with instrumentation attached.
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {fx.CodeClient.ID.String()},
		"scope":         {"read"},
	}
	w := doAuthorize(t, handler, params, nil)
	if w.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, want 302, body %s", w.Code, w.Body.String())
	}
	location, _ := url.Parse(w.Header().Get("Location"))
	code := location.Query().Get("code")
	if code == "" {
		t.Fatal("redirect carries no code")
	}
	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == server.DefaultCookieName {
			session = c
		}
	}
	if session == nil {
		t.Fatal("no session cookie set")
	}

	w = doToken(t, handler, url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}, fx.CodeClient.ID.String(), testutil.ClientSecret)
	if w.Code != http.StatusOK {
		t.Fatalf("exchange status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	exchanged := decodeToken(t, w)

	w = doToken(t, handler, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {exchanged.RefreshToken},
	}, fx.CodeClient.ID.String(), testutil.ClientSecret)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	w = doAuthorize(t, handler, params, session)
	if w.Code != http.StatusFound {
		t.Fatalf("resumed authorize status = %d, want 302, body %s", w.Code, w.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	fx := testutil.NewFixture(t)
	srv, err := server.New(fx.Store, fx.Store, fx.Store, fx.Store, authn.NewRegistry(), nil, nil)
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	handler := NewHandler(srv, &Config{RateLimitPerSecond: 1, RateLimitBurst: 1}, nil)
	t.Cleanup(handler.Close)

	form := url.Values{"grant_type": {"client_credentials"}}
	first := doToken(t, handler, form, fx.CredentialsClient.ID.String(), testutil.ClientSecret)
	if first.Code == http.StatusTooManyRequests {
		t.Fatal("first request should not be rate limited")
	}
	second := doToken(t, handler, form, fx.CredentialsClient.ID.String(), testutil.ClientSecret)
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", second.Code)
	}
}

package kangaroo

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kangaroo-oauth/kangaroo/instrumentation"
	"github.com/kangaroo-oauth/kangaroo/security"
	"github.com/kangaroo-oauth/kangaroo/server"
	"github.com/kangaroo-oauth/kangaroo/storage"
)

// Handler is the HTTP adapter for the grant engine. It parses protocol
// requests, applies per-IP rate limits, and renders the engine's
// outcomes as redirects or JSON responses.
type Handler struct {
	server *server.Server
	config *Config
	logger *slog.Logger

	limiter *security.RateLimiter

	inst   *instrumentation.Instrumentation
	tracer trace.Tracer
}

// NewHandler creates the HTTP adapter for a grant engine.
func NewHandler(srv *server.Server, cfg *Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = applyDefaults(cfg)

	h := &Handler{
		server: srv,
		config: cfg,
		logger: logger,
	}
	if !cfg.RateLimitDisabled {
		h.limiter = security.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, logger)
	}
	return h
}

// SetInstrumentation attaches OpenTelemetry instrumentation.
func (h *Handler) SetInstrumentation(inst *instrumentation.Instrumentation) {
	h.inst = inst
	if inst != nil {
		h.tracer = inst.Tracer("http")
	}
}

// RegisterRoutes registers the protocol endpoints on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(h.config.AuthorizePath, h.ServeAuthorize)
	mux.HandleFunc(h.config.TokenPath, h.ServeToken)
}

// Close releases handler resources.
func (h *Handler) Close() {
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// ServeAuthorize handles GET /authorize.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if h.tracer != nil {
		var span trace.Span
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorize")
		defer span.End()
	}

	if !h.checkRateLimit(w, r, "authorize") {
		h.recordHTTPMetrics(r, "authorize", http.StatusTooManyRequests, start)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(r, "authorize", http.StatusBadRequest, start)
		h.writeError(w, ErrorCodeInvalidRequest, "failed to parse request", http.StatusBadRequest)
		return
	}

	req := &server.AuthorizeRequest{
		ResponseType: r.FormValue("response_type"),
		RedirectURI:  r.FormValue("redirect_uri"),
		Scope:        r.FormValue("scope"),
		State:        r.FormValue("state"),
		Credentials:  clientCredentials(r),
		SessionValue: h.sessionCookieValue(r),
		HTTPRequest:  r,
	}

	result, err := h.server.Authorize(ctx, req)
	if err != nil {
		var redirect *server.RedirectError
		if errors.As(err, &redirect) {
			h.recordHTTPMetrics(r, "authorize", http.StatusFound, start)
			http.Redirect(w, r, redirect.URL(), http.StatusFound)
			return
		}
		status := h.writeProtocolError(w, err)
		h.recordHTTPMetrics(r, "authorize", status, start)
		return
	}

	if result.Session != nil {
		h.setSessionCookie(w, result.Session)
		// A new session issued against a presented cookie means the old
		// session was replaced.
		if h.inst != nil && req.SessionValue != "" {
			h.inst.Metrics().RecordSessionRotated(ctx, presentedClientID(req.Credentials))
		}
	}
	h.recordHTTPMetrics(r, "authorize", http.StatusFound, start)
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// ServeToken handles POST /token.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if h.tracer != nil {
		var span trace.Span
		ctx, span = h.tracer.Start(ctx, "oauth.http.token")
		defer span.End()
	}

	if !h.checkRateLimit(w, r, "token") {
		h.recordHTTPMetrics(r, "token", http.StatusTooManyRequests, start)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(r, "token", http.StatusBadRequest, start)
		h.writeError(w, ErrorCodeInvalidRequest, "failed to parse request", http.StatusBadRequest)
		return
	}

	grantType := r.FormValue("grant_type")
	req := &server.TokenRequest{
		GrantType:    grantType,
		Code:         r.FormValue("code"),
		RedirectURI:  r.FormValue("redirect_uri"),
		Username:     r.FormValue("username"),
		Password:     r.FormValue("password"),
		RefreshToken: r.FormValue("refresh_token"),
		Scope:        r.FormValue("scope"),
		State:        r.FormValue("state"),
		Credentials:  clientCredentials(r),
	}

	result, err := h.server.Token(ctx, req)
	if err != nil {
		status := h.writeProtocolError(w, err)
		h.recordHTTPMetrics(r, "token", status, start)
		if h.inst != nil {
			h.inst.Metrics().RecordGrantFailed(ctx, grantType, errorCode(err))
		}
		return
	}

	h.recordHTTPMetrics(r, "token", http.StatusOK, start)
	if h.inst != nil {
		metrics := h.inst.Metrics()
		clientID := presentedClientID(req.Credentials)
		metrics.RecordGrantIssued(ctx, grantType, clientID)
		switch grantType {
		case server.GrantTypeAuthorizationCode:
			metrics.RecordCodeExchange(ctx, clientID)
		case server.GrantTypeRefreshToken:
			metrics.RecordTokenRefresh(ctx, clientID)
		}
	}
	h.writeTokenResponse(w, result)
}

// presentedClientID returns the client identifier offered on the wire,
// preferring the Authorization header channel.
func presentedClientID(creds server.ClientCredentials) string {
	if creds.HasBasic {
		return creds.BasicID
	}
	return creds.FormID
}

// clientCredentials collects the client identity material from the
// Authorization header and the form body.
func clientCredentials(r *http.Request) server.ClientCredentials {
	basicID, basicSecret, hasBasic := r.BasicAuth()
	return server.ClientCredentials{
		BasicID:     basicID,
		BasicSecret: basicSecret,
		HasBasic:    hasBasic,
		FormID:      r.FormValue("client_id"),
		FormSecret:  r.FormValue("client_secret"),
	}
}

// sessionCookieValue reads the browser session cookie, if present.
func (h *Handler) sessionCookieValue(r *http.Request) string {
	cookie, err := r.Cookie(h.server.Config.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// setSessionCookie writes the session cookie for Implicit exchanges.
// The cookie is host-scoped, HttpOnly, and expires with the session.
func (h *Handler) setSessionCookie(w http.ResponseWriter, session *storage.HTTPSession) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.server.Config.CookieName,
		Value:    session.Value,
		Path:     "/",
		MaxAge:   int(session.Timeout / time.Second),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// checkRateLimit enforces the per-IP limit. Returns false after
// writing the error response when the limit is exceeded.
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	if h.limiter == nil {
		return true
	}

	clientIP := security.GetClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)
	if h.limiter.Allow(clientIP) {
		return true
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	if h.inst != nil {
		h.inst.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}
	h.writeError(w, ErrorCodeInvalidRequest, "rate limit exceeded, try again later", http.StatusTooManyRequests)
	return false
}

// writeProtocolError renders a protocol error as JSON and returns the
// status written.
func (h *Handler) writeProtocolError(w http.ResponseWriter, err error) int {
	var protocolErr *server.Error
	if !errors.As(err, &protocolErr) {
		h.logger.Error("Unclassified error reached the HTTP layer", "error", err)
		protocolErr = server.ErrServerError("internal error")
	}

	if protocolErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="kangaroo"`)
	}
	h.writeError(w, protocolErr.Code, protocolErr.Description, protocolErr.Status)
	return protocolErr.Status
}

// writeError writes an RFC 6749 error response.
func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	}); err != nil {
		h.logger.Error("Failed to write error response", "error", err)
	}
}

// writeTokenResponse writes an RFC 6749 token response.
func (h *Handler) writeTokenResponse(w http.ResponseWriter, result *server.TokenResult) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	response := TokenResponse{
		AccessToken:  result.AccessToken,
		TokenType:    result.TokenType,
		ExpiresIn:    result.ExpiresIn,
		RefreshToken: result.RefreshToken,
		Scope:        strings.Join(result.Scopes, " "),
		State:        result.State,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to write token response", "error", err)
	}
}

// recordHTTPMetrics records request count and latency.
func (h *Handler) recordHTTPMetrics(r *http.Request, endpoint string, status int, start time.Time) {
	if h.inst == nil {
		return
	}
	h.inst.Metrics().RecordHTTPRequest(r.Context(), r.Method, endpoint, status,
		float64(time.Since(start).Microseconds())/1000.0)
}

// errorCode extracts the protocol error code for metrics.
func errorCode(err error) string {
	var protocolErr *server.Error
	if errors.As(err, &protocolErr) {
		return protocolErr.Code
	}
	return ErrorCodeServerError
}

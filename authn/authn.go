package authn

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/kangaroo-oauth/kangaroo/storage"
)

// ErrNotBound is returned by the registry when a client references an
// authenticator type with no registered implementation.
var ErrNotBound = errors.New("authn: authenticator not bound")

// ErrAuthenticationFailed is returned by authenticators when the
// request does not establish an identity.
var ErrAuthenticationFailed = errors.New("authn: authentication failed")

// Authenticator establishes a resource-owner identity from an inbound
// authorization request. Implementations are invoked during the
// Authorization Code and Implicit flows and must be treated as
// fallible and potentially slow; the context carries the request
// deadline.
type Authenticator interface {
	// Authenticate resolves the user driving the request, or returns
	// an error when no identity can be established.
	Authenticate(ctx context.Context, r *http.Request, client *storage.Client) (*storage.User, error)
}

// Registry maps authenticator type names to implementations.
type Registry struct {
	mu             sync.RWMutex
	authenticators map[string]Authenticator
}

// NewRegistry creates an empty authenticator registry.
func NewRegistry() *Registry {
	return &Registry{authenticators: make(map[string]Authenticator)}
}

// Register binds an implementation to a type name, replacing any
// previous binding.
func (r *Registry) Register(name string, a Authenticator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authenticators[name] = a
}

// Get resolves a type name to its implementation. Returns ErrNotBound
// when the name has no binding, including the empty name.
func (r *Registry) Get(name string) (Authenticator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.authenticators[name]
	if !ok {
		return nil, ErrNotBound
	}
	return a, nil
}

// Package storage defines the entity types and store interfaces for
// persisting OAuth clients, users, tokens, and browser sessions.
// It supports multiple backend implementations; see the memory and
// postgres subpackages.
package storage

// internal/identity/identity.go
// Maps an incoming websocket request to the user key that groups its connections.
package identity

import (
	"fmt"
	"net/http"
	"strings"
)

// Resolver extracts the authenticated user key from a request. ok is false
// for unauthenticated callers. The same user must resolve to the same key on
// every connection for grouping to work.
type Resolver interface {
	ResolveUserKey(r *http.Request) (userKey string, ok bool)
}

type ResolverFunc func(r *http.Request) (string, bool)

func (f ResolverFunc) ResolveUserKey(r *http.Request) (string, bool) { return f(r) }

// Chain tries each resolver in order and returns the first hit.
type Chain []Resolver

func (c Chain) ResolveUserKey(r *http.Request) (string, bool) {
	for _, res := range c {
		if key, ok := res.ResolveUserKey(r); ok {
			return key, true
		}
	}
	return "", false
}

// HeaderResolver trusts a header set by an authenticating reverse proxy.
type HeaderResolver struct {
	Header string
}

func (h HeaderResolver) ResolveUserKey(r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.Header.Get(h.Header))
	return key, key != ""
}

// AnonymousPolicy decides what happens to connections nobody authenticated.
type AnonymousPolicy string

const (
	// AnonymousIsolated gives every anonymous connection its own key.
	AnonymousIsolated AnonymousPolicy = "isolated"
	// AnonymousShared puts every anonymous connection under one fallback
	// key, so they all see each other's lists.
	AnonymousShared AnonymousPolicy = "shared"
	// AnonymousExcluded keeps the connection open but out of sync.
	AnonymousExcluded AnonymousPolicy = "excluded"
)

func ParseAnonymousPolicy(s string) (AnonymousPolicy, error) {
	switch p := AnonymousPolicy(s); p {
	case AnonymousIsolated, AnonymousShared, AnonymousExcluded:
		return p, nil
	default:
		return "", fmt.Errorf("unknown anonymous policy %q", s)
	}
}

const anonymousPrefix = "anon:"

type Identity struct {
	UserKey   string
	Anonymous bool
	// Syncing is false when the connection must not join any group.
	Syncing bool
	// Ephemeral keys belong to a single connection and are never joined
	// again, so nothing published under them needs storing.
	Ephemeral bool
}

// Identifier resolves a connection's identity and applies the anonymous
// policy when resolution fails. It never rejects a connection.
type Identifier struct {
	Resolver    Resolver
	Policy      AnonymousPolicy
	FallbackKey string
}

func (id *Identifier) Identify(r *http.Request, connID string) Identity {
	if id.Resolver != nil {
		if key, ok := id.Resolver.ResolveUserKey(r); ok {
			return Identity{UserKey: key, Syncing: true}
		}
	}

	switch id.Policy {
	case AnonymousShared:
		return Identity{UserKey: id.FallbackKey, Anonymous: true, Syncing: true}
	case AnonymousExcluded:
		return Identity{Anonymous: true}
	default:
		return Identity{UserKey: anonymousPrefix + connID, Anonymous: true, Syncing: true, Ephemeral: true}
	}
}

// StableKey returns a key that stays the same across the caller's requests:
// the authenticated key, or the fallback under the shared policy. Other
// anonymous callers have none.
func (id *Identifier) StableKey(r *http.Request) (string, bool) {
	if id.Resolver != nil {
		if key, ok := id.Resolver.ResolveUserKey(r); ok {
			return key, true
		}
	}
	if id.Policy == AnonymousShared {
		return id.FallbackKey, true
	}
	return "", false
}

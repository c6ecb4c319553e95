package identity

import (
	"github.com/golang-jwt/jwt/v5"
)

// Source yields a candidate nickname for the current user, or "" when the
// source does not know it.
type Source func() string

// Resolver finds the current user's nickname from an ordered list of
// sources: session context first, then the persisted auth store, then the
// bearer token's subject claim. The first non-empty answer wins.
type Resolver struct {
	sources []Source
}

func NewResolver(sources ...Source) *Resolver {
	return &Resolver{sources: sources}
}

// Resolve returns the first non-empty nickname, or "".
func (r *Resolver) Resolve() string {
	for _, src := range r.sources {
		if src == nil {
			continue
		}
		if name := src(); name != "" {
			return name
		}
	}
	return ""
}

// FromToken returns a Source that decodes the JWT subject claim from the
// token the provider yields. The client never holds the signing key, so
// the claims are decoded without signature verification; they are only
// used for display attribution, never authorization.
func FromToken(token func() string) Source {
	return func() string {
		raw := token()
		if raw == "" {
			return ""
		}
		parser := jwt.NewParser()
		claims := jwt.MapClaims{}
		if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
			return ""
		}
		sub, err := claims.GetSubject()
		if err != nil {
			return ""
		}
		return sub
	}
}

// Static returns a Source backed by a fixed value, useful for session
// context overrides and tests.
func Static(name string) Source {
	return func() string { return name }
}

package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Scopes an API client can hold.
const (
	ScopeCallsWrite  = "calls:write"
	ScopeCallsRead   = "calls:read"
	ScopeReportsRead = "reports:read"
)

// AllScopes is granted to configured API clients.
var AllScopes = []string{ScopeCallsWrite, ScopeCallsRead, ScopeReportsRead}

// Claims are the only supported JWT claims shape for this service.
// Tokens identify an API client, not an end user.
type Claims struct {
	jwt.RegisteredClaims

	ClientID  string    `json:"client_id"`
	Scopes    []string  `json:"scopes,omitempty"`
	TokenType TokenType `json:"token_type"`
}

func (c Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"phonon/internal/config"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		Clients:         map[string]string{"ops": "s3cret"},
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m := newTestManager(t)

	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(now, "ops", []string{ScopeCallsRead})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token strings")
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.ClientID != "ops" || !claims.HasScope(ScopeCallsRead) || claims.HasScope(ScopeCallsWrite) {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	p, err := m.IssuePair(time.Now(), "c", AllScopes)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeAccess, time.Now()); err == nil {
		t.Fatalf("expected token_type mismatch")
	}
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(config.AuthConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestAuthenticate(t *testing.T) {
	m := newTestManager(t)
	if err := m.Authenticate("ops", "s3cret"); err != nil {
		t.Fatalf("expected valid credentials: %v", err)
	}
	for _, tc := range []struct{ id, secret string }{
		{"ops", "wrong"},
		{"ops", ""},
		{"nobody", "s3cret"},
		{"", ""},
	} {
		if err := m.Authenticate(tc.id, tc.secret); err != ErrInvalidClient {
			t.Fatalf("%q/%q: expected ErrInvalidClient, got %v", tc.id, tc.secret, err)
		}
	}
}

func TestRefreshIssuesFullScopes(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	p, err := m.IssuePair(now, "ops", []string{ScopeCallsRead})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Refresh(now, p.AccessToken); err == nil {
		t.Fatalf("access token must not refresh")
	}
	next, err := m.Refresh(now, p.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	claims, err := m.Verify(next.AccessToken, TokenTypeAccess, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !claims.HasScope(ScopeReportsRead) {
		t.Fatalf("scopes=%v", claims.Scopes)
	}

	stranger, _ := m.IssuePair(now, "gone", AllScopes)
	if _, err := m.Refresh(now, stranger.RefreshToken); err != ErrInvalidClient {
		t.Fatalf("expected ErrInvalidClient for unknown client, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestManager(t)
	pair, err := m.IssuePair(time.Now(), "ops", []string{ScopeCallsRead})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	r := gin.New()
	r.GET("/read", RequireAccessToken(m), RequireScope(ScopeCallsRead), func(c *gin.Context) {
		id, _ := ClientID(c.Request.Context())
		c.String(http.StatusOK, id)
	})
	r.GET("/write", RequireAccessToken(m), RequireScope(ScopeCallsWrite), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	cases := []struct {
		path, header string
		want         int
	}{
		{"/read", "", http.StatusUnauthorized},
		{"/read", "Bearer nonsense", http.StatusUnauthorized},
		{"/read", "Bearer " + pair.RefreshToken, http.StatusUnauthorized},
		{"/read", "Bearer " + pair.AccessToken, http.StatusOK},
		{"/write", "Bearer " + pair.AccessToken, http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%s %q: status=%d want %d", tc.path, tc.header, w.Code, tc.want)
		}
		if tc.want == http.StatusOK && w.Body.String() != "ops" {
			t.Fatalf("client id=%q", w.Body.String())
		}
	}
}

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewStaticProvider(t *testing.T) {
	t.Run("parses user entries", func(t *testing.T) {
		p, err := NewStaticProvider("secret", time.Hour, []string{
			"alice:wonderland:admin",
			"bob:builder:editor",
			"carol:pass",
		})
		if err != nil {
			t.Fatalf("NewStaticProvider failed: %v", err)
		}

		if p.users["alice"].Role != RoleAdmin {
			t.Errorf("expected alice to be admin, got %s", p.users["alice"].Role)
		}
		if p.users["bob"].Role != RoleEditor {
			t.Errorf("expected bob to be editor, got %s", p.users["bob"].Role)
		}
		if p.users["carol"].Role != RoleViewer {
			t.Errorf("expected carol to default to viewer, got %s", p.users["carol"].Role)
		}
	})

	t.Run("requires secret", func(t *testing.T) {
		if _, err := NewStaticProvider("", time.Hour, nil); err == nil {
			t.Error("expected error for empty secret")
		}
	})

	t.Run("rejects malformed entries", func(t *testing.T) {
		cases := []string{"alice", "alice:", ":pass", ""}
		for _, entry := range cases {
			if _, err := NewStaticProvider("secret", time.Hour, []string{entry}); err == nil {
				t.Errorf("expected error for entry %q", entry)
			}
		}
	})

	t.Run("rejects unknown role", func(t *testing.T) {
		if _, err := NewStaticProvider("secret", time.Hour, []string{"alice:pass:superuser"}); err == nil {
			t.Error("expected error for unknown role")
		}
	})

	t.Run("rejects duplicate user", func(t *testing.T) {
		if _, err := NewStaticProvider("secret", time.Hour, []string{"alice:a", "alice:b"}); err == nil {
			t.Error("expected error for duplicate user")
		}
	})
}

func TestStaticProvider_Authenticate(t *testing.T) {
	p, err := NewStaticProvider("secret", time.Hour, []string{"alice:wonderland:editor"})
	if err != nil {
		t.Fatalf("NewStaticProvider failed: %v", err)
	}

	t.Run("valid credentials", func(t *testing.T) {
		token, claims, err := p.Authenticate("alice", "wonderland")
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}
		if token == "" {
			t.Error("expected a signed token")
		}
		if claims.Subject != "alice" {
			t.Errorf("expected subject alice, got %s", claims.Subject)
		}
		if !claims.HasRole(RoleEditor) {
			t.Errorf("expected editor role, got %v", claims.Roles)
		}
		if claims.Expiry.Before(time.Now()) {
			t.Error("expected expiry in the future")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, _, err := p.Authenticate("alice", "nope"); err != ErrInvalidCredentials {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		if _, _, err := p.Authenticate("mallory", "wonderland"); err != ErrInvalidCredentials {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})
}

func TestStaticProvider_VerifyToken(t *testing.T) {
	p, err := NewStaticProvider("secret", time.Hour, []string{"alice:wonderland:admin"})
	if err != nil {
		t.Fatalf("NewStaticProvider failed: %v", err)
	}

	t.Run("round trip", func(t *testing.T) {
		token, _, err := p.Authenticate("alice", "wonderland")
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}

		claims, err := p.VerifyToken(context.Background(), token)
		if err != nil {
			t.Fatalf("VerifyToken failed: %v", err)
		}
		if claims.Subject != "alice" {
			t.Errorf("expected subject alice, got %s", claims.Subject)
		}
		if !claims.HasRole(RoleAdmin) {
			t.Errorf("expected admin role, got %v", claims.Roles)
		}
		if claims.IsExpired() {
			t.Error("fresh token should not be expired")
		}
	})

	t.Run("accepts bearer prefix", func(t *testing.T) {
		token, _, err := p.Authenticate("alice", "wonderland")
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}
		if _, err := p.VerifyToken(context.Background(), "Bearer "+token); err != nil {
			t.Errorf("VerifyToken with Bearer prefix failed: %v", err)
		}
	})

	t.Run("rejects token signed with a different secret", func(t *testing.T) {
		other, err := NewStaticProvider("other-secret", time.Hour, []string{"alice:wonderland:admin"})
		if err != nil {
			t.Fatalf("NewStaticProvider failed: %v", err)
		}
		token, _, err := other.Authenticate("alice", "wonderland")
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}

		if _, err := p.VerifyToken(context.Background(), token); err == nil {
			t.Error("expected verification to fail for foreign signature")
		}
	})

	t.Run("rejects expired token", func(t *testing.T) {
		short, err := NewStaticProvider("secret", time.Nanosecond, []string{"alice:wonderland"})
		if err != nil {
			t.Fatalf("NewStaticProvider failed: %v", err)
		}
		token, _, err := short.Authenticate("alice", "wonderland")
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}

		time.Sleep(10 * time.Millisecond)
		if _, err := short.VerifyToken(context.Background(), token); err == nil {
			t.Error("expected verification to fail for expired token")
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		if _, err := p.VerifyToken(context.Background(), "not-a-token"); err == nil {
			t.Error("expected verification to fail for garbage input")
		}
	})
}

func TestClaims_HasAtLeastRole(t *testing.T) {
	tests := []struct {
		name     string
		roles    []string
		required string
		want     bool
	}{
		{"admin covers viewer", []string{RoleAdmin}, RoleViewer, true},
		{"admin covers editor", []string{RoleAdmin}, RoleEditor, true},
		{"admin covers admin", []string{RoleAdmin}, RoleAdmin, true},
		{"editor covers viewer", []string{RoleEditor}, RoleViewer, true},
		{"editor does not cover admin", []string{RoleEditor}, RoleAdmin, false},
		{"viewer does not cover editor", []string{RoleViewer}, RoleEditor, false},
		{"custom role matches exactly", []string{"ops"}, "ops", true},
		{"custom role does not satisfy builtin", []string{"ops"}, RoleViewer, false},
		{"no roles", nil, RoleViewer, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Claims{Roles: tt.roles}
			if got := c.HasAtLeastRole(tt.required); got != tt.want {
				t.Errorf("HasAtLeastRole(%q) = %v, want %v", tt.required, got, tt.want)
			}
		})
	}
}

func TestMiddleware_Handler(t *testing.T) {
	provider, err := NewStaticProvider("secret", time.Hour, []string{"alice:wonderland:editor"})
	if err != nil {
		t.Fatalf("NewStaticProvider failed: %v", err)
	}

	var gotClaims *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = GetClaims(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("public path bypasses auth", func(t *testing.T) {
		mw := NewMiddleware(provider, &MiddlewareConfig{Enabled: true})
		req := httptest.NewRequest("GET", "/healthz", nil)
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200 for public path, got %d", rec.Code)
		}
	})

	t.Run("disabled middleware passes everything", func(t *testing.T) {
		mw := NewMiddleware(provider, &MiddlewareConfig{Enabled: false})
		req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200 when disabled, got %d", rec.Code)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		mw := NewMiddleware(provider, &MiddlewareConfig{Enabled: true})
		req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
		if got := rec.Header().Get("WWW-Authenticate"); got != `Bearer realm="flowmesh"` {
			t.Errorf("unexpected WWW-Authenticate header: %q", got)
		}
	})

	t.Run("malformed header", func(t *testing.T) {
		mw := NewMiddleware(provider, &MiddlewareConfig{Enabled: true})
		req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
		req.Header.Set("Authorization", "Basic abc123")
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		mw := NewMiddleware(provider, &MiddlewareConfig{Enabled: true})
		req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
		req.Header.Set("Authorization", "Bearer bogus")
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("valid token reaches handler with claims", func(t *testing.T) {
		token, _, err := provider.Authenticate("alice", "wonderland")
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}

		mw := NewMiddleware(provider, &MiddlewareConfig{Enabled: true})
		req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		gotClaims = nil
		mw.Handler(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
		if gotClaims == nil {
			t.Fatal("expected claims in request context")
		}
		if gotClaims.Subject != "alice" {
			t.Errorf("expected subject alice, got %s", gotClaims.Subject)
		}
	})
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	serve := func(claims *Claims, role string, enabled bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/v1/workflows", nil)
		if claims != nil {
			req = req.WithContext(ContextWithClaims(req.Context(), claims))
		}
		rec := httptest.NewRecorder()
		RequireRole(role, enabled)(next).ServeHTTP(rec, req)
		return rec
	}

	t.Run("no claims with enforcement", func(t *testing.T) {
		if rec := serve(nil, RoleEditor, true); rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("no claims without enforcement", func(t *testing.T) {
		if rec := serve(nil, RoleEditor, false); rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("insufficient role", func(t *testing.T) {
		claims := &Claims{Subject: "bob", Roles: []string{RoleViewer}}
		if rec := serve(claims, RoleEditor, true); rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("exact role", func(t *testing.T) {
		claims := &Claims{Subject: "bob", Roles: []string{RoleEditor}}
		if rec := serve(claims, RoleEditor, true); rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("higher role", func(t *testing.T) {
		claims := &Claims{Subject: "root", Roles: []string{RoleAdmin}}
		if rec := serve(claims, RoleEditor, true); rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})
}

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func serveWithToken(t *testing.T, handler http.Handler, header string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireFirebaseAuth_AllowsVendor(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "vendor-9",
			Claims: map[string]interface{}{
				"role":  []interface{}{"Vendor", "buyer", "vendor"},
				"email": "shop@example.com",
			},
		},
	}
	authn := NewAuthenticator(verifier)

	called := false
	handler := authn.RequireFirebaseAuth(RoleVendor)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "vendor-9" || identity.Email != "shop@example.com" {
			t.Fatalf("unexpected identity %+v", identity)
		}
		if len(identity.Roles) != 2 || !identity.HasRole(RoleVendor) || identity.IsAdmin() {
			t.Fatalf("unexpected roles %v", identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := serveWithToken(t, handler, "Bearer token-value")
	if rr.Code != http.StatusNoContent || !called {
		t.Fatalf("expected handler to run, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
}

func TestRequireFirebaseAuth_Rejections(t *testing.T) {
	buyerToken := &firebaseauth.Token{UID: "buyer-1", Claims: map[string]interface{}{}}
	tests := []struct {
		name     string
		verifier *stubTokenVerifier
		header   string
		roles    []string
		status   int
		code     string
	}{
		{name: "missing header", verifier: &stubTokenVerifier{token: buyerToken}, status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "basic scheme", verifier: &stubTokenVerifier{token: buyerToken}, header: "Basic abc", status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "expired", verifier: &stubTokenVerifier{err: ErrTokenExpired}, header: "Bearer x", status: http.StatusUnauthorized, code: "token_expired"},
		{name: "invalid", verifier: &stubTokenVerifier{err: ErrTokenInvalid}, header: "Bearer x", status: http.StatusUnauthorized, code: "invalid_token"},
		{name: "buyer on admin route", verifier: &stubTokenVerifier{token: buyerToken}, header: "Bearer x", roles: []string{RoleAdmin}, status: http.StatusForbidden, code: "insufficient_role"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewAuthenticator(tc.verifier).RequireFirebaseAuth(tc.roles...)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not execute")
			}))
			rr := serveWithToken(t, handler, tc.header)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if got := errorCode(t, rr); got != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, got)
			}
		})
	}
}

func TestRequireFirebaseAuth_MissingRoleUsesFallback(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-456", Claims: map[string]interface{}{}}}

	handler := NewAuthenticator(verifier).RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if len(identity.Roles) != 1 || identity.Roles[0] != RoleBuyer {
			t.Fatalf("expected fallback role %q, got %v", RoleBuyer, identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	if rr := serveWithToken(t, handler, "Bearer missing-role-token"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestRolesFromClaimsShapes(t *testing.T) {
	tests := []struct {
		name  string
		claim any
		want  int
	}{
		{name: "string", claim: " Admin ", want: 1},
		{name: "string slice", claim: []string{"buyer", "vendor", ""}, want: 2},
		{name: "flag map", claim: map[string]interface{}{"admin": true, "vendor": false}, want: 1},
		{name: "number", claim: 7, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := rolesFromClaims(map[string]interface{}{"role": tc.claim}, "role")
			if len(got) != tc.want {
				t.Fatalf("expected %d roles, got %v", tc.want, got)
			}
		})
	}
}

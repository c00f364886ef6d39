package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "gateway-test-secret"

func newTestGateway(t *testing.T, upstream string) *Server {
	t.Helper()
	srv, err := New(Config{
		ListenAddress:     "127.0.0.1:0",
		UpstreamRPC:       upstream,
		JWTSecret:         testSecret,
		JWTIssuer:         "stakeledger",
		JWTAudience:       "stake-gateway",
		RequestsPerMinute: 600,
		Burst:             50,
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return srv
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": "stakeledger",
		"aud": "stake-gateway",
		"sub": "operator",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

func TestHealthzBypassesAuth(t *testing.T) {
	srv := newTestGateway(t, "http://127.0.0.1:1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}
}

func TestRPCRequiresToken(t *testing.T) {
	srv := newTestGateway(t, "http://127.0.0.1:1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}
}

func TestRPCProxiesWithValidToken(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"ok"}`))
	}))
	defer upstream.Close()

	srv := newTestGateway(t, upstream.URL)
	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, validClaims()))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestRPCRejectsExpiredToken(t *testing.T) {
	srv := newTestGateway(t, "http://127.0.0.1:1")
	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, claims))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired token status = %d, want 401", rec.Code)
	}
}

func TestRPCRejectsWrongAudience(t *testing.T) {
	srv := newTestGateway(t, "http://127.0.0.1:1")
	claims := validClaims()
	claims["aud"] = "some-other-service"
	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, claims))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong audience status = %d, want 401", rec.Code)
	}
}

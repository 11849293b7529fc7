package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/govote/internal/domain/rbac"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key-govote"

const testIssuer = "https://idp.test/realms/govote"

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var testGroups = rbac.GroupMapping{
	Member:    []string{"govote-members"},
	Readonly:  []string{"govote-auditors"},
	Admin:     []string{"govote-admins"},
	Superuser: []string{"govote-superusers"},
}

// newTestJWTAuth создаёт JWTAuth для тестов.
func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, testIssuer, testGroups, testLogger())
}

// generateToken генерирует подписанный JWT.
func generateToken(t *testing.T, key *rsa.PrivateKey, sub string, roles, groups []string, expired bool) string {
	t.Helper()

	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	claims := jwt.MapClaims{
		"sub":                sub,
		"preferred_username": sub,
		"iss":                testIssuer,
		"exp":                jwt.NewNumericDate(exp),
		"nbf":                jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		"iat":                jwt.NewNumericDate(time.Now()),
	}
	if len(roles) > 0 {
		claims["realm_access"] = map[string]any{"roles": roles}
	}
	if len(groups) > 0 {
		claims["groups"] = groups
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return tokenStr
}

func TestJWTAuth_ValidToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			t.Fatal("claims не найдены в контексте")
		}
		if claims.Subject != "member-42" {
			t.Errorf("ожидался sub=member-42, получен %s", claims.Subject)
		}
		if claims.Role != rbac.RoleMember {
			t.Errorf("ожидалась роль member, получена %s", claims.Role)
		}
		if SubjectFromContext(r.Context()) != "member-42" || RoleFromContext(r.Context()) != rbac.RoleMember {
			t.Error("context helpers вернули неверные значения")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/election", nil)
	req.Header.Set("Authorization", "Bearer "+generateToken(t, key, "member-42", nil, []string{"govote-members"}, false))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
}

func TestJWTAuth_Rejects(t *testing.T) {
	key := generateTestKey(t)
	other := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler не должен быть вызван")
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"нет заголовка", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"без префикса", "token123"},
		{"пустой bearer", "Bearer "},
		{"просроченный", "Bearer " + generateToken(t, key, "m", nil, nil, true)},
		{"чужая подпись", "Bearer " + generateToken(t, other, "m", nil, nil, false)},
		{"мусор", "Bearer not.a.jwt"},
		{"без sub", "Bearer " + generateToken(t, key, "", nil, nil, false)},
		{"sub длиннее actor_id", "Bearer " + generateToken(t, key, strings.Repeat("m", 256), nil, nil, false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/election", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
		})
	}
}

func TestJWTAuth_RoleMapping(t *testing.T) {
	tests := []struct {
		name   string
		groups []string
		roles  []string
		want   string
	}{
		{"участник", []string{"govote-members"}, nil, rbac.RoleMember},
		{"аудитор", []string{"govote-auditors"}, nil, rbac.RoleReadonly},
		{"максимальная из групп", []string{"govote-members", "govote-admins"}, nil, rbac.RoleAdmin},
		{"суперпользователь", []string{"govote-superusers"}, nil, rbac.RoleSuperuser},
		{"роль из realm_access", nil, []string{"offline_access", "admin"}, rbac.RoleAdmin},
		{"группы важнее realm_access", []string{"govote-members"}, []string{"superuser"}, rbac.RoleMember},
		{"без совпадений", []string{"other"}, []string{"uma_authorization"}, ""},
	}

	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = RoleFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+generateToken(t, key, "u", tt.roles, tt.groups, false))
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("роль = %q, ожидалась %q", got, tt.want)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		claims   *AuthClaims
		min      string
		wantCode int
	}{
		{"без claims", nil, rbac.RoleReadonly, http.StatusUnauthorized},
		{"участник к readonly", &AuthClaims{Subject: "m", Role: rbac.RoleMember}, rbac.RoleReadonly, http.StatusForbidden},
		{"без роли", &AuthClaims{Subject: "m"}, rbac.RoleMember, http.StatusForbidden},
		{"admin к readonly", &AuthClaims{Subject: "a", Role: rbac.RoleAdmin}, rbac.RoleReadonly, http.StatusOK},
		{"admin к superuser", &AuthClaims{Subject: "a", Role: rbac.RoleAdmin}, rbac.RoleSuperuser, http.StatusForbidden},
		{"superuser к superuser", &AuthClaims{Subject: "s", Role: rbac.RoleSuperuser}, rbac.RoleSuperuser, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireRole(tt.min)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/v1/elections", nil)
			if tt.claims != nil {
				req = req.WithContext(contextWithClaims(req, tt.claims))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("ожидался статус %d, получен %d", tt.wantCode, rec.Code)
			}
		})
	}
}

func TestJWKSReadinessChecker(t *testing.T) {
	key := generateTestKey(t)
	jwks := buildJWKSetJSON(&key.PublicKey, testKeyID)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"ключи есть", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write(jwks) }, "ok"},
		{"нет ключей", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"keys":[]}`)) }, "degraded"},
		{"не JSON", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`<html>`)) }, "degraded"},
		{"ошибка IdP", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) }, "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			status, msg := NewJWKSReadinessChecker(srv.URL, time.Second).CheckReady()
			if status != tt.want {
				t.Errorf("CheckReady() = %s (%s), ожидался %s", status, msg, tt.want)
			}
		})
	}

	status, _ := NewJWKSReadinessChecker("http://127.0.0.1:1", 100*time.Millisecond).CheckReady()
	if status != "fail" {
		t.Errorf("недоступный IdP: статус %s, ожидался fail", status)
	}
}

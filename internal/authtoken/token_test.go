package authtoken

import (
	"net/http"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestSignAndVerifySubject(t *testing.T) {
	m, err := New(Options{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	token, err := m.Sign("user-1")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	subject, err := m.VerifySubject(token)
	if err != nil {
		t.Fatalf("VerifySubject: %v", err)
	}
	if subject != "user-1" {
		t.Fatalf("subject = %q, want user-1", subject)
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error without secret")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a, _ := New(Options{Secret: "secret-a"})
	b, _ := New(Options{Secret: "secret-b"})
	token, err := a.Sign("user-1")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := b.VerifySubject(token); err == nil {
		t.Fatal("expected verification failure with wrong secret")
	}
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	a, _ := New(Options{Secret: "secret", Audience: "other-api"})
	b, _ := New(Options{Secret: "secret"})
	token, err := a.Sign("user-1")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := b.VerifySubject(token); err == nil {
		t.Fatal("expected verification failure for wrong audience")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m, _ := New(Options{Secret: "secret", Leeway: time.Millisecond})
	now := time.Now().UTC().Add(-2 * time.Hour)
	claims := jwt.RegisteredClaims{
		Issuer:    defaultIssuer,
		Subject:   "user-1",
		Audience:  jwt.ClaimStrings{defaultAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.VerifySubject(token); err == nil {
		t.Fatal("expected verification failure for expired token")
	}
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	m, _ := New(Options{Secret: "secret"})
	claims := jwt.RegisteredClaims{
		Issuer:   defaultIssuer,
		Subject:  "user-1",
		Audience: jwt.ClaimStrings{defaultAudience},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.VerifySubject(token); err == nil {
		t.Fatal("expected verification failure for alg=none token")
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"Bearer   abc  ", "abc", true},
		{"bearer abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
		{"Basic abc", "", false},
	}
	for _, tc := range cases {
		r, _ := http.NewRequest(http.MethodGet, "/", strings.NewReader(""))
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		got, ok := BearerToken(r)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("BearerToken(%q) = (%q, %v), want (%q, %v)", tc.header, got, ok, tc.want, tc.ok)
		}
	}
}

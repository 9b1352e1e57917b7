package httpapi

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func setSecret(t *testing.T, value string) {
	t.Helper()
	t.Setenv(secretEnvVariable, value)
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestIdentityTokenRoundTrip(t *testing.T) {
	setSecret(t, "test-secret")

	token, err := IdentityToken("idp|alice", time.Hour)
	if err != nil {
		t.Fatalf("IdentityToken: %v", err)
	}
	externalID, err := ParseIdentityToken(token)
	if err != nil {
		t.Fatalf("ParseIdentityToken: %v", err)
	}
	if externalID != "idp|alice" {
		t.Fatalf("external id %q", externalID)
	}
}

func TestIdentityTokenRequiresSecret(t *testing.T) {
	setSecret(t, "")

	if _, err := IdentityToken("idp|alice", time.Hour); err == nil {
		t.Fatal("expected error without configured secret")
	}
}

func TestParseIdentityTokenRejects(t *testing.T) {
	setSecret(t, "test-secret")

	if _, err := ParseIdentityToken(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token: got %v", err)
	}
	if _, err := ParseIdentityToken("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: got %v", err)
	}

	sign := func(t *testing.T, key string, claims jwt.RegisteredClaims) string {
		t.Helper()
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, IdentityClaims{RegisteredClaims: claims}).
			SignedString([]byte(key))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return signed
	}
	now := time.Now().UTC()

	forged := sign(t, "other-secret", jwt.RegisteredClaims{
		Issuer: issuer, Subject: "idp|alice",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	if _, err := ParseIdentityToken(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("forged signature: got %v", err)
	}

	expired := sign(t, "test-secret", jwt.RegisteredClaims{
		Issuer: issuer, Subject: "idp|alice",
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
	})
	if _, err := ParseIdentityToken(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: got %v", err)
	}

	wrongIssuer := sign(t, "test-secret", jwt.RegisteredClaims{
		Issuer: "someone-else", Subject: "idp|alice",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	if _, err := ParseIdentityToken(wrongIssuer); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong issuer: got %v", err)
	}

	noSubject := sign(t, "test-secret", jwt.RegisteredClaims{
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	if _, err := ParseIdentityToken(noSubject); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("missing subject: got %v", err)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"bearer abc", "abc", false},
		{"  Bearer   abc  ", "abc", false},
		{"", "", true},
		{"Bearer ", "", true},
		{"Basic abc", "", true},
		{"abc", "", true},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Errorf("header %q: expected error", tc.header)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("header %q: got %q, %v", tc.header, got, err)
		}
	}
}

func TestIsPublicRequest(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   bool
	}{
		{"GET", "/healthz", true},
		{"GET", "/readyz", true},
		{"GET", "/metrics", true},
		{"GET", "/v1/info", true},
		{"GET", "/v1/invitations/abc123", true},
		{"POST", "/v1/invitations/abc123", false},
		{"GET", "/v1/invitations/abc123/activate", false},
		{"POST", "/v1/invitations", false},
		{"GET", "/v1/accounts", false},
		{"POST", "/v1/profiles/p-1/suspend", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(tc.method, tc.path, nil)
		if got := isPublicRequest(r); got != tc.want {
			t.Errorf("%s %s: got %v, want %v", tc.method, tc.path, got, tc.want)
		}
	}
}

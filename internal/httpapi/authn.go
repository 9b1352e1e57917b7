package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"arbor.reports/internal/obs"
)

// The identity provider in front of this service signs HS256 tokens whose
// subject is the external identity id. This layer only authenticates the
// caller; authorization is the facade's job.

const (
	issuer            = "arbor-idp"
	secretEnvVariable = "ARBOR_AUTH_SECRET"

	authHeader = "Authorization"
	bearer     = "Bearer "
)

var (
	errMissingSecret = errors.New("auth secret is not configured")

	// ErrInvalidToken indicates the identity token failed validation.
	ErrInvalidToken = errors.New("invalid identity token")

	secretMu sync.Mutex
	secret   cachedSecret
)

type cachedSecret struct {
	value []byte
	err   error
	ready bool
}

// IdentityClaims are the verified claims of an identity-provider token.
type IdentityClaims struct {
	jwt.RegisteredClaims
}

// IdentityToken signs a token for the given external identity. Used by the
// development seed tooling and tests; production tokens come from the
// identity provider.
func IdentityToken(externalID string, ttl time.Duration) (string, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return "", errors.New("externalID is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   externalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secretBytes)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseIdentityToken verifies the signature and claims and returns the
// external identity id.
func ParseIdentityToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return "", err
	}

	parsed, err := jwt.ParseWithClaims(token, &IdentityClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secretBytes, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*IdentityClaims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Issuer != issuer || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func loadSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret.ready {
		return secret.value, secret.err
	}
	raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
	if raw == "" {
		secret.err = errMissingSecret
		secret.ready = true
		return nil, secret.err
	}
	secret.value = []byte(raw)
	secret.err = nil
	secret.ready = true
	return secret.value, nil
}

// ResetSecretForTests clears the cached secret value. Only intended for test use.
func ResetSecretForTests() {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = cachedSecret{}
}

type externalIDContextKey struct{}

// ContextWithExternalID stores the authenticated external identity.
func ContextWithExternalID(ctx context.Context, externalID string) context.Context {
	return context.WithValue(ctx, externalIDContextKey{}, externalID)
}

// ExternalIDFromContext extracts the authenticated external identity.
func ExternalIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(externalIDContextKey{}).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
}

// isPublicRequest allows unauthenticated access to the probes and to
// invitation validation (the invitee has no identity token yet).
func isPublicRequest(r *http.Request) bool {
	path := r.URL.Path
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	if r.Method == http.MethodGet && strings.HasPrefix(path, "/v1/invitations/") &&
		!strings.Contains(strings.TrimPrefix(path, "/v1/invitations/"), "/") {
		return true
	}
	return false
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicRequest(r) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="arbor"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		externalID, err := ParseIdentityToken(token)
		if err != nil {
			if errors.Is(err, ErrInvalidToken) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="arbor"`)
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			obs.Errorf("authn failed: %v", err)
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithExternalID(r.Context(), externalID)))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// requireExternalID fetches the authenticated identity or writes a 401.
func requireExternalID(w http.ResponseWriter, r *http.Request) (string, bool) {
	externalID, ok := ExternalIDFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="arbor"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return externalID, true
}

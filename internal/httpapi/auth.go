package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// TokenClaims are the claims carried by relaydoc bearer tokens. Tokens are
// issued by the external identity service; SignToken exists for tooling and
// tests.
type TokenClaims struct {
	UserID string   `json:"id"`
	Name   string   `json:"name,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// SignToken mints an HS256 token for claims.
func SignToken(secret string, claims TokenClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// bearerToken takes the token from the Authorization header or, for browser
// WebSocket clients that cannot set headers, the access_token query
// parameter.
func bearerToken(r *http.Request, allowQuery bool) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if allowQuery {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

func authenticate(raw, secret, audience string, now time.Time) (TokenClaims, *authError) {
	if raw == "" {
		return TokenClaims{}, &authError{status: 401, code: "unauthorized", message: "missing or invalid bearer token"}
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	var claims TokenClaims
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return TokenClaims{}, &authError{status: 401, code: "unauthorized", message: "token expired"}
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return TokenClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid aud claim"}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return TokenClaims{}, &authError{status: 401, code: "unauthorized", message: "jwt signature mismatch"}
	default:
		return TokenClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid bearer token"}
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return TokenClaims{}, &authError{status: 401, code: "unauthorized", message: "missing id claim"}
	}
	return claims, nil
}

func authorizeBearer(r *http.Request, secret, audience, requiredScope string, now time.Time) (TokenClaims, *authError) {
	claims, err := authenticate(bearerToken(r, false), secret, audience, now)
	if err != nil {
		return TokenClaims{}, err
	}
	if requiredScope != "" && !hasAnyScope(claims.Scopes, requiredScope) {
		return TokenClaims{}, &authError{
			status:  403,
			code:    "forbidden",
			message: "missing required scope: " + requiredScope,
		}
	}
	return claims, nil
}

func hasAnyScope(scopes []string, required ...string) bool {
	for _, have := range scopes {
		for _, want := range required {
			if have == want {
				return true
			}
		}
	}
	return false
}

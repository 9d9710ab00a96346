package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	dErrors "warden/pkg/domain-errors"
)

// TokenVerifier validates HS256 bearer tokens issued to the verification
// front end.
type TokenVerifier struct {
	key []byte
}

// NewTokenVerifier builds a verifier over the shared signing key.
func NewTokenVerifier(signingKey string) *TokenVerifier {
	return &TokenVerifier{key: []byte(signingKey)}
}

// ValidateToken parses and verifies a token, returning its subject.
func (v *TokenVerifier) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, dErrors.Newf(dErrors.CodeValidation, "unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodePermissionDenied, "invalid token")
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodePermissionDenied, "token has no subject")
	}
	return subject, nil
}

type contextKeyActorID struct{}

// ActorID returns the authenticated subject from the context.
func ActorID(ctx context.Context) string {
	actorID, _ := ctx.Value(contextKeyActorID{}).(string)
	return actorID
}

// RequireAuth rejects requests without a valid bearer token and stores the
// subject in the request context.
func RequireAuth(verifier *TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
			if !ok {
				unauthorized(w)
				return
			}
			subject, err := verifier.ValidateToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "unauthorized access - invalid token", "error", err)
				unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), contextKeyActorID{}, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

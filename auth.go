package scorecard

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/twitchtv/twirp"
)

func extractBearerToken(r *http.Request) string {
	token := r.Header.Get("Authorization")
	return strings.TrimPrefix(token, "Bearer ")
}

// IssueToken signs an HS256 token for the local API.
func IssueToken(secret, issuer, subject string, ttl time.Duration) (string, error) {
	claims := jwt.StandardClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  time.Now().Unix(),
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// handleAuth requires a bearer token signed with secret by issuer. An
// empty secret leaves the API open to the local owner.
func handleAuth(secret, issuer string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if secret == "" {
				next.ServeHTTP(w, r.WithContext(WithOperator(ctx, &Operator{Subject: "owner"})))
				return
			}

			var claim jwt.StandardClaims
			_, err := jwt.ParseWithClaims(extractBearerToken(r), &claim, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}

				return []byte(secret), nil
			})

			if err != nil {
				_ = twirp.WriteError(w, twirp.Unauthenticated.Error(err.Error()))
				return
			}

			if claim.Issuer != issuer || claim.Subject == "" {
				_ = twirp.WriteError(w, twirp.NewError(twirp.Unauthenticated, "auth required"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOperator(ctx, &Operator{Subject: claim.Subject})))
		}

		return http.HandlerFunc(fn)
	}
}

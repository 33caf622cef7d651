package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
)

type contextKey string

const actorKey contextKey = "actor"

// Claims carried by the bearer token. Subject is the profile id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var errNoToken = errors.New("missing bearer token")

// AuthMiddleware resolves the bearer token into a domain.Actor. Requests without a valid token are
// rejected with 401. The token may also be passed as access_token on websocket upgrades.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := actorFromRequest(r, secret)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func actorFromRequest(r *http.Request, secret []byte) (domain.Actor, error) {
	raw := bearerToken(r)
	if raw == "" {
		return domain.Actor{}, errNoToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Actor{}, err
	}
	if claims.Subject == "" {
		return domain.Actor{}, errors.New("token has no subject")
	}

	role := domain.RoleCustomer
	if domain.Role(claims.Role) == domain.RoleAdmin {
		role = domain.RoleAdmin
	}
	return domain.Actor{ProfileID: claims.Subject, Role: role}, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func actorFromContext(ctx context.Context) domain.Actor {
	if actor, ok := ctx.Value(actorKey).(domain.Actor); ok {
		return actor
	}
	return domain.Actor{}
}

// IssueToken signs a token for profileID. Used by tests and local tooling.
func IssueToken(secret []byte, profileID string, role domain.Role, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = profileID
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: string(role), RegisteredClaims: claims})
	return token.SignedString(secret)
}

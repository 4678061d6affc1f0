package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/contacthub/internal/apperror"
	"github.com/JonMunkholm/contacthub/internal/config"
	"github.com/JonMunkholm/contacthub/internal/reqctx"
)

// Headers carrying the caller identity when token auth is disabled and the
// gateway forwards the identity it resolved.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

// Claims is the payload of a gateway-issued token. The subject is the user.
type Claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// Auth returns middleware that resolves the caller identity and stores it
// with reqctx.WithIdentity.
//
// With RequireAuth set, every request must carry an HS256 bearer token signed
// with JWTSecret. Otherwise a token is still honoured when a secret is
// configured, and the X-Tenant-ID and X-User-ID headers are accepted in its
// place. Requests that end up without an identity are rejected with 401.
func Auth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	secret := []byte(cfg.JWTSecret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				id  reqctx.Identity
				err error
			)
			raw, hasToken := bearerToken(r)
			switch {
			case hasToken && len(secret) > 0:
				id, err = parseToken(parser, raw, secret)
			case cfg.RequireAuth:
				err = unauthorized("missing bearer token", nil)
			default:
				id, err = headerIdentity(r)
			}
			if err != nil {
				slog.Warn("auth: rejected request",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				reject(w, http.StatusUnauthorized, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(reqctx.WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func parseToken(parser *jwt.Parser, raw string, secret []byte) (reqctx.Identity, error) {
	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return reqctx.Identity{}, unauthorized("invalid token", err)
	}
	return identity(claims.TenantID, claims.Subject, "token")
}

func headerIdentity(r *http.Request) (reqctx.Identity, error) {
	return identity(r.Header.Get(HeaderTenantID), r.Header.Get(HeaderUserID), "identity headers")
}

func identity(tenant, user, source string) (reqctx.Identity, error) {
	tenantID, err := uuid.Parse(tenant)
	if err != nil || tenantID == uuid.Nil {
		return reqctx.Identity{}, unauthorized(source+": no usable tenant id", nil)
	}
	userID, err := uuid.Parse(user)
	if err != nil || userID == uuid.Nil {
		return reqctx.Identity{}, unauthorized(source+": no usable user id", nil)
	}
	return reqctx.Identity{TenantID: tenantID, UserID: userID}, nil
}

func unauthorized(msg string, err error) error {
	return &apperror.Error{Kind: apperror.KindUnauthorized, Code: "AUTH001", Msg: msg, Err: err}
}

// reject writes the same error body the handlers use.
func reject(w http.ResponseWriter, status int, err error) {
	msg := apperror.MapError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   err.Error(),
		"message": msg.Message,
		"action":  msg.Action,
		"code":    msg.Code,
	})
}

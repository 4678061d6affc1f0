package web

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/JonMunkholm/contacthub/internal/apperror"
	"github.com/JonMunkholm/contacthub/internal/reqctx"
)

// requestMetadata adds IP and User-Agent to the context for audit logging.
// RemoteAddr has already been resolved by TrustedRealIP.
func requestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := reqctx.ContextWithIPAddress(r.Context(), r.RemoteAddr)
		ctx = reqctx.ContextWithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// caller returns the identity stored by the auth middleware.
func caller(r *http.Request) (reqctx.Identity, error) {
	id, ok := reqctx.IdentityFrom(r.Context())
	if !ok {
		return reqctx.Identity{}, &apperror.Error{Kind: apperror.KindUnauthorized, Code: "AUTH001", Msg: "no caller identity"}
	}
	return id, nil
}

// pathUUID parses a UUID route parameter.
func pathUUID(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid %s %q", name, raw)
	}
	return id, nil
}

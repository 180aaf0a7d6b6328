package httpapi

import (
	"net/http"
	"strings"

	"github.com/tascade/tascade/internal/toolcall"
	"github.com/tascade/tascade/internal/types"
)

// localIdentity is injected when auth is disabled.
var localIdentity = &types.Identity{
	KeyID:  "local",
	Name:   "local-admin",
	Scopes: types.RoleScopes{types.RoleAdmin},
}

// authenticate resolves the bearer key to an identity and attaches it to
// the request context. Missing or bad credentials end the request with 401;
// scope and project denials are the handlers' 403.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AuthDisabled {
			ctx := toolcall.ContextWithIdentity(r.Context(), localIdentity)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		raw := bearerToken(r)
		if raw == "" {
			s.writeAuthFailure(w, r, types.NewError(types.ErrAuthDenied, "missing bearer token"))
			return
		}
		id, err := s.coord.Authenticate(r.Context(), raw)
		if err != nil {
			s.writeAuthFailure(w, r, err)
			return
		}
		ctx := toolcall.ContextWithIdentity(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

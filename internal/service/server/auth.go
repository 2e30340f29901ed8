package server

import (
	"context"
	"net/http"
	"strings"

	"dm_chat/internal/service/identity"
)

type ctxKey struct{}

func withIdentity(ctx context.Context, id *identity.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// identityFrom returns the verified caller placed in ctx by authenticate.
func identityFrom(ctx context.Context) (*identity.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*identity.Identity)
	return id, ok && id != nil
}

// bearerToken reads the Authorization header, falling back to the access_token
// query parameter that browsers use for WebSocket upgrades.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

func (s *HttpServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.verifier.Verify(bearerToken(r))
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

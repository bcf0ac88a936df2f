package middleware

import (
	"net/http"

	"github.com/rpattn/agentstats/internal/repository"
	"github.com/rpattn/agentstats/internal/shadowloader"
)

// DataLoaderMiddleware attaches fresh shadow loaders to every request context
func DataLoaderMiddleware(repos repository.Repositories) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shadowloader.WithLoaders(r.Context(), shadowloader.New(repos))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

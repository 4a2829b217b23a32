package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/crmpush/crmpush/internal/api/models"
)

// APIKeyHeader is the header carrying the shared registration secret.
const APIKeyHeader = "api-key"

// APIKey rejects requests whose api-key header does not exactly match secret.
// An empty secret rejects every request.
func APIKey(secret string) func(http.Handler) http.Handler {
	want := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(APIKeyHeader))
			if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
				problem := models.NewUnauthorized(GetRequestID(r.Context()), "missing or invalid api key")
				problem.Instance = r.URL.Path
				problem.Write(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

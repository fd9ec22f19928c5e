package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/fwb-labs/langlab_service/internal/service"
	"github.com/fwb-labs/langlab_service/pkg/response"
)

type contextKey string

const AccountKey contextKey = "account_name"

// TeacherAuth returns a middleware that validates classroom tokens from the
// Authorization header. Student session endpoints stay public; only the
// teacher-facing surface is guarded.
func TeacherAuth(authService *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				response.Unauthorized(w, "invalid authorization format")
				return
			}

			account, err := authService.ValidateToken(parts[1])
			if err != nil {
				response.Unauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), AccountKey, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAccount extracts the authenticated account name from the request
// context.
func GetAccount(ctx context.Context) string {
	if name, ok := ctx.Value(AccountKey).(string); ok {
		return name
	}
	return ""
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/partscan-backend/pkg/logger"
)

const (
	operatorHeader = "X-Operator"
	maxOperatorLen = 128
)

// Operator copies the X-Operator header into the request context and log fields.
// Missing headers are allowed; handlers that need an operator decide for themselves.
func Operator(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operator := strings.TrimSpace(r.Header.Get(operatorHeader))
			if len(operator) > maxOperatorLen {
				operator = operator[:maxOperatorLen]
			}
			if operator == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithOperator(r.Context(), operator)
			if logg != nil {
				ctx = logg.WithOperator(ctx, operator)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

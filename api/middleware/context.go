package middleware

import "context"

type contextKey string

const ctxOperator contextKey = "operator"

// OperatorFromContext returns the operator captured from the X-Operator header.
func OperatorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxOperator).(string); ok {
		return v
	}
	return ""
}

// WithOperator injects the operator identity into the context.
func WithOperator(ctx context.Context, operator string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxOperator, operator)
}

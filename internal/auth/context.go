// ABOUTME: Authenticated operator identity carried through request handlers
// ABOUTME: Provides WithOperator/OperatorFromContext for propagating auth info via context

package auth

import "context"

type operatorKey struct{}

// WithOperator returns a context carrying the authenticated operator ID.
func WithOperator(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, operatorKey{}, operatorID)
}

// OperatorFromContext returns the operator ID, or "" for anonymous requests.
func OperatorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(operatorKey{}).(string)
	return id
}

package scorecard

import (
	"context"
)

type contextKey struct{}

var operatorContextKey = contextKey{}

// Operator is the authenticated caller of the local API.
type Operator struct {
	Subject string
}

func WithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, operatorContextKey, op)
}

func OperatorFrom(ctx context.Context) (*Operator, bool) {
	op, ok := ctx.Value(operatorContextKey).(*Operator)
	return op, ok
}

// Package context carries correlation identifiers for logs and traces.
package context

import "context"

type key int

const (
	requestIDKey key = iota
	subscriptionIDKey
	invoiceIDKey
	actorKey
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

func WithSubscriptionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, subscriptionIDKey, id)
}

func SubscriptionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(subscriptionIDKey).(string)
	return v
}

func WithInvoiceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invoiceIDKey, id)
}

func InvoiceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(invoiceIDKey).(string)
	return v
}

// WithActor records who triggered the work, e.g. "scheduler" or "api".
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) string {
	v, _ := ctx.Value(actorKey).(string)
	return v
}

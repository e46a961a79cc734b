package client

import "context"

type ctxKey string

const ctxRequestID ctxKey = "x-request-id"

// WithRequestID кладёт id входящего запроса портала в контекст,
// чтобы исходящий вызов к бэкенду нёс тот же X-Request-Id.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}

	return context.WithValue(ctx, ctxRequestID, id)
}

// RequestIDFrom возвращает id из контекста или "".
func RequestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxRequestID).(string)
	return v
}

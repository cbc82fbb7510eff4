package context

import (
	"context"

	"github.com/google/uuid"
)

type ContextKey string

var (
	OperationIDKey = ContextKey("X-Operation-Id")
	LocaleKey      = ContextKey("X-Locale")
	UserIDKey      = ContextKey("X-User-Id")
)

// EnsureOperationID returns ctx carrying an operation id, generating one when absent.
func EnsureOperationID(ctx context.Context) (context.Context, string) {
	if id := GetOperationID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return SetOperationID(ctx, id), id
}

func SetOperationID(ctx context.Context, operationID string) context.Context {
	return context.WithValue(ctx, OperationIDKey, operationID)
}

func GetOperationID(ctx context.Context) string {
	value, ok := ctx.Value(OperationIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, LocaleKey, locale)
}

func GetLocale(ctx context.Context) string {
	value, ok := ctx.Value(LocaleKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	value, ok := ctx.Value(UserIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

package logx

import (
	"context"

	"pkt.systems/afkcraft/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	userKey contextKey = iota
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithUser annotates the logger with the user key if present.
func WithUser(ctx context.Context, user schema.UserKey) pslog.Logger {
	log := pslog.Ctx(ctx)
	if user != "" {
		if current, ok := ctx.Value(userKey).(schema.UserKey); ok && current == user {
			return log
		}
		log = log.With("user", user)
	}
	return log
}

// WithContainer annotates the logger with a container name and id when available.
func WithContainer(log pslog.Logger, name, id string) pslog.Logger {
	if name != "" {
		log = log.With("container", name)
	}
	if id != "" {
		log = log.With("container_id", id)
	}
	return log
}

// ContextWithUser stores the user marker on the context for log de-duplication.
func ContextWithUser(ctx context.Context, user schema.UserKey) context.Context {
	if ctx == nil || user == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey, user)
}

// ContextWithUserLogger attaches the logger and user marker to the context.
func ContextWithUserLogger(ctx context.Context, log pslog.Logger, user schema.UserKey) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithUser(ctx, user)
}

// CopyContextFields copies the user marker and logger from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	dst = pslog.ContextWithLogger(dst, pslog.Ctx(src))
	if user, ok := src.Value(userKey).(schema.UserKey); ok && user != "" {
		dst = ContextWithUser(dst, user)
	}
	return dst
}

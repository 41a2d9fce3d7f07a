package events

import (
	"context"
)

type contextKey int

const (
	loggerKey contextKey = iota
	requestIDKey
	clientIDKey
	sessionIDKey
)

// FromContext extracts the logger from ctx, or a discard logger when
// none was attached. Callers always get a usable logger back.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Discard()
}

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithRequestID adds a request ID to the context and the logger.
func WithRequestID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("request_id", id)
	ctx = context.WithValue(ctx, requestIDKey, id)
	return WithLogger(ctx, logger)
}

// WithClientID scopes the context logger to a client workspace.
func WithClientID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("client_id", id)
	ctx = context.WithValue(ctx, clientIDKey, id)
	return WithLogger(ctx, logger)
}

// WithSessionID scopes the context logger to a session.
func WithSessionID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("session_id", id)
	ctx = context.WithValue(ctx, sessionIDKey, id)
	return WithLogger(ctx, logger)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetClientID retrieves the client ID from the context.
func GetClientID(ctx context.Context) string {
	if id, ok := ctx.Value(clientIDKey).(string); ok {
		return id
	}
	return ""
}

// GetSessionID retrieves the session ID from the context.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok {
		return id
	}
	return ""
}

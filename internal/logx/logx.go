package logx

import (
	"context"

	"pkt.systems/expertsurvey/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	reviewerKey contextKey = iota
	rowKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithReviewer annotates the logger with the reviewer email if present.
func WithReviewer(ctx context.Context, email schema.Email) pslog.Logger {
	log := pslog.Ctx(ctx)
	if email != "" {
		if current, ok := ctx.Value(reviewerKey).(schema.Email); ok && current == email {
			return log
		}
		log = log.With("reviewer", string(email))
	}
	return log
}

// WithReviewerRow annotates the logger with reviewer and row.
func WithReviewerRow(ctx context.Context, email schema.Email, row schema.Row) pslog.Logger {
	log := WithReviewer(ctx, email)
	if row.Valid() {
		if current, ok := ctx.Value(rowKey).(schema.Row); ok && current == row {
			return log
		}
		log = log.With("row", int(row))
	}
	return log
}

// WithSession annotates the logger with a session id when available.
func WithSession(log pslog.Logger, sessionID string) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// WithRequest annotates the logger with a request id when available.
func WithRequest(log pslog.Logger, requestID string) pslog.Logger {
	if requestID != "" {
		log = log.With("request_id", requestID)
	}
	return log
}

// ContextWithReviewer stores the reviewer marker on the context for log de-duplication.
func ContextWithReviewer(ctx context.Context, email schema.Email) context.Context {
	if ctx == nil || email == "" {
		return ctx
	}
	return context.WithValue(ctx, reviewerKey, email)
}

// ContextWithRow stores the row marker on the context for log de-duplication.
func ContextWithRow(ctx context.Context, row schema.Row) context.Context {
	if ctx == nil || !row.Valid() {
		return ctx
	}
	return context.WithValue(ctx, rowKey, row)
}

// ContextWithReviewerLogger stores a reviewer-annotated logger and the reviewer marker on the context.
func ContextWithReviewerLogger(ctx context.Context, log pslog.Logger, email schema.Email) context.Context {
	if ctx == nil {
		return ctx
	}
	if log != nil {
		ctx = pslog.ContextWithLogger(ctx, log)
	}
	return ContextWithReviewer(ctx, email)
}

// Package service provides business logic for the messaging platform.
package service

import (
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/capitalize-ai/messaging-platform/internal/apperr"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

var tracer = otel.Tracer("chat/service")

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// clampPageSize applies the default and upper bound to a requested page size.
func clampPageSize(n int) int {
	switch {
	case n <= 0:
		return defaultPageSize
	case n > maxPageSize:
		return maxPageSize
	default:
		return n
	}
}

// storeErr classifies a store error. A missing row becomes NotFound with
// msg, anything else a Dependency failure.
func storeErr(op string, err error, msg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(op, msg)
	}
	return apperr.Dependency(op, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func utcNow() time.Time {
	return time.Now().UTC()
}

package llm

import (
	"context"
	"time"

	"github.com/alanmaizon/taskplan/internal/metrics"
	"github.com/alanmaizon/taskplan/internal/middleware"
	"github.com/rs/zerolog/log"
)

func observeProviderOperation(ctx context.Context, provider string, operation string, call func() (string, error)) (string, error) {
	started := time.Now()
	requestID := middleware.GetRequestIDFromContext(ctx)

	log.Debug().
		Str("request_id", requestID).
		Str("component", "provider").
		Str("provider", provider).
		Str("operation", operation).
		Msg("start")

	result, err := call()

	status := "success"
	if err != nil {
		status = "error"
	}
	errorCategory := ErrorCategory(err)

	duration := time.Since(started)
	metrics.RecordProviderCall(provider, operation, status, errorCategory, duration)

	event := log.Info()
	if err != nil {
		event = log.Warn()
	}
	event.
		Str("request_id", requestID).
		Str("component", "provider").
		Str("provider", provider).
		Str("operation", operation).
		Str("status", status).
		Str("error_category", errorCategory).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("provider call finished")

	return result, err
}

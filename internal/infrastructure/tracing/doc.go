/*
Package tracing provides request tracing for debugging production issues.

# Overview

Every HTTP request gets a span. The trace ID is taken from the incoming
X-Trace-ID header when it is a valid ID, or generated otherwise, and both IDs
are echoed in the response headers. Completed spans are logged through zap by
a background collector.

# Usage

	tracer := tracing.New("filegate", logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))

	// Correlate log lines with the current request
	logger.Warn("upload rejected", tracing.Fields(ctx)...)

# Trace Format

- X-Trace-ID: identifier for the entire request flow
- X-Span-ID: identifier for the current operation
*/
package tracing

// Package observability provides monitoring and debugging capabilities for
// the Forge assistant through metrics, structured logging, and distributed
// tracing.
//
// # Overview
//
// The observability package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Request tracing with OpenTelemetry
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Routing decisions by type and fast-path method
//   - LLM request latency, token usage, and estimated cost
//   - Tool execution performance
//   - Safety pipeline activity (file operations, backups, rollbacks)
//   - Provider failovers
//   - Error rates by component and type
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
//	start = time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("read_file", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic turn/session/operation ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for machine consumption, text for development
//   - Configurable log levels
//
// Logs default to stderr so they never interleave with streamed assistant
// output on stdout.
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	ctx := observability.WithTurnID(ctx, turnID)
//	ctx = observability.WithSessionID(ctx, sessionID)
//
//	logger.Info(ctx, "routing input",
//	    "decision", decision.Type,
//	    "input_length", len(input),
//	)
//
//	// Error logging with automatic redaction
//	logger.Error(ctx, "llm request failed",
//	    "error", err,
//	    "provider", "anthropic",
//	    "api_key", apiKey, // Automatically redacted
//	)
//
// # Tracing
//
// Tracing uses OpenTelemetry with an OTLP gRPC exporter. When no collector
// endpoint is configured, spans are created against a no-op provider so
// instrumented code needs no conditionals.
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "forge",
//	    ServiceVersion: version,
//	    Endpoint:       os.Getenv("OTEL_ENDPOINT"),
//	    SamplingRate:   0.1,
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceLLMRequest(ctx, "anthropic", "claude-sonnet-4")
//	defer span.End()
//	if err != nil {
//	    tracer.RecordError(span, err)
//	}
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, AWS, generic)
//   - Passwords and secrets
//   - JWT and bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted by key name: password, secret,
// token, api_key, auth, authorization, private_key, and variants.
//
// # Testing
//
// All components provide testable surfaces:
//   - Metrics can be verified using prometheus/testutil
//   - Logging can write to bytes.Buffer for assertions
//   - Tracing works with no-op providers in tests
package observability

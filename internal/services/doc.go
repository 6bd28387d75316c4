// Package services defines shared utilities consumed by the flow stages and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp batch numbers, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures as
//     retryable, permanent, or fatal without inspecting message text.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services

// Package integrity scores survey responses for signs of automated or
// low-effort completion.
//
// A MetricsBundle of behavioral telemetry passes through four stages:
// sanitization, per-channel feature extraction, threshold rules that emit
// weighted flags, and a noisy-OR aggregation of those flags into a score in
// [0,1]. The package performs no I/O and keeps no state between calls.
package integrity

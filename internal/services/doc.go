// Package services defines shared utilities consumed by the fulfilment
// pipeline and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp order IDs, component names, claimed devices,
//     and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified (deferral, format failure, verification failure) with
//     errors.Is instead of string matching.
//   - ErrorCode/Retryable, which translate a failure into the code reported
//     back to the order backend.
package services

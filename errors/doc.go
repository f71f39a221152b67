// Package errors provides standardized error handling for the mapgate
// gateway.
//
// Errors are classified as transient, invalid, or fatal. Transient errors
// (downstream platform failures, lost connections) may be retried by the
// message-processing caller; invalid errors (malformed topic patterns,
// validation failures) are local to the triggering call; fatal errors stop
// processing.
//
// Validation failures are carried as a ValidationErrors list so API callers
// can present discrete violations instead of one opaque message.
package errors

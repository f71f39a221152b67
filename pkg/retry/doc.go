// Package retry provides exponential backoff for transient failures.
//
// The connectors lean on it to re-establish broker sessions after a dropped
// connection, and the orchestrator wraps the bootstrap-time service
// configuration load with it so a tenant subscription survives a platform
// hiccup.
//
// Presets:
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (ordinary downstream calls)
//   - Quick(): 10 attempts, 50ms-1s delay (bootstrap configuration load)
//   - Persistent(): 30 attempts, 200ms-10s delay (broker reconnects)
//
// Basic usage:
//
//	err := retry.Do(ctx, retry.Persistent(), func() error {
//	    return client.Connect()
//	})
//
// Errors wrapped with NonRetryable fail immediately, used for
// misconfiguration that no amount of retrying fixes.
package retry

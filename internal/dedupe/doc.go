// ABOUTME: Package doc for the dedup cache
// ABOUTME: Idempotency support for retried REST sends

// Package dedupe provides a TTL-bounded cache from client-supplied dedup
// keys to persisted message records. The REST send handler consults it so
// a client retrying a timed-out request gets the original record back
// instead of creating a duplicate.
package dedupe

// ABOUTME: Package doc for the worker directory
// ABOUTME: Catalog, geographic search, login roster

// Package directory serves the worker-facing lookups: the static service
// catalog, haversine nearby search by category, and the roster of workers
// seen online.
package directory

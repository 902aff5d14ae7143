// ABOUTME: Package doc for the assembled HTTP server
// ABOUTME: Wiring, route table, lifecycle

// Package server assembles the Skilloc backend: it opens the record store,
// builds the account service, conversation log, presence tracker, and
// message router, and exposes them over one HTTP listener as the REST API
// plus the /ws websocket endpoint. Run blocks until the context is
// canceled, then shuts the listener down gracefully and releases storage.
package server

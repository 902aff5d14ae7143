// ABOUTME: Package doc for the Go client session
// ABOUTME: Live chat with local cache and transparent reconnect

// Package client is the Go client for the Skilloc chat server. A Session
// holds one authenticated websocket connection, keeps a local cache of
// conversations merged from live pushes, send confirmations, and REST
// history fetches, and reconnects with backoff when the transport drops.
// Every reconnect re-authenticates; a rejected credential signs the
// session out instead of retrying.
package client

// Package auth provides identity verification for the Skilloc server.
//
// # Credentials
//
// Every caller authenticates with a bearer JWT signed HS256 with the shared
// secret from config. Tokens carry two claims of interest:
//
//   - sub: the user id
//   - role: "client" or "worker"
//
// Verification is stateless: a pure function of the credential and the
// secret. All failure modes (malformed token, bad signature, expiry, missing
// claims) collapse to ErrUnauthorized so callers cannot probe which check
// failed.
//
// # Usage
//
// The HTTP middleware guards REST endpoints:
//
//	mux.Handle("/api/me", auth.Middleware(verifier)(handler))
//
// The websocket connection manager calls Verify directly during the
// authenticate handshake. Both paths produce the same Identity and propagate
// it with WithIdentity/FromContext.
package auth

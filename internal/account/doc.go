// ABOUTME: Package doc for the account service
// ABOUTME: Registration, login, lockout, profiles, role resolution

// Package account manages client and worker accounts on top of the record
// store: registration with bcrypt-hashed passwords, login with a lockout
// policy for clients, the worker directory refresh on worker login, and
// role resolution for the message router.
package account

// Package presence tracks which users currently have live connections.
//
// The tracker is a process-lifetime map from user id to a set of connection
// handles; it is reset on restart and never persisted. Only the connection
// manager mutates it (register on successful authentication, deregister on
// teardown); the message router only reads snapshots for fan-out.
package presence

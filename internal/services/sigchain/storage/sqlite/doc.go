// Package sqlite provides the SQLite-backed sigchain store.
//
// The same schema serves the server, which is the append point for every
// team, and each client replica, which additionally keeps its unwrapped
// log keys, queued logs and decrypted audit logs.
package sqlite

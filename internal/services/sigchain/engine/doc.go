// Package engine verifies signed envelopes and applies them to the main and
// log chains.
//
// Every write runs inside one storage transaction: the parent check, the
// authorization decision, the block insert and the projection mutations
// commit together or not at all. The same engine runs on the server and on
// every client replica, so an accepted block produces the same projection
// everywhere.
package engine

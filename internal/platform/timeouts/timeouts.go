// Package timeouts defines shared timeout constants used by the sigchain
// server and its clients.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing the sigchain server.
const GRPCDial = 2 * time.Second

// GRPCRequest caps the time allowed for a single submit or read call.
const GRPCRequest = 5 * time.Second

// Shutdown limits how long the server waits for in-flight RPCs during
// graceful shutdown before forcing a stop.
const Shutdown = 5 * time.Second

// Package rpcserver provides the inbound JSON-RPC server adapter: HTTP and
// WebSocket transports behind a shared security middleware chain.
package rpcserver

import "math"

const megabyte = 1024 * 1024

// Built-in resource ceiling defaults, applied where the configured value is
// zero.
const (
	// DefaultMaxPayloadInMB is the default inbound payload ceiling.
	DefaultMaxPayloadInMB uint64 = 15
	// DefaultMaxPayloadOutMB is the default outbound payload ceiling.
	DefaultMaxPayloadOutMB uint64 = 15
	// DefaultMaxConnections is the default concurrent connection ceiling.
	DefaultMaxConnections uint64 = 100
	// DefaultMaxSubscriptionsPerConn is the default per-connection
	// subscription ceiling.
	DefaultMaxSubscriptionsPerConn uint64 = 1024
)

// Config carries the resource ceilings for the server. Zero values mean "use
// the built-in default".
type Config struct {
	// MaxConnections is the maximum number of concurrent WebSocket
	// connections.
	MaxConnections uint64
	// MaxSubscriptionsPerConn is the per-connection subscription ceiling.
	MaxSubscriptionsPerConn uint64
	// MaxPayloadInMB is the maximum inbound payload size in megabytes.
	MaxPayloadInMB uint64
	// MaxPayloadOutMB is the maximum outbound payload size in megabytes.
	MaxPayloadOutMB uint64
}

// limits is the resolved form of Config: defaults applied and values clamped
// into 32-bit range, with payloads converted to bytes.
type limits struct {
	maxConnections   uint32
	maxSubsPerConn   uint32
	maxRequestBytes  uint32
	maxResponseBytes uint32
}

// resolve applies defaults to zero fields and saturates out-of-range values
// at the 32-bit ceiling.
func (c Config) resolve() limits {
	conns := orDefault(c.MaxConnections, DefaultMaxConnections)
	subs := orDefault(c.MaxSubscriptionsPerConn, DefaultMaxSubscriptionsPerConn)
	inMB := orDefault(c.MaxPayloadInMB, DefaultMaxPayloadInMB)
	outMB := orDefault(c.MaxPayloadOutMB, DefaultMaxPayloadOutMB)

	return limits{
		maxConnections:   saturatingU32(conns),
		maxSubsPerConn:   saturatingU32(subs),
		maxRequestBytes:  payloadBytes(inMB),
		maxResponseBytes: payloadBytes(outMB),
	}
}

// payloadBytes converts a megabyte count to bytes, saturating at the 32-bit
// ceiling. The multiplication itself must not wrap, so the check happens on
// the megabyte count first.
func payloadBytes(mb uint64) uint32 {
	if mb > math.MaxUint32/megabyte {
		return math.MaxUint32
	}
	return saturatingU32(mb * megabyte)
}

func orDefault(v, def uint64) uint64 {
	if v == 0 {
		return def
	}
	return v
}

// saturatingU32 clamps v to math.MaxUint32 instead of truncating.
func saturatingU32(v uint64) uint32 {
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

package rpcserver

import (
	"math"
	"testing"
)

func TestResolveDefaults(t *testing.T) {
	got := Config{}.resolve()

	if got.maxConnections != 100 {
		t.Fatalf("expected 100 connections, got %d", got.maxConnections)
	}
	if got.maxSubsPerConn != 1024 {
		t.Fatalf("expected 1024 subscriptions per connection, got %d", got.maxSubsPerConn)
	}
	if got.maxRequestBytes != 15*megabyte {
		t.Fatalf("expected %d request bytes, got %d", 15*megabyte, got.maxRequestBytes)
	}
	if got.maxResponseBytes != 15*megabyte {
		t.Fatalf("expected %d response bytes, got %d", 15*megabyte, got.maxResponseBytes)
	}
}

func TestResolveExplicitValues(t *testing.T) {
	got := Config{
		MaxConnections:          7,
		MaxSubscriptionsPerConn: 3,
		MaxPayloadInMB:          1,
		MaxPayloadOutMB:         2,
	}.resolve()

	if got.maxConnections != 7 || got.maxSubsPerConn != 3 {
		t.Fatalf("unexpected ceilings: %+v", got)
	}
	if got.maxRequestBytes != megabyte {
		t.Fatalf("expected %d request bytes, got %d", megabyte, got.maxRequestBytes)
	}
	if got.maxResponseBytes != 2*megabyte {
		t.Fatalf("expected %d response bytes, got %d", 2*megabyte, got.maxResponseBytes)
	}
}

func TestResolveSaturatesAt32Bits(t *testing.T) {
	got := Config{
		MaxConnections: math.MaxUint64,
		MaxPayloadInMB: math.MaxUint64 / 2,
	}.resolve()

	if got.maxConnections != math.MaxUint32 {
		t.Fatalf("expected saturated connection ceiling, got %d", got.maxConnections)
	}
	if got.maxRequestBytes != math.MaxUint32 {
		t.Fatalf("expected saturated request ceiling, got %d", got.maxRequestBytes)
	}
}

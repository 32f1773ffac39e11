package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rpcgate/rpcgate/internal/domain/rpc"
)

// wsSink delivers subscription notifications over one WebSocket connection.
// It implements rpc.Sink.
type wsSink struct {
	sess        *wsSession
	id          string
	notifMethod string
	ctx         context.Context
}

// ID implements rpc.Sink.
func (s *wsSink) ID() string { return s.id }

// Context implements rpc.Sink.
func (s *wsSink) Context() context.Context { return s.ctx }

// Notify implements rpc.Sink. Items exceeding the outbound payload ceiling
// are rejected rather than sent; the subscription itself stays alive.
func (s *wsSink) Notify(result any) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	notif := rpc.NewNotification(s.notifMethod, s.id, result)
	buf, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if uint64(len(buf)) > uint64(s.sess.disp.maxResponseBytes) {
		return fmt.Errorf("notification exceeds limit of %d bytes", s.sess.disp.maxResponseBytes)
	}
	return s.sess.writeRaw(buf)
}

var _ rpc.Sink = (*wsSink)(nil)

package rpcserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rpcgate/rpcgate/internal/domain/rpc"
)

const (
	// keepAliveInterval is the server ping cadence on WebSocket connections.
	keepAliveInterval = 30 * time.Second

	// pongWait is how long a connection may stay silent before the read
	// loop gives up on it. Pongs and data messages both reset it.
	pongWait = 2 * keepAliveInterval

	// writeTimeout bounds a single WebSocket write.
	writeTimeout = 10 * time.Second
)

// wsSession is one accepted WebSocket connection: a read loop dispatching
// calls, a keep-alive ping loop, and the connection's subscription table.
type wsSession struct {
	conn       *websocket.Conn
	disp       *dispatcher
	idProvider rpc.IDProvider
	exec       Executor
	observer   Observer
	logger     *slog.Logger
	maxSubs    uint32

	// writeMu serializes data frame writes. Control frames (pings) go
	// through WriteControl, which gorilla allows concurrently.
	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

type subscription struct {
	id     string
	method string
	cancel context.CancelFunc
}

func newWSSession(ctx context.Context, conn *websocket.Conn, disp *dispatcher, idp rpc.IDProvider, exec Executor, obs Observer, maxSubs uint32, logger *slog.Logger) *wsSession {
	sessCtx, cancel := context.WithCancel(ctx)
	return &wsSession{
		conn:       conn,
		disp:       disp,
		idProvider: idp,
		exec:       exec,
		observer:   obs,
		logger:     logger,
		maxSubs:    maxSubs,
		subs:       make(map[string]*subscription),
		ctx:        sessCtx,
		cancel:     cancel,
	}
}

// run serves the connection until the client goes away or the session
// context is cancelled. It blocks; the caller decides the goroutine.
func (s *wsSession) run(maxRequestBytes uint32) {
	s.observer.ConnectionOpened()
	defer s.observer.ConnectionClosed()
	defer s.close()

	s.conn.SetReadLimit(int64(maxRequestBytes))
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.exec.Spawn(s.pingLoop)

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if resp := s.disp.handleMessage(s.ctx, raw, transportWS, s); resp != nil {
			if err := s.writeRaw(resp); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

// pingLoop sends keep-alive pings until the session ends. Clients that stop
// answering are detected by the read deadline, not here.
func (s *wsSession) pingLoop() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *wsSession) writeRaw(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// close tears the session down: all subscriptions are cancelled, then the
// underlying connection is closed. Safe to call more than once.
func (s *wsSession) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	s.cancel()
	for _, sub := range subs {
		sub.cancel()
		s.observer.SubscriptionClosed(sub.method)
	}
	_ = s.conn.Close()
}

// startSubscription implements subscriber.
func (s *wsSession) startSubscription(ctx context.Context, m rpc.Method, params json.RawMessage) (string, *rpc.Error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", rpc.NewError(rpc.CodeInternalError, "connection closing")
	}
	if uint64(len(s.subs)) >= uint64(s.maxSubs) {
		s.mu.Unlock()
		return "", rpc.Errorf(rpc.CodeTooManySubscriptions,
			"too many subscriptions: limit is %d per connection", s.maxSubs)
	}

	id := s.idProvider.NextID()
	subCtx, cancel := context.WithCancel(s.ctx)
	s.subs[id] = &subscription{id: id, method: m.Name, cancel: cancel}
	s.mu.Unlock()

	sink := &wsSink{sess: s, id: id, notifMethod: m.NotifMethod, ctx: subCtx}
	if err := m.Subscribe(ctx, params, sink); err != nil {
		s.removeSubscription(id)
		if rpcErr, ok := err.(*rpc.Error); ok {
			return "", rpcErr
		}
		return "", rpc.Errorf(rpc.CodeInternalError, "subscription failed: %v", err)
	}

	s.observer.SubscriptionOpened(m.Name)
	return id, nil
}

// cancelSubscription implements subscriber.
func (s *wsSession) cancelSubscription(id string) bool {
	sub, ok := s.removeSubscription(id)
	if ok {
		s.observer.SubscriptionClosed(sub.method)
	}
	return ok
}

func (s *wsSession) removeSubscription(id string) (*subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, false
	}
	delete(s.subs, id)
	sub.cancel()
	return sub, true
}

// subscriptionCount reports the number of live subscriptions.
func (s *wsSession) subscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

var _ subscriber = (*wsSession)(nil)

// upgrader performs the WebSocket handshake. Origin checking already
// happened in the middleware chain, so the handshake accepts any origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

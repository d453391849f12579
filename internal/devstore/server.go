package devstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"collab-table/internal/collab/store"
)

// sendBufferSize bounds each client's outbound queue. A client that cannot
// drain its socket loses events instead of stalling the writers that
// produced them.
const sendBufferSize = 256

// Server exposes a store.MemoryStore over the store wire protocol so
// clients can exercise the full websocket path without the hosted realtime
// store. Every connected client shares the same tree; clients connect with
// store.Dial.
type Server struct {
	mem *store.MemoryStore
	log *zap.Logger
}

// NewServer creates a Server backed by mem.
func NewServer(mem *store.MemoryStore, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{mem: mem, log: log}
}

// RegisterRoutes mounts the websocket endpoint at /ws/v1/listen.
func (s *Server) RegisterRoutes(router fiber.Router) {
	wsGroup := router.Group("/ws")

	wsGroup.Use("/v1/listen", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	wsGroup.Get("/v1/listen", websocket.New(s.handleConnection))
}

// clientConn is the per-connection state: the outbound queue, the live
// subscriptions, and the paths armed for removal when the connection drops.
type clientConn struct {
	id   string
	send chan store.WireMessage
	done chan struct{}

	mu      sync.Mutex
	subSeq  int64
	cancels map[int64]func()
	cleanup map[string]struct{}
}

// push enqueues one message for the client without blocking.
func (c *clientConn) push(log *zap.Logger, msg store.WireMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		log.Warn("Dropping message for slow client",
			zap.String("clientID", c.id),
			zap.String("messageType", msg.Type))
	}
}

func (c *clientConn) nextSubscription() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subSeq++
	return c.subSeq
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	c := &clientConn{
		id:      uuid.NewString(),
		send:    make(chan store.WireMessage, sendBufferSize),
		done:    make(chan struct{}),
		cancels: make(map[int64]func()),
		cleanup: make(map[string]struct{}),
	}
	s.log.Info("Store client connected", zap.String("clientID", c.id))

	go s.writeLoop(conn, c)

	for {
		var req store.WireRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				s.log.Warn("Store client read error",
					zap.String("clientID", c.id),
					zap.Error(err))
			}
			break
		}
		s.dispatch(c, req)
	}

	s.teardown(c)
}

func (s *Server) writeLoop(conn *websocket.Conn, c *clientConn) {
	for {
		select {
		case msg := <-c.send:
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Warn("Store client write failed",
					zap.String("clientID", c.id),
					zap.Error(err))
				// Closing the socket unblocks the read loop, which
				// then runs the teardown.
				_ = conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// teardown cancels the client's subscriptions and fires its armed disconnect
// removals, the way the hosted store does when a connection drops.
func (s *Server) teardown(c *clientConn) {
	close(c.done)

	c.mu.Lock()
	cancels := c.cancels
	c.cancels = make(map[int64]func())
	pending := make([]string, 0, len(c.cleanup))
	for path := range c.cleanup {
		pending = append(pending, path)
	}
	c.cleanup = make(map[string]struct{})
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, path := range pending {
		if err := s.mem.Remove(context.Background(), path); err != nil {
			s.log.Error("Disconnect cleanup failed",
				zap.String("clientID", c.id),
				zap.String("path", path),
				zap.Error(err))
		}
	}

	s.log.Info("Store client disconnected",
		zap.String("clientID", c.id),
		zap.Int("cleanupPaths", len(pending)))
}

func (s *Server) dispatch(c *clientConn, req store.WireRequest) {
	ctx := context.Background()

	switch req.Action {
	case store.WireActionGet:
		value, err := s.mem.Get(ctx, req.Path)
		s.respondValue(c, req.RequestID, value, err)
	case store.WireActionSet:
		s.respond(c, req.RequestID, s.mem.Set(ctx, req.Path, rawValue(req.Value)))
	case store.WireActionUpdate:
		children := make(map[string]interface{}, len(req.Children))
		for key, value := range req.Children {
			children[key] = rawValue(value)
		}
		s.respond(c, req.RequestID, s.mem.Update(ctx, req.Path, children))
	case store.WireActionRemove:
		s.respond(c, req.RequestID, s.mem.Remove(ctx, req.Path))
	case store.WireActionSubscribeValue:
		s.subscribeValue(ctx, c, req)
	case store.WireActionSubscribeChildren:
		s.subscribeChildren(ctx, c, req)
	case store.WireActionUnsubscribe:
		s.unsubscribe(c, req)
	case store.WireActionOnDisconnectRemove:
		c.mu.Lock()
		c.cleanup[req.Path] = struct{}{}
		c.mu.Unlock()
		s.respond(c, req.RequestID, nil)
	case store.WireActionCancelDisconnect:
		c.mu.Lock()
		delete(c.cleanup, req.Path)
		c.mu.Unlock()
		s.respond(c, req.RequestID, nil)
	default:
		s.log.Warn("Unknown action from store client",
			zap.String("clientID", c.id),
			zap.String("action", req.Action))
		c.push(s.log, store.WireMessage{
			Type:      store.WireTypeResponse,
			RequestID: req.RequestID,
			Error:     "unknown action " + req.Action,
		})
	}
}

// subscribeValue acknowledges before subscribing so the synchronous initial
// snapshot queues behind the response carrying the subscription id.
func (s *Server) subscribeValue(ctx context.Context, c *clientConn, req store.WireRequest) {
	subscriptionID := c.nextSubscription()
	c.push(s.log, store.WireMessage{
		Type:           store.WireTypeResponse,
		RequestID:      req.RequestID,
		OK:             true,
		SubscriptionID: subscriptionID,
	})

	cancel, err := s.mem.SubscribeValue(ctx, req.Path, func(value json.RawMessage) {
		c.push(s.log, store.WireMessage{
			Type:           store.WireTypeValueEvent,
			SubscriptionID: subscriptionID,
			Value:          value,
		})
	})
	if err != nil {
		s.log.Error("Value subscription failed",
			zap.String("clientID", c.id),
			zap.String("path", req.Path),
			zap.Error(err))
		return
	}

	c.mu.Lock()
	c.cancels[subscriptionID] = cancel
	c.mu.Unlock()
}

func (s *Server) subscribeChildren(ctx context.Context, c *clientConn, req store.WireRequest) {
	subscriptionID := c.nextSubscription()
	c.push(s.log, store.WireMessage{
		Type:           store.WireTypeResponse,
		RequestID:      req.RequestID,
		OK:             true,
		SubscriptionID: subscriptionID,
	})

	cancel, err := s.mem.SubscribeChildren(ctx, req.Path, func(event store.ChildEvent) {
		c.push(s.log, store.WireMessage{
			Type:           store.WireTypeChildEvent,
			SubscriptionID: subscriptionID,
			Kind:           event.Kind,
			Key:            event.Key,
			Value:          event.Value,
		})
	})
	if err != nil {
		s.log.Error("Child subscription failed",
			zap.String("clientID", c.id),
			zap.String("path", req.Path),
			zap.Error(err))
		return
	}

	c.mu.Lock()
	c.cancels[subscriptionID] = cancel
	c.mu.Unlock()
}

func (s *Server) unsubscribe(c *clientConn, req store.WireRequest) {
	c.mu.Lock()
	cancel := c.cancels[req.SubscriptionID]
	delete(c.cancels, req.SubscriptionID)
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.respond(c, req.RequestID, nil)
}

func (s *Server) respond(c *clientConn, requestID int64, err error) {
	msg := store.WireMessage{Type: store.WireTypeResponse, RequestID: requestID, OK: err == nil}
	if err != nil {
		msg.Error = err.Error()
	}
	c.push(s.log, msg)
}

func (s *Server) respondValue(c *clientConn, requestID int64, value json.RawMessage, err error) {
	msg := store.WireMessage{Type: store.WireTypeResponse, RequestID: requestID, OK: err == nil, Value: value}
	if err != nil {
		msg.Error = err.Error()
	}
	c.push(s.log, msg)
}

// rawValue maps an absent wire value to nil so set requests without a value
// behave as removals.
func rawValue(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fasthttp/websocket"

	"collab-table/internal/collab/config"
	"collab-table/internal/shared/errors"
	"collab-table/internal/shared/logger"
)

// RemoteStore is a RealtimeStore backed by a websocket connection to the
// store server. All frames are written through a single send channel; the
// read loop settles pending requests and dispatches subscription events.
type RemoteStore struct {
	conn *websocket.Conn
	log  logger.Logger

	send chan WireRequest

	mu      sync.Mutex
	reqSeq  int64
	pending map[int64]chan WireMessage

	// Handlers of in-flight subscribe requests, keyed by request id. The
	// read loop installs them under the server-chosen subscription id
	// before settling the response, so the initial snapshot the server
	// sends right after the response cannot be missed.
	pendingValue map[int64]ValueHandler
	pendingChild map[int64]ChildHandler

	valueSubs map[int64]ValueHandler
	childSubs map[int64]ChildHandler

	closed    bool
	closedErr error
	quit      chan struct{}
}

// Dial connects to the store server at cfg.URL.
func Dial(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (*RemoteStore, error) {
	if log == nil {
		log = logger.NewLogger()
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, errors.NewStoreError("store connection failed").
			WithCause(err).
			WithDetail("url", cfg.URL)
	}

	s := &RemoteStore{
		conn:         conn,
		log:          log.WithComponent("remote-store"),
		send:         make(chan WireRequest, cfg.SendChannelBuffer),
		pending:      make(map[int64]chan WireMessage),
		pendingValue: make(map[int64]ValueHandler),
		pendingChild: make(map[int64]ChildHandler),
		valueSubs:    make(map[int64]ValueHandler),
		childSubs:    make(map[int64]ChildHandler),
		quit:         make(chan struct{}),
	}
	go s.writeLoop()
	go s.readLoop()
	return s, nil
}

func (s *RemoteStore) writeLoop() {
	for {
		select {
		case req := <-s.send:
			if err := s.conn.WriteJSON(req); err != nil {
				s.log.Warnf("store write failed: %v", err)
				s.shutdown(errors.NewStoreError("store connection lost").WithCause(err))
				return
			}
		case <-s.quit:
			return
		}
	}
}

func (s *RemoteStore) readLoop() {
	for {
		var msg WireMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.shutdown(errors.NewStoreError("store connection lost").WithCause(err))
			return
		}
		switch msg.Type {
		case WireTypeResponse:
			s.mu.Lock()
			ch := s.pending[msg.RequestID]
			delete(s.pending, msg.RequestID)
			if msg.OK {
				if handler, ok := s.pendingValue[msg.RequestID]; ok {
					s.valueSubs[msg.SubscriptionID] = handler
				}
				if handler, ok := s.pendingChild[msg.RequestID]; ok {
					s.childSubs[msg.SubscriptionID] = handler
				}
			}
			delete(s.pendingValue, msg.RequestID)
			delete(s.pendingChild, msg.RequestID)
			s.mu.Unlock()
			if ch != nil {
				ch <- msg
			}
		case WireTypeValueEvent:
			s.mu.Lock()
			handler := s.valueSubs[msg.SubscriptionID]
			s.mu.Unlock()
			if handler != nil {
				handler(msg.Value)
			}
		case WireTypeChildEvent:
			s.mu.Lock()
			handler := s.childSubs[msg.SubscriptionID]
			s.mu.Unlock()
			if handler != nil {
				handler(ChildEvent{Kind: msg.Kind, Key: msg.Key, Value: msg.Value})
			}
		default:
			s.log.Warnf("discarding unknown store message type %q", msg.Type)
		}
	}
}

// shutdown fails every pending request and stops accepting new ones.
func (s *RemoteStore) shutdown(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closedErr = cause
	pending := s.pending
	s.pending = make(map[int64]chan WireMessage)
	s.pendingValue = make(map[int64]ValueHandler)
	s.pendingChild = make(map[int64]ChildHandler)
	s.valueSubs = make(map[int64]ValueHandler)
	s.childSubs = make(map[int64]ChildHandler)
	s.mu.Unlock()

	close(s.quit)
	_ = s.conn.Close()
	for _, ch := range pending {
		close(ch)
	}
}

// roundTrip submits one request and waits for its response.
func (s *RemoteStore) roundTrip(ctx context.Context, req WireRequest) (WireMessage, error) {
	return s.submit(ctx, req, nil, nil)
}

// submit queues a request and waits for the server's response. Subscribe
// requests pass their handler here so the read loop installs it atomically
// with the response.
func (s *RemoteStore) submit(ctx context.Context, req WireRequest, vh ValueHandler, chh ChildHandler) (WireMessage, error) {
	s.mu.Lock()
	if s.closed {
		err := s.closedErr
		s.mu.Unlock()
		if err == nil {
			err = errors.ErrSessionClosed
		}
		return WireMessage{}, err
	}
	s.reqSeq++
	req.RequestID = s.reqSeq
	ch := make(chan WireMessage, 1)
	s.pending[req.RequestID] = ch
	if vh != nil {
		s.pendingValue[req.RequestID] = vh
	}
	if chh != nil {
		s.pendingChild[req.RequestID] = chh
	}
	s.mu.Unlock()

	select {
	case s.send <- req:
	case <-ctx.Done():
		s.dropPending(req.RequestID)
		return WireMessage{}, ctx.Err()
	}

	select {
	case msg, open := <-ch:
		if !open {
			return WireMessage{}, errors.NewStoreError("store connection lost")
		}
		if !msg.OK {
			return WireMessage{}, errors.NewStoreError("store rejected request").
				WithDetail("action", req.Action).
				WithDetail("reason", msg.Error)
		}
		return msg, nil
	case <-ctx.Done():
		s.dropPending(req.RequestID)
		return WireMessage{}, ctx.Err()
	}
}

func (s *RemoteStore) dropPending(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	delete(s.pendingValue, id)
	delete(s.pendingChild, id)
	s.mu.Unlock()
}

func encode(value interface{}) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, errors.NewStoreError("value is not representable as JSON").WithCause(err)
	}
	return raw, nil
}

// Get implements RealtimeStore.
func (s *RemoteStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	msg, err := s.roundTrip(ctx, WireRequest{Action: WireActionGet, Path: path})
	if err != nil {
		return nil, err
	}
	return msg.Value, nil
}

// Set implements RealtimeStore.
func (s *RemoteStore) Set(ctx context.Context, path string, value interface{}) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	_, err = s.roundTrip(ctx, WireRequest{Action: WireActionSet, Path: path, Value: raw})
	return err
}

// Update implements RealtimeStore.
func (s *RemoteStore) Update(ctx context.Context, path string, children map[string]interface{}) error {
	encoded := make(map[string]json.RawMessage, len(children))
	for key, value := range children {
		raw, err := encode(value)
		if err != nil {
			return err
		}
		encoded[key] = raw
	}
	_, err := s.roundTrip(ctx, WireRequest{Action: WireActionUpdate, Path: path, Children: encoded})
	return err
}

// Remove implements RealtimeStore.
func (s *RemoteStore) Remove(ctx context.Context, path string) error {
	_, err := s.roundTrip(ctx, WireRequest{Action: WireActionRemove, Path: path})
	return err
}

// SubscribeValue implements RealtimeStore.
func (s *RemoteStore) SubscribeValue(ctx context.Context, path string, handler ValueHandler) (func(), error) {
	msg, err := s.submit(ctx, WireRequest{Action: WireActionSubscribeValue, Path: path}, handler, nil)
	if err != nil {
		return nil, err
	}
	return s.canceler(msg.SubscriptionID), nil
}

// SubscribeChildren implements RealtimeStore.
func (s *RemoteStore) SubscribeChildren(ctx context.Context, path string, handler ChildHandler) (func(), error) {
	msg, err := s.submit(ctx, WireRequest{Action: WireActionSubscribeChildren, Path: path}, nil, handler)
	if err != nil {
		return nil, err
	}
	return s.canceler(msg.SubscriptionID), nil
}

func (s *RemoteStore) canceler(subscriptionID int64) func() {
	return func() {
		s.mu.Lock()
		delete(s.valueSubs, subscriptionID)
		delete(s.childSubs, subscriptionID)
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		_, _ = s.roundTrip(context.Background(), WireRequest{
			Action:         WireActionUnsubscribe,
			SubscriptionID: subscriptionID,
		})
	}
}

// OnDisconnectRemove implements RealtimeStore.
func (s *RemoteStore) OnDisconnectRemove(ctx context.Context, path string) error {
	_, err := s.roundTrip(ctx, WireRequest{Action: WireActionOnDisconnectRemove, Path: path})
	return err
}

// CancelDisconnect implements RealtimeStore.
func (s *RemoteStore) CancelDisconnect(ctx context.Context, path string) error {
	_, err := s.roundTrip(ctx, WireRequest{Action: WireActionCancelDisconnect, Path: path})
	return err
}

// Close implements RealtimeStore. The server fires any armed disconnect
// removals when the connection drops.
func (s *RemoteStore) Close() error {
	s.shutdown(errors.ErrSessionClosed)
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"

	"collab-table/internal/shared/errors"
	"collab-table/internal/shared/paths"
)

// MemoryStore is an in-process RealtimeStore. It backs tests and the
// development store server, and mirrors the hosted store's observable
// semantics: synchronous initial snapshots on subscribe, child-level diffs,
// and disconnect cleanup.
type MemoryStore struct {
	mu sync.Mutex

	root map[string]interface{}

	subSeq    int
	valueSubs map[int]*valueSub
	childSubs map[int]*childSub

	// cleanup holds paths armed for removal on disconnect.
	cleanup map[string]struct{}

	closed bool
}

type valueSub struct {
	path    string
	handler ValueHandler
}

type childSub struct {
	path    string
	handler ChildHandler
}

// delivery is one pending callback, collected under lock and run outside it
// so handlers may re-enter the store.
type delivery func()

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		root:      make(map[string]interface{}),
		valueSubs: make(map[int]*valueSub),
		childSubs: make(map[int]*childSub),
		cleanup:   make(map[string]struct{}),
	}
}

// normalize round-trips a value through JSON so stored trees are made of
// plain maps, slices, and primitives regardless of the caller's types.
func normalize(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, errors.NewStoreError("value is not representable as JSON").WithCause(err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.NewStoreError("value is not representable as JSON").WithCause(err)
	}
	return out, nil
}

func (s *MemoryStore) getAt(segments []string) interface{} {
	var node interface{} = s.root
	for _, segment := range segments {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil
		}
		node = m[segment]
	}
	return node
}

// setAt writes a value (nil removes) and prunes emptied ancestors.
func (s *MemoryStore) setAt(segments []string, value interface{}) {
	if len(segments) == 0 {
		if m, ok := value.(map[string]interface{}); ok {
			s.root = m
		} else {
			s.root = make(map[string]interface{})
		}
		return
	}

	parents := make([]map[string]interface{}, 0, len(segments))
	node := s.root
	for _, segment := range segments[:len(segments)-1] {
		parents = append(parents, node)
		child, ok := node[segment].(map[string]interface{})
		if !ok {
			if value == nil {
				return
			}
			child = make(map[string]interface{})
			node[segment] = child
		}
		node = child
	}
	parents = append(parents, node)

	last := segments[len(segments)-1]
	if value == nil {
		delete(node, last)
	} else {
		node[last] = value
	}

	// prune empty maps bottom-up
	for i := len(parents) - 1; i > 0; i-- {
		if len(parents[i]) == 0 {
			delete(parents[i-1], segments[i-1])
		}
	}
}

func snapshot(node interface{}) interface{} {
	raw, err := json.Marshal(node)
	if err != nil {
		return nil
	}
	var out interface{}
	_ = json.Unmarshal(raw, &out)
	return out
}

func marshalOrNil(node interface{}) json.RawMessage {
	if node == nil {
		return nil
	}
	raw, err := json.Marshal(node)
	if err != nil {
		return nil
	}
	return raw
}

func childrenOf(node interface{}) map[string]interface{} {
	m, _ := node.(map[string]interface{})
	return m
}

// collectDiffs compares the tree before and after a mutation and prepares
// the callbacks every affected subscription is owed. Must hold s.mu.
func (s *MemoryStore) collectDiffs(before interface{}) []delivery {
	var out []delivery

	for _, sub := range s.valueSubs {
		segments := paths.Split(sub.path)
		prev := getIn(before, segments)
		next := s.getAt(segments)
		if reflect.DeepEqual(prev, next) {
			continue
		}
		handler, raw := sub.handler, marshalOrNil(next)
		out = append(out, func() { handler(raw) })
	}

	for _, sub := range s.childSubs {
		segments := paths.Split(sub.path)
		prev := childrenOf(getIn(before, segments))
		next := childrenOf(s.getAt(segments))
		for key, nextVal := range next {
			prevVal, existed := prev[key]
			if !existed {
				handler, event := sub.handler, ChildEvent{Kind: ChildAdded, Key: key, Value: marshalOrNil(nextVal)}
				out = append(out, func() { handler(event) })
			} else if !reflect.DeepEqual(prevVal, nextVal) {
				handler, event := sub.handler, ChildEvent{Kind: ChildChanged, Key: key, Value: marshalOrNil(nextVal)}
				out = append(out, func() { handler(event) })
			}
		}
		for key := range prev {
			if _, still := next[key]; !still {
				handler, event := sub.handler, ChildEvent{Kind: ChildRemoved, Key: key}
				out = append(out, func() { handler(event) })
			}
		}
	}
	return out
}

func getIn(node interface{}, segments []string) interface{} {
	for _, segment := range segments {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil
		}
		node = m[segment]
	}
	return node
}

func run(deliveries []delivery) {
	for _, d := range deliveries {
		d()
	}
}

// Get implements RealtimeStore.
func (s *MemoryStore) Get(_ context.Context, path string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.ErrSessionClosed
	}
	return marshalOrNil(s.getAt(paths.Split(path))), nil
}

// Set implements RealtimeStore.
func (s *MemoryStore) Set(_ context.Context, path string, value interface{}) error {
	normalized, err := normalize(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.ErrSessionClosed
	}
	before := snapshot(s.root)
	s.setAt(paths.Split(path), normalized)
	deliveries := s.collectDiffs(before)
	s.mu.Unlock()
	run(deliveries)
	return nil
}

// Update implements RealtimeStore.
func (s *MemoryStore) Update(_ context.Context, path string, children map[string]interface{}) error {
	normalized := make(map[string]interface{}, len(children))
	for key, value := range children {
		v, err := normalize(value)
		if err != nil {
			return err
		}
		normalized[key] = v
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.ErrSessionClosed
	}
	before := snapshot(s.root)
	segments := paths.Split(path)
	for key, value := range normalized {
		s.setAt(append(append([]string{}, segments...), paths.Split(key)...), value)
	}
	deliveries := s.collectDiffs(before)
	s.mu.Unlock()
	run(deliveries)
	return nil
}

// Remove implements RealtimeStore.
func (s *MemoryStore) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// SubscribeValue implements RealtimeStore. The current value is delivered
// before SubscribeValue returns.
func (s *MemoryStore) SubscribeValue(_ context.Context, path string, handler ValueHandler) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.ErrSessionClosed
	}
	s.subSeq++
	id := s.subSeq
	s.valueSubs[id] = &valueSub{path: path, handler: handler}
	initial := marshalOrNil(s.getAt(paths.Split(path)))
	s.mu.Unlock()

	handler(initial)
	return func() {
		s.mu.Lock()
		delete(s.valueSubs, id)
		s.mu.Unlock()
	}, nil
}

// SubscribeChildren implements RealtimeStore. One ChildAdded per existing
// child is delivered before SubscribeChildren returns.
func (s *MemoryStore) SubscribeChildren(_ context.Context, path string, handler ChildHandler) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.ErrSessionClosed
	}
	s.subSeq++
	id := s.subSeq
	s.childSubs[id] = &childSub{path: path, handler: handler}
	var initial []ChildEvent
	for key, value := range childrenOf(s.getAt(paths.Split(path))) {
		initial = append(initial, ChildEvent{Kind: ChildAdded, Key: key, Value: marshalOrNil(value)})
	}
	s.mu.Unlock()

	for _, event := range initial {
		handler(event)
	}
	return func() {
		s.mu.Lock()
		delete(s.childSubs, id)
		s.mu.Unlock()
	}, nil
}

// OnDisconnectRemove implements RealtimeStore.
func (s *MemoryStore) OnDisconnectRemove(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrSessionClosed
	}
	s.cleanup[path] = struct{}{}
	return nil
}

// CancelDisconnect implements RealtimeStore.
func (s *MemoryStore) CancelDisconnect(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cleanup, path)
	return nil
}

// SimulateDisconnect fires every armed disconnect removal, as the hosted
// store would when the client's connection drops.
func (s *MemoryStore) SimulateDisconnect() {
	s.mu.Lock()
	pending := make([]string, 0, len(s.cleanup))
	for path := range s.cleanup {
		pending = append(pending, path)
	}
	s.cleanup = make(map[string]struct{})
	s.mu.Unlock()

	for _, path := range pending {
		_ = s.Set(context.Background(), path, nil)
	}
}

// Close implements RealtimeStore: fires disconnect cleanup and rejects
// further use.
func (s *MemoryStore) Close() error {
	s.SimulateDisconnect()
	s.mu.Lock()
	s.closed = true
	s.valueSubs = make(map[int]*valueSub)
	s.childSubs = make(map[int]*childSub)
	s.mu.Unlock()
	return nil
}

// Package stream rebuilds ordered record batches from the store's raw
// child-level notifications. The store surfaces one user's batched mutation
// as N independent child events plus one order-array event with no ordering
// guarantee across them; delivering those events one by one would show a
// collaborator's table with a transiently wrong order or item count. The
// reconstructor buffers until the events account for a complete consistent
// state, then flushes one batch.
package stream

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"collab-table/internal/collab/domain/model"
	"collab-table/internal/collab/store"
	"collab-table/internal/shared/logger"
)

// BatchHandler receives reconstructed record batches for one remote user.
type BatchHandler func(model.RecordBatch)

type streamState int

const (
	awaitingInitial streamState = iota
	streaming
)

// userStream is the per-remote-user state machine.
type userStream struct {
	user    string
	deliver BatchHandler

	state streamState

	// buffered holds events that arrived before the initial snapshot.
	buffered []store.ChildEvent

	// known is the id set already delivered to the host.
	known map[string]struct{}

	// latestOrder is the most recent order array from the store.
	latestOrder []string

	pendingAdds    map[string]model.RecordValues
	pendingRemoves map[string]struct{}

	cancels []func()
}

// Reconstructor manages one stream per remote user of a session.
type Reconstructor struct {
	session *store.Session
	log     logger.Logger

	mu      sync.Mutex
	streams map[string]*userStream
}

// NewReconstructor creates a reconstructor bound to one session.
func NewReconstructor(session *store.Session, log logger.Logger) *Reconstructor {
	if log == nil {
		log = logger.NewLogger()
	}
	return &Reconstructor{
		session: session,
		log:     log.WithComponent("stream-reconstructor"),
		streams: make(map[string]*userStream),
	}
}

// Register starts reconstructing one remote user's stream. It subscribes to
// the user's record and order events, reads the full snapshot once, delivers
// it as one added batch, and then streams coalesced batches until
// Unregister.
func (r *Reconstructor) Register(ctx context.Context, user string, deliver BatchHandler) error {
	r.mu.Lock()
	if _, exists := r.streams[user]; exists {
		r.mu.Unlock()
		return nil
	}
	s := &userStream{
		user:           user,
		deliver:        deliver,
		state:          awaitingInitial,
		known:          make(map[string]struct{}),
		pendingAdds:    make(map[string]model.RecordValues),
		pendingRemoves: make(map[string]struct{}),
	}
	r.streams[user] = s
	r.mu.Unlock()

	cancelItems, err := r.session.SubscribeUserItems(ctx, user, func(e store.ChildEvent) {
		r.onItemEvent(user, e)
	})
	if err != nil {
		r.Unregister(user)
		return err
	}
	r.addCancel(user, cancelItems)

	cancelOrder, err := r.session.SubscribeUserOrder(ctx, user, func(order []string) {
		r.onOrderEvent(user, order)
	})
	if err != nil {
		r.Unregister(user)
		return err
	}
	r.addCancel(user, cancelOrder)

	snapshot, err := r.session.ReadUserRecords(ctx, user)
	if err != nil {
		r.Unregister(user)
		return err
	}
	r.onSnapshot(user, snapshot)
	return nil
}

// Unregister stops one user's stream. Safe to call repeatedly and for users
// never registered.
func (r *Reconstructor) Unregister(user string) {
	r.mu.Lock()
	s := r.streams[user]
	delete(r.streams, user)
	r.mu.Unlock()
	if s == nil {
		return
	}
	for _, cancel := range s.cancels {
		cancel()
	}
}

// Users lists the currently registered remote users.
func (r *Reconstructor) Users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]string, 0, len(r.streams))
	for user := range r.streams {
		users = append(users, user)
	}
	return users
}

// Close unregisters every stream.
func (r *Reconstructor) Close() {
	r.mu.Lock()
	streams := r.streams
	r.streams = make(map[string]*userStream)
	r.mu.Unlock()
	for _, s := range streams {
		for _, cancel := range s.cancels {
			cancel()
		}
	}
}

func (r *Reconstructor) addCancel(user string, cancel func()) {
	r.mu.Lock()
	s := r.streams[user]
	if s == nil {
		// lost a race with Unregister
		r.mu.Unlock()
		cancel()
		return
	}
	s.cancels = append(s.cancels, cancel)
	r.mu.Unlock()
}

func (r *Reconstructor) onSnapshot(user string, snapshot model.UserItemData) {
	r.mu.Lock()
	s := r.streams[user]
	if s == nil || s.state != awaitingInitial {
		r.mu.Unlock()
		return
	}
	s.state = streaming
	for id := range snapshot.Items {
		s.known[id] = struct{}{}
	}
	s.latestOrder = snapshot.Order

	var batches []model.RecordBatch
	if records := snapshot.OrderedRecords(); len(records) > 0 {
		batches = append(batches, model.RecordBatch{
			User:    user,
			Kind:    model.BatchAdded,
			Records: records,
		})
	}

	buffered := s.buffered
	s.buffered = nil
	for _, e := range buffered {
		batches = append(batches, s.apply(e)...)
	}
	r.mu.Unlock()

	for _, b := range batches {
		s.deliver(b)
	}
}

func (r *Reconstructor) onItemEvent(user string, e store.ChildEvent) {
	r.mu.Lock()
	s := r.streams[user]
	if s == nil {
		r.mu.Unlock()
		return
	}
	if s.state == awaitingInitial {
		s.buffered = append(s.buffered, e)
		r.mu.Unlock()
		return
	}
	batches := s.apply(e)
	r.mu.Unlock()

	for _, b := range batches {
		s.deliver(b)
	}
}

func (r *Reconstructor) onOrderEvent(user string, order []string) {
	r.mu.Lock()
	s := r.streams[user]
	if s == nil {
		r.mu.Unlock()
		return
	}
	if s.state == awaitingInitial {
		// the snapshot read carries the initial order
		r.mu.Unlock()
		return
	}
	s.latestOrder = order
	batches := s.tryFlush()
	r.mu.Unlock()

	for _, b := range batches {
		s.deliver(b)
	}
}

// apply feeds one live event into the stream and returns any batches it
// released. Caller holds the reconstructor lock.
func (s *userStream) apply(e store.ChildEvent) []model.RecordBatch {
	switch e.Kind {
	case store.ChildAdded:
		if _, dup := s.known[e.Key]; dup {
			return nil
		}
		values, ok := decodeValues(e.Value)
		if !ok {
			return nil
		}
		s.pendingAdds[e.Key] = values
		return s.tryFlush()

	case store.ChildChanged:
		values, ok := decodeValues(e.Value)
		if !ok {
			return nil
		}
		if _, exists := s.known[e.Key]; !exists {
			// change for a record the host never saw: treat as add
			s.pendingAdds[e.Key] = values
			return s.tryFlush()
		}
		// changes need no reordering; deliver immediately
		return []model.RecordBatch{{
			User:    s.user,
			Kind:    model.BatchChanged,
			Records: []model.Record{{ID: e.Key, Values: values}},
		}}

	case store.ChildRemoved:
		if _, queued := s.pendingAdds[e.Key]; queued {
			delete(s.pendingAdds, e.Key)
			return s.tryFlush()
		}
		if _, exists := s.known[e.Key]; !exists {
			return nil
		}
		s.pendingRemoves[e.Key] = struct{}{}
		return s.tryFlush()
	}
	return nil
}

// tryFlush releases the queued adds and removes once they account for
// exactly the latest order array. Caller holds the reconstructor lock.
func (s *userStream) tryFlush() []model.RecordBatch {
	if len(s.pendingAdds) == 0 && len(s.pendingRemoves) == 0 {
		return nil
	}
	if len(s.known)+len(s.pendingAdds)-len(s.pendingRemoves) != len(s.latestOrder) {
		return nil
	}

	var batches []model.RecordBatch
	if len(s.pendingAdds) > 0 {
		position := make(map[string]int, len(s.latestOrder))
		for i, id := range s.latestOrder {
			position[id] = i
		}
		records := make([]model.Record, 0, len(s.pendingAdds))
		for id, values := range s.pendingAdds {
			records = append(records, model.Record{ID: id, Values: values})
		}
		sortByPosition(records, position)
		batches = append(batches, model.RecordBatch{User: s.user, Kind: model.BatchAdded, Records: records})
		for id := range s.pendingAdds {
			s.known[id] = struct{}{}
		}
		s.pendingAdds = make(map[string]model.RecordValues)
	}
	if len(s.pendingRemoves) > 0 {
		records := make([]model.Record, 0, len(s.pendingRemoves))
		for id := range s.pendingRemoves {
			records = append(records, model.Record{ID: id})
			delete(s.known, id)
		}
		batches = append(batches, model.RecordBatch{User: s.user, Kind: model.BatchRemoved, Records: records})
		s.pendingRemoves = make(map[string]struct{})
	}
	return batches
}

// sortByPosition orders records by their index in the order array; ids the
// array does not mention go last.
func sortByPosition(records []model.Record, position map[string]int) {
	rank := func(id string) int {
		if p, ok := position[id]; ok {
			return p
		}
		return len(position) + 1
	}
	sort.SliceStable(records, func(i, j int) bool {
		return rank(records[i].ID) < rank(records[j].ID)
	})
}

func decodeValues(raw json.RawMessage) (model.RecordValues, bool) {
	if raw == nil {
		return nil, false
	}
	var values model.RecordValues
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, false
	}
	return values, true
}

// Package store adapts a path-addressed realtime JSON store to the
// collaboration engine: typed session operations, change subscriptions, and
// presence with disconnect cleanup.
package store

import (
	"context"
	"encoding/json"
)

// ChildEventKind classifies a change to one child of a watched node.
type ChildEventKind string

const (
	ChildAdded   ChildEventKind = "child_added"
	ChildChanged ChildEventKind = "child_changed"
	ChildRemoved ChildEventKind = "child_removed"
)

// ChildEvent is one child-level change at a watched path. Value is the
// child's full value after the change; nil for removals.
type ChildEvent struct {
	Kind  ChildEventKind
	Key   string
	Value json.RawMessage
}

// ChildHandler receives child events for one subscription. Subscribing
// delivers a ChildAdded per existing child before any live event.
type ChildHandler func(ChildEvent)

// ValueHandler receives the full value of a watched path on every change,
// starting with the current value at subscribe time. A nil value means the
// node does not exist.
type ValueHandler func(value json.RawMessage)

// RealtimeStore is a connection to the realtime backing store. Paths are
// slash-separated, validated by the shared paths package.
type RealtimeStore interface {
	// Get reads the value at path once. A missing node yields (nil, nil).
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Set replaces the value at path. A nil value removes the node.
	Set(ctx context.Context, path string, value interface{}) error

	// Update writes several children of path without touching its other
	// children. A nil child value removes that child.
	Update(ctx context.Context, path string, children map[string]interface{}) error

	// Remove deletes the subtree at path.
	Remove(ctx context.Context, path string) error

	// SubscribeValue watches the full value at path. The returned function
	// cancels the subscription.
	SubscribeValue(ctx context.Context, path string, handler ValueHandler) (func(), error)

	// SubscribeChildren watches child-level changes at path. The returned
	// function cancels the subscription.
	SubscribeChildren(ctx context.Context, path string, handler ChildHandler) (func(), error)

	// OnDisconnectRemove arms a server-side removal of path that fires if
	// this connection is lost without a clean close.
	OnDisconnectRemove(ctx context.Context, path string) error

	// CancelDisconnect disarms a previously armed disconnect removal.
	CancelDisconnect(ctx context.Context, path string) error

	// Close releases the connection. Armed disconnect removals fire.
	Close() error
}

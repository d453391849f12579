package store

import "encoding/json"

// Wire protocol between a RemoteStore client and the store server. One JSON
// message per websocket frame; requests carry a client-chosen id the server
// echoes back, subscriptions carry a server-chosen id used in later events.

// Wire actions a client may request.
const (
	WireActionGet                = "get"
	WireActionSet                = "set"
	WireActionUpdate             = "update"
	WireActionRemove             = "remove"
	WireActionSubscribeValue     = "subscribeValue"
	WireActionSubscribeChildren  = "subscribeChildren"
	WireActionUnsubscribe        = "unsubscribe"
	WireActionOnDisconnectRemove = "onDisconnectRemove"
	WireActionCancelDisconnect   = "cancelDisconnect"
)

// Server message types.
const (
	WireTypeResponse   = "response"
	WireTypeValueEvent = "valueEvent"
	WireTypeChildEvent = "childEvent"
)

// WireRequest is one client message.
type WireRequest struct {
	Action    string          `json:"action"`
	RequestID int64           `json:"requestId"`
	Path      string          `json:"path,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`

	// Children carries the per-child patches of an update.
	Children map[string]json.RawMessage `json:"children,omitempty"`

	// SubscriptionID names the subscription to cancel.
	SubscriptionID int64 `json:"subscriptionId,omitempty"`
}

// WireMessage is one server message: a response to a request, or an event on
// a subscription.
type WireMessage struct {
	Type      string `json:"type"`
	RequestID int64  `json:"requestId,omitempty"`
	OK        bool   `json:"ok,omitempty"`
	Error     string `json:"error,omitempty"`

	// SubscriptionID identifies the subscription a response created or an
	// event belongs to.
	SubscriptionID int64 `json:"subscriptionId,omitempty"`

	// Value is a get response's or value event's payload.
	Value json.RawMessage `json:"value,omitempty"`

	// Child event fields.
	Kind ChildEventKind `json:"kind,omitempty"`
	Key  string         `json:"key,omitempty"`
}

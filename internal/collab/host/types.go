package host

import (
	"context"
	"encoding/json"
	"fmt"

	"collab-table/internal/collab/domain/model"
)

// Action is the verb of one host request.
type Action string

const (
	ActionGet    Action = "get"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionNotify Action = "notify"
)

// Request is one host plugin request against a named resource.
type Request struct {
	Action   Action      `json:"action"`
	Resource string      `json:"resource"`
	Values   interface{} `json:"values,omitempty"`
}

// Response is the host's answer to one request. Values is dynamically shaped
// per call site; use DecodeValues to coerce it.
type Response struct {
	Success bool        `json:"success"`
	Values  interface{} `json:"values,omitempty"`
}

// Envelope is the tagged Single/Batch union of the host wire protocol. The
// host accepts either one request object or an array of them; internally
// everything is normalized to a list.
type Envelope struct {
	single *Request
	batch  []Request
}

// Single wraps one request.
func Single(req Request) Envelope {
	return Envelope{single: &req}
}

// Batch wraps an ordered list of requests submitted together. The host
// answers with one response per request in order.
func Batch(reqs ...Request) Envelope {
	return Envelope{batch: reqs}
}

// IsBatch reports whether the envelope holds a request array.
func (e Envelope) IsBatch() bool {
	return e.single == nil
}

// Requests normalizes the envelope to a request list.
func (e Envelope) Requests() []Request {
	if e.single != nil {
		return []Request{*e.single}
	}
	return e.batch
}

// Len returns the number of requests in the envelope.
func (e Envelope) Len() int {
	if e.single != nil {
		return 1
	}
	return len(e.batch)
}

// MarshalJSON emits a bare object for a single request and an array for a batch.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.single != nil {
		return json.Marshal(e.single)
	}
	return json.Marshal(e.batch)
}

// Notification is an asynchronous host message matched to subscriptions by
// resource name.
type Notification struct {
	Resource string                   `json:"resource"`
	Notice   model.ChangeNotification `json:"notice"`
}

// NotificationHandler consumes host notifications.
type NotificationHandler func(Notification)

// RPCChannel is the opaque plugin-frame connection to the host. Send submits
// an envelope and returns one response per request, in request order.
// Subscribe registers a handler for asynchronous notifications; the returned
// function removes it.
type RPCChannel interface {
	Send(ctx context.Context, env Envelope) ([]Response, error)
	Subscribe(handler NotificationHandler) (unsubscribe func())
}

// DecodeValues coerces a dynamically-shaped response value into out via a
// JSON round trip.
func DecodeValues(values interface{}, out interface{}) error {
	if values == nil {
		return nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encoding host response values: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding host response values: %w", err)
	}
	return nil
}

// Resource string helpers. Resources address the host's named objects:
// tables, collections, attributes, items and the plugin frame.

// TableResource addresses one table, optionally a sub-resource of it.
func TableResource(table, subKey string) string {
	r := "table[" + table + "]"
	if subKey != "" {
		r += "." + subKey
	}
	return r
}

// CollectionResource addresses one collection within a table.
func CollectionResource(table, collection, subKey string) string {
	r := "table[" + table + "].collection[" + collection + "]"
	if subKey != "" {
		r += "." + subKey
	}
	return r
}

// CollaboratorsResource addresses the bookkeeping collection within a table.
func CollaboratorsResource(table, subKey string) string {
	return CollectionResource(table, model.CollaboratorsCollection, subKey)
}

// AttributeResource addresses one attribute of a collection.
func AttributeResource(table, collection, attribute string) string {
	return CollectionResource(table, collection, "attribute["+attribute+"]")
}

// TableChangeNotice is the notification resource for one table's changes.
func TableChangeNotice(table string) string {
	return "tableChangeNotice[" + table + "]"
}

// DocumentChangeNotice is the notification resource for document-level
// changes such as tables appearing or disappearing.
const DocumentChangeNotice = "documentChangeNotice"

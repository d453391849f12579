package host

import (
	"context"
	"math/rand"

	"collab-table/internal/collab/domain/model"
	"collab-table/internal/shared/errors"
	"collab-table/internal/shared/eventbus"
	"collab-table/internal/shared/logger"
)

// Dimensions is the plugin frame size in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FrameConfig is the plugin frame negotiation sent on startup.
type FrameConfig struct {
	Name                     string     `json:"name"`
	Version                  string     `json:"version"`
	CannotClose              bool       `json:"cannotClose"`
	PreventTopLevelReorg     bool       `json:"preventTopLevelReorg"`
	PreventAttributeDeletion bool       `json:"preventAttributeDeletion"`
	RespectEditableAttribute bool       `json:"respectEditableItemAttribute"`
	Dimensions               Dimensions `json:"dimensions"`
}

// SaveState is the small opaque state the host persists across sessions so a
// returning user does not re-enter identifying information.
type SaveState struct {
	PersonalDataKeyPrefix string `json:"personalDataKeyPrefix"`
	LastPersonalDataLabel string `json:"lastPersonalDataLabel"`
	LastSelectedTable     string `json:"lastSelectedTable"`
}

// SchemaSummary is one entry of the host's table list.
type SchemaSummary struct {
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
}

// Adapter wraps the opaque plugin RPC channel with typed operations. Host
// rejections surface as settled-false responses which the adapter converts to
// host-operation errors; they are never retried here.
type Adapter struct {
	ch  RPCChannel
	bus *eventbus.EventBus
	log logger.Logger

	unsubscribe func()
}

// NewAdapter wires an adapter to the channel and starts dispatching host
// notifications to subscribers.
func NewAdapter(ch RPCChannel, log logger.Logger) *Adapter {
	if log == nil {
		log = logger.NewLogger()
	}
	a := &Adapter{
		ch:  ch,
		bus: eventbus.NewEventBus(log.WithComponent("host-notifications")),
		log: log.WithComponent("host-adapter"),
	}
	a.unsubscribe = ch.Subscribe(a.dispatch)
	return a
}

// Close stops notification dispatch.
func (a *Adapter) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

func (a *Adapter) dispatch(n Notification) {
	event := eventbus.NewBasicEventWithSource(n.Resource, n.Notice, "host")
	if err := a.bus.Publish(context.Background(), event); err != nil {
		a.log.WithFields(map[string]interface{}{
			"resource":  n.Resource,
			"operation": n.Notice.Operation,
		}).Warnf("notification handler failed: %v", err)
	}
}

// SubscribeTableChanges delivers asynchronous change notifications for one
// table. The returned function removes every handler registered for that
// table's notice resource.
func (a *Adapter) SubscribeTableChanges(table string, handler func(model.ChangeNotification)) func() {
	resource := TableChangeNotice(table)
	a.bus.Subscribe(resource, func(ctx context.Context, event eventbus.Event) error {
		if notice, ok := event.Data().(model.ChangeNotification); ok {
			handler(notice)
		}
		return nil
	})
	return func() { a.bus.Unsubscribe(resource) }
}

// SubscribeDocumentChanges delivers document-level notifications (tables
// created or deleted in the host document).
func (a *Adapter) SubscribeDocumentChanges(handler func(model.ChangeNotification)) func() {
	a.bus.Subscribe(DocumentChangeNotice, func(ctx context.Context, event eventbus.Event) error {
		if notice, ok := event.Data().(model.ChangeNotification); ok {
			handler(notice)
		}
		return nil
	})
	return func() { a.bus.Unsubscribe(DocumentChangeNotice) }
}

// send submits an envelope, mapping transport failures to store-agnostic
// internal errors. Per-request success is left to callers.
func (a *Adapter) send(ctx context.Context, env Envelope) ([]Response, error) {
	responses, err := a.ch.Send(ctx, env)
	if err != nil {
		return nil, errors.NewHostError("host request failed").WithCause(err)
	}
	return responses, nil
}

// sendSingle submits one request and returns its response.
func (a *Adapter) sendSingle(ctx context.Context, req Request) (Response, error) {
	responses, err := a.send(ctx, Single(req))
	if err != nil {
		return Response{}, err
	}
	if len(responses) == 0 {
		return Response{}, errors.NewHostError("host returned no response")
	}
	return responses[0], nil
}

// Initialize negotiates the plugin frame and returns the persisted session
// state from the previous session, zero-valued on first run.
func (a *Adapter) Initialize(ctx context.Context, cfg FrameConfig) (*SaveState, error) {
	responses, err := a.send(ctx, Batch(
		Request{Action: ActionUpdate, Resource: "frame", Values: cfg},
		Request{Action: ActionGet, Resource: "frameState"},
	))
	if err != nil {
		return nil, err
	}
	state := &SaveState{}
	if len(responses) > 1 && responses[1].Success {
		if err := DecodeValues(responses[1].Values, state); err != nil {
			a.log.Warnf("discarding unreadable saved state: %v", err)
			return &SaveState{}, nil
		}
	}
	return state, nil
}

// SaveState persists the session state through the host.
func (a *Adapter) SaveState(ctx context.Context, state SaveState) error {
	res, err := a.sendSingle(ctx, Request{Action: ActionUpdate, Resource: "frameState", Values: state})
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.NewHostError("host refused to persist session state")
	}
	return nil
}

// ResizeFrame resizes the plugin frame.
func (a *Adapter) ResizeFrame(ctx context.Context, width, height int) error {
	_, err := a.sendSingle(ctx, Request{
		Action:   ActionUpdate,
		Resource: "frame",
		Values:   map[string]interface{}{"dimensions": Dimensions{Width: width, Height: height}},
	})
	return err
}

// ConfigureForSharing locks down the frame and assigns table management while
// a share is active; called with isSharing=false on leave to reverse it.
func (a *Adapter) ConfigureForSharing(ctx context.Context, table, controllerID string, isSharing bool) error {
	managing := "__none__"
	if isSharing {
		managing = controllerID
	}
	_, err := a.send(ctx, Batch(
		Request{
			Action:   ActionUpdate,
			Resource: TableResource(table, ""),
			Values:   map[string]interface{}{"managingController": managing},
		},
		Request{
			Action:   ActionUpdate,
			Resource: "frame",
			Values: map[string]interface{}{
				"cannotClose":                  isSharing,
				"preventAttributeDeletion":     isSharing,
				"respectEditableItemAttribute": isSharing,
			},
		},
	))
	return err
}

// GetSchemaList lists the tables in the host document.
func (a *Adapter) GetSchemaList(ctx context.Context) ([]SchemaSummary, error) {
	res, err := a.sendSingle(ctx, Request{Action: ActionGet, Resource: "tableList"})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, nil
	}
	var list []SchemaSummary
	if err := DecodeValues(res.Values, &list); err != nil {
		return nil, errors.NewHostError("unreadable table list").WithCause(err)
	}
	return list, nil
}

// GetSchema reads one table's schema. A missing table yields (nil, nil).
func (a *Adapter) GetSchema(ctx context.Context, table string) (*model.Schema, error) {
	res, err := a.sendSingle(ctx, Request{Action: ActionGet, Resource: TableResource(table, "")})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, nil
	}
	schema := &model.Schema{}
	if err := DecodeValues(res.Values, schema); err != nil {
		return nil, errors.NewHostError("unreadable schema").WithCause(err)
	}
	return schema, nil
}

const schemaNameAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSchemaName() string {
	b := make([]byte, 10)
	for i := range b {
		b[i] = schemaNameAlphabet[rand.Intn(len(schemaNameAlphabet))]
	}
	return string(b)
}

// CreateSchema creates a new table with a random stable name and the given
// title and collections. Refusal is unrecoverable setup failure.
func (a *Adapter) CreateSchema(ctx context.Context, title string, collections []model.Collection) (*model.Schema, error) {
	if collections == nil {
		collections = []model.Collection{}
	}
	res, err := a.sendSingle(ctx, Request{
		Action:   ActionCreate,
		Resource: "table",
		Values: map[string]interface{}{
			"name":        randomSchemaName(),
			"title":       title,
			"collections": collections,
		},
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, errors.NewHostError("host refused schema creation").WithCause(errors.ErrSchemaRefused)
	}
	schema := &model.Schema{}
	if err := DecodeValues(res.Values, schema); err != nil {
		return nil, errors.NewHostError("unreadable created schema").WithCause(err)
	}
	return schema, nil
}

// AddCollections appends collections to an existing table.
func (a *Adapter) AddCollections(ctx context.Context, table string, collections []model.Collection) error {
	if len(collections) == 0 {
		return nil
	}
	res, err := a.sendSingle(ctx, Request{
		Action:   ActionCreate,
		Resource: TableResource(table, "collection"),
		Values:   collections,
	})
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.NewHostError("host refused collection creation").WithDetail("table", table)
	}
	return nil
}

// GetAllRecords reads every record of a table.
func (a *Adapter) GetAllRecords(ctx context.Context, table string) ([]model.Record, error) {
	res, err := a.sendSingle(ctx, Request{Action: ActionGet, Resource: TableResource(table, "itemSearch[*]")})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, nil
	}
	var records []model.Record
	if err := DecodeValues(res.Values, &records); err != nil {
		return nil, errors.NewHostError("unreadable records").WithCause(err)
	}
	return records, nil
}

// GetRecordsOfCollaborator reads the records authored by one user. The
// derived editability marker is stripped; it is never transmitted.
func (a *Adapter) GetRecordsOfCollaborator(ctx context.Context, table, personalDataKey string) ([]model.Record, error) {
	res, err := a.sendSingle(ctx, Request{
		Action:   ActionGet,
		Resource: TableResource(table, "itemSearch["+model.CollaboratorKeyAttrName+"=="+personalDataKey+"]"),
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, nil
	}
	var records []model.Record
	if err := DecodeValues(res.Values, &records); err != nil {
		return nil, errors.NewHostError("unreadable records").WithCause(err)
	}
	for i := range records {
		delete(records[i].Values, model.EditableAttrName)
	}
	return records, nil
}

// CreateOrUpdateRecords mirrors a record batch into the host: records whose
// ids already exist become updates, the rest creates, all submitted as one
// batched envelope so the host sees the fewest possible requests.
func (a *Adapter) CreateOrUpdateRecords(ctx context.Context, table string, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	existing, err := a.GetAllRecords(ctx, table)
	if err != nil {
		return err
	}
	existingIDs := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		existingIDs[r.ID] = struct{}{}
	}

	requests := make([]Request, 0, len(records))
	for _, record := range records {
		if _, ok := existingIDs[record.ID]; ok {
			requests = append(requests, Request{
				Action:   ActionUpdate,
				Resource: TableResource(table, "itemByID["+record.ID+"]"),
				Values:   record.Values,
			})
		} else {
			requests = append(requests, Request{
				Action:   ActionCreate,
				Resource: TableResource(table, "item"),
				Values:   map[string]interface{}{"id": record.ID, "values": record.Values},
			})
		}
	}

	responses, err := a.send(ctx, Batch(requests...))
	if err != nil {
		return err
	}
	for i, res := range responses {
		if !res.Success {
			return errors.NewHostError("host rejected record write").
				WithDetail("table", table).
				WithDetail("request", i)
		}
	}
	return nil
}

// RemoveRecords deletes the given records from the host.
func (a *Adapter) RemoveRecords(ctx context.Context, table string, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	requests := make([]Request, 0, len(records))
	for _, record := range records {
		requests = append(requests, Request{
			Action:   ActionDelete,
			Resource: TableResource(table, "itemByID["+record.ID+"]"),
		})
	}
	responses, err := a.send(ctx, Batch(requests...))
	if err != nil {
		return err
	}
	for i, res := range responses {
		if !res.Success {
			return errors.NewHostError("host rejected record delete").
				WithDetail("table", table).
				WithDetail("request", i)
		}
	}
	return nil
}

// ReorderUserRecordsToEnd moves all of one user's records to the end of
// display order without altering data; used to keep the acting user's rows
// visually grouped after a remote merge.
func (a *Adapter) ReorderUserRecordsToEnd(ctx context.Context, table, personalDataKey string) error {
	_, err := a.sendSingle(ctx, Request{
		Action:   ActionNotify,
		Resource: TableResource(table, "itemSearch["+model.CollaboratorKeyAttrName+"=="+personalDataKey+"]"),
		Values:   map[string]interface{}{"itemOrder": "last"},
	})
	return err
}

// OpenCaseTable asks the host to show a table component for the schema.
func (a *Adapter) OpenCaseTable(ctx context.Context, table string) error {
	_, err := a.sendSingle(ctx, Request{
		Action:   ActionCreate,
		Resource: "component",
		Values:   map[string]interface{}{"type": "caseTable", "table": table},
	})
	return err
}

// Apply submits a prepared operation list (typically from schema
// reconciliation) as one envelope so the host emits no intermediate,
// individually-incomplete notifications.
func (a *Adapter) Apply(ctx context.Context, requests []Request) error {
	if len(requests) == 0 {
		return nil
	}
	responses, err := a.send(ctx, Batch(requests...))
	if err != nil {
		return err
	}
	for i, res := range responses {
		if !res.Success {
			return errors.NewHostError("host rejected operation").WithDetail("request", i)
		}
	}
	return nil
}

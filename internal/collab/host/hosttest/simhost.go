// Package hosttest provides an in-memory simulation of the host application
// for exercising the collaboration engine without a real plugin frame.
package hosttest

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"collab-table/internal/collab/domain/model"
	"collab-table/internal/collab/host"
)

var (
	tableRe         = regexp.MustCompile(`^table\[([^\]]+)\]$`)
	tableSubRe      = regexp.MustCompile(`^table\[([^\]]+)\]\.(.+)$`)
	collectionRe    = regexp.MustCompile(`^collection\[([^\]]+)\]$`)
	collectionSubRe = regexp.MustCompile(`^collection\[([^\]]+)\]\.(.+)$`)
	attributeRe     = regexp.MustCompile(`^attribute\[([^\]]+)\]$`)
	itemByIDRe      = regexp.MustCompile(`^itemByID\[([^\]]+)\]$`)
	itemSearchRe    = regexp.MustCompile(`^itemSearch\[([^\]]*)\]$`)
	caseByIDRe      = regexp.MustCompile(`^caseByID\[([^\]]+)\]$`)
	caseSearchRe    = regexp.MustCompile(`^caseSearch\[([^\]]*)\]$`)
	searchCriterion = regexp.MustCompile(`^([^=]*)==(.*)$`)
)

const caseIDPrefix = "case::"

// SimHost is an in-memory host: it keeps table schemas and ordered records,
// answers the plugin request protocol, and emits change notifications the
// way the real host does. It implements host.RPCChannel.
type SimHost struct {
	mu sync.Mutex

	schemas map[string]*model.Schema
	records map[string][]model.Record
	state   host.SaveState
	frame   map[string]interface{}

	nextItemID int
	nextCollID int64

	handlerSeq int
	handlers   map[int]host.NotificationHandler

	// Reject, when set, makes matching requests settle unsuccessfully.
	Reject func(host.Request) bool
}

// New creates an empty simulated host.
func New() *SimHost {
	return &SimHost{
		schemas:  make(map[string]*model.Schema),
		records:  make(map[string][]model.Record),
		frame:    make(map[string]interface{}),
		handlers: make(map[int]host.NotificationHandler),
	}
}

// Subscribe implements host.RPCChannel.
func (h *SimHost) Subscribe(handler host.NotificationHandler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlerSeq++
	id := h.handlerSeq
	h.handlers[id] = handler
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.handlers, id)
	}
}

// Send implements host.RPCChannel: processes every request in order and
// returns one response per request. Notifications raised by the requests are
// delivered synchronously after the whole envelope settles, mirroring the
// host's behavior of notifying only once a batch completes.
func (h *SimHost) Send(_ context.Context, env host.Envelope) ([]host.Response, error) {
	h.mu.Lock()
	var responses []host.Response
	var notices []host.Notification
	for _, req := range env.Requests() {
		if h.Reject != nil && h.Reject(req) {
			responses = append(responses, host.Response{Success: false})
			continue
		}
		res, reqNotices := h.handle(req)
		responses = append(responses, res)
		notices = append(notices, reqNotices...)
	}
	handlers := make([]host.NotificationHandler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		handlers = append(handlers, handler)
	}
	h.mu.Unlock()

	for _, n := range notices {
		for _, handler := range handlers {
			handler(n)
		}
	}
	return responses, nil
}

// Schema returns a deep copy of a table's schema, or nil.
func (h *SimHost) Schema(table string) *model.Schema {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.schemas[table].Clone()
}

// Records returns a copy of a table's records in display order.
func (h *SimHost) Records(table string) []model.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.Record, 0, len(h.records[table]))
	for _, r := range h.records[table] {
		out = append(out, r.Clone())
	}
	return out
}

// SavedState returns the last persisted session state.
func (h *SimHost) SavedState() host.SaveState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Seed installs a table directly, bypassing the request protocol.
func (h *SimHost) Seed(schema *model.Schema, records ...model.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.assignCollectionIDs(schema)
	h.schemas[schema.Name] = schema
	h.records[schema.Name] = append([]model.Record(nil), records...)
}

// EditRecord mutates one cell as if the user typed into the host table, and
// notifies subscribers.
func (h *SimHost) EditRecord(table, recordID, attr string, value interface{}) {
	h.mu.Lock()
	for i, r := range h.records[table] {
		if r.ID == recordID {
			updated := r.Clone()
			updated.Values[attr] = value
			h.records[table][i] = updated
			break
		}
	}
	handlers := h.snapshotHandlers()
	h.mu.Unlock()
	h.notifyAll(handlers, table, model.OpRecordsUpdated, nil)
}

// AddRecord appends a row as if the user created it in the host, and
// notifies subscribers. Returns the assigned id.
func (h *SimHost) AddRecord(table string, values model.RecordValues) string {
	h.mu.Lock()
	h.nextItemID++
	id := "i" + strconv.Itoa(h.nextItemID)
	h.records[table] = append(h.records[table], model.Record{ID: id, Values: values})
	handlers := h.snapshotHandlers()
	h.mu.Unlock()
	h.notifyAll(handlers, table, model.OpRecordsCreated, nil)
	return id
}

func (h *SimHost) snapshotHandlers() []host.NotificationHandler {
	handlers := make([]host.NotificationHandler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		handlers = append(handlers, handler)
	}
	return handlers
}

func (h *SimHost) notifyAll(handlers []host.NotificationHandler, table string, op model.ChangeOperation, result map[string]interface{}) {
	n := host.Notification{
		Resource: host.TableChangeNotice(table),
		Notice:   model.ChangeNotification{Table: table, Operation: op, Result: result},
	}
	for _, handler := range handlers {
		handler(n)
	}
}

func notice(table string, op model.ChangeOperation) host.Notification {
	return host.Notification{
		Resource: host.TableChangeNotice(table),
		Notice:   model.ChangeNotification{Table: table, Operation: op},
	}
}

func coerce(in interface{}, out interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func ok(values interface{}) host.Response {
	return host.Response{Success: true, Values: values}
}

func fail() host.Response {
	return host.Response{Success: false}
}

func (h *SimHost) handle(req host.Request) (host.Response, []host.Notification) {
	switch {
	case req.Resource == "frame":
		var patch map[string]interface{}
		if err := coerce(req.Values, &patch); err == nil {
			for k, v := range patch {
				h.frame[k] = v
			}
		}
		return ok(nil), nil

	case req.Resource == "frameState":
		if req.Action == host.ActionGet {
			return ok(h.state), nil
		}
		var state host.SaveState
		if err := coerce(req.Values, &state); err != nil {
			return fail(), nil
		}
		h.state = state
		return ok(nil), nil

	case req.Resource == "tableList":
		var list []host.SchemaSummary
		for _, s := range h.schemas {
			list = append(list, host.SchemaSummary{Name: s.Name, Title: s.Title})
		}
		return ok(list), nil

	case req.Resource == "table" && req.Action == host.ActionCreate:
		return h.createTable(req)

	case req.Resource == "component":
		return ok(nil), nil
	}

	if m := tableRe.FindStringSubmatch(req.Resource); m != nil {
		return h.handleTable(m[1], req)
	}
	if m := tableSubRe.FindStringSubmatch(req.Resource); m != nil {
		return h.handleTableSub(m[1], m[2], req)
	}
	return fail(), nil
}

func (h *SimHost) createTable(req host.Request) (host.Response, []host.Notification) {
	var spec struct {
		Name        string             `json:"name"`
		Title       string             `json:"title"`
		Collections []model.Collection `json:"collections"`
	}
	if err := coerce(req.Values, &spec); err != nil || spec.Name == "" {
		return fail(), nil
	}
	if _, exists := h.schemas[spec.Name]; exists {
		return fail(), nil
	}
	schema := &model.Schema{Name: spec.Name, Title: spec.Title, Collections: spec.Collections}
	h.assignCollectionIDs(schema)
	h.schemas[spec.Name] = schema
	h.records[spec.Name] = nil
	return ok(schema), nil
}

// assignCollectionIDs gives collections session-local ids and resolves
// name-based parent references to ids, the way the host does internally.
func (h *SimHost) assignCollectionIDs(schema *model.Schema) {
	byName := make(map[string]*model.Collection)
	for i := range schema.Collections {
		coll := &schema.Collections[i]
		if coll.ID == 0 {
			h.nextCollID++
			coll.ID = h.nextCollID
		}
		byName[coll.Name] = coll
	}
	for i := range schema.Collections {
		coll := &schema.Collections[i]
		if coll.Parent != "" && coll.Parent != model.RootParent {
			if parent, found := byName[coll.Parent]; found {
				coll.ParentID = parent.ID
			}
		}
	}
}

func (h *SimHost) handleTable(table string, req host.Request) (host.Response, []host.Notification) {
	schema, found := h.schemas[table]
	if !found {
		return fail(), nil
	}
	switch req.Action {
	case host.ActionGet:
		return ok(schema), nil
	case host.ActionUpdate:
		var patch map[string]interface{}
		if err := coerce(req.Values, &patch); err != nil {
			return fail(), nil
		}
		var notices []host.Notification
		if title, okv := patch["title"].(string); okv {
			schema.Title = title
			notices = append(notices, notice(table, model.OpSchemaUpdated))
		}
		return ok(nil), notices
	}
	return fail(), nil
}

func (h *SimHost) handleTableSub(table, sub string, req host.Request) (host.Response, []host.Notification) {
	schema, found := h.schemas[table]
	if !found {
		return fail(), nil
	}

	switch {
	case sub == "collection" && req.Action == host.ActionCreate:
		var collections []model.Collection
		if err := coerce(req.Values, &collections); err != nil {
			return fail(), nil
		}
		schema.Collections = append(schema.Collections, collections...)
		h.assignCollectionIDs(schema)
		return ok(nil), []host.Notification{notice(table, model.OpCollectionCreated)}

	case sub == "item" && req.Action == host.ActionCreate:
		return h.createItems(table, req.Values)

	case sub == "itemCount" && req.Action == host.ActionGet:
		return ok(len(h.records[table])), nil
	}

	if m := itemByIDRe.FindStringSubmatch(sub); m != nil {
		return h.handleItemByID(table, m[1], req)
	}
	if m := itemSearchRe.FindStringSubmatch(sub); m != nil {
		return h.handleItemSearch(table, m[1], req)
	}
	if m := collectionRe.FindStringSubmatch(sub); m != nil {
		if schema.FindCollection(m[1]) == nil {
			return fail(), nil
		}
		return ok(schema.FindCollection(m[1])), nil
	}
	if m := collectionSubRe.FindStringSubmatch(sub); m != nil {
		return h.handleCollectionSub(table, m[1], m[2], req)
	}
	return fail(), nil
}

func (h *SimHost) createItems(table string, values interface{}) (host.Response, []host.Notification) {
	type itemSpec struct {
		ID     string             `json:"id"`
		Values model.RecordValues `json:"values"`
	}
	var specs []itemSpec
	if err := coerce(values, &specs); err != nil {
		var single itemSpec
		if err := coerce(values, &single); err != nil {
			return fail(), nil
		}
		specs = []itemSpec{single}
	}
	for _, spec := range specs {
		id := spec.ID
		if id == "" {
			h.nextItemID++
			id = "i" + strconv.Itoa(h.nextItemID)
		}
		vals := spec.Values
		if vals == nil {
			vals = model.RecordValues{}
		}
		h.records[table] = append(h.records[table], model.Record{ID: id, Values: vals})
	}
	return ok(nil), []host.Notification{notice(table, model.OpRecordsCreated)}
}

func (h *SimHost) handleItemByID(table, id string, req host.Request) (host.Response, []host.Notification) {
	records := h.records[table]
	for i, r := range records {
		if r.ID != id {
			continue
		}
		switch req.Action {
		case host.ActionGet:
			return ok(r), nil
		case host.ActionUpdate:
			var values model.RecordValues
			if err := coerce(req.Values, &values); err != nil {
				return fail(), nil
			}
			updated := r.Clone()
			for k, v := range values {
				updated.Values[k] = v
			}
			h.records[table][i] = updated
			return ok(nil), []host.Notification{notice(table, model.OpRecordsUpdated)}
		case host.ActionDelete:
			h.records[table] = append(records[:i:i], records[i+1:]...)
			return ok(nil), []host.Notification{notice(table, model.OpRecordsDeleted)}
		}
	}
	return fail(), nil
}

func matchCriterion(r model.Record, criterion string) bool {
	if criterion == "*" {
		return true
	}
	m := searchCriterion.FindStringSubmatch(criterion)
	if m == nil {
		return false
	}
	attr, want := m[1], m[2]
	got, present := r.Values[attr]
	if want == "" {
		return !present || got == nil || fmt.Sprint(got) == ""
	}
	return present && fmt.Sprint(got) == want
}

func (h *SimHost) handleItemSearch(table, criterion string, req host.Request) (host.Response, []host.Notification) {
	var matched []model.Record
	var rest []model.Record
	for _, r := range h.records[table] {
		if matchCriterion(r, criterion) {
			matched = append(matched, r)
		} else {
			rest = append(rest, r)
		}
	}

	switch req.Action {
	case host.ActionGet:
		return ok(matched), nil
	case host.ActionNotify:
		var values map[string]interface{}
		if err := coerce(req.Values, &values); err != nil {
			return fail(), nil
		}
		if values["itemOrder"] == "last" {
			h.records[table] = append(rest, matched...)
			return ok(nil), []host.Notification{notice(table, model.OpRecordsMoved)}
		}
		return fail(), nil
	}
	return fail(), nil
}

func (h *SimHost) handleCollectionSub(table, collection, sub string, req host.Request) (host.Response, []host.Notification) {
	schema := h.schemas[table]
	coll := schema.FindCollection(collection)
	if coll == nil {
		return fail(), nil
	}

	switch {
	case sub == "attribute" && req.Action == host.ActionCreate:
		var attrs []model.Attribute
		if err := coerce(req.Values, &attrs); err != nil {
			var single model.Attribute
			if err := coerce(req.Values, &single); err != nil {
				return fail(), nil
			}
			attrs = []model.Attribute{single}
		}
		coll.Attrs = append(coll.Attrs, attrs...)
		return ok(nil), []host.Notification{notice(table, model.OpAttributesCreated)}

	case sub == "item" && req.Action == host.ActionCreate:
		return h.createItems(table, req.Values)
	}

	if m := attributeRe.FindStringSubmatch(sub); m != nil {
		return h.handleAttribute(table, coll, m[1], req)
	}
	if m := itemByIDRe.FindStringSubmatch(sub); m != nil {
		return h.handleItemByID(table, m[1], req)
	}
	if m := caseSearchRe.FindStringSubmatch(sub); m != nil {
		return h.handleCaseSearch(table, m[1])
	}
	if m := caseByIDRe.FindStringSubmatch(sub); m != nil {
		return h.handleCaseByID(table, m[1], req)
	}
	return fail(), nil
}

func (h *SimHost) handleAttribute(table string, coll *model.Collection, name string, req host.Request) (host.Response, []host.Notification) {
	for i, attr := range coll.Attrs {
		if attr.Name != name {
			continue
		}
		switch req.Action {
		case host.ActionGet:
			return ok(attr), nil
		case host.ActionUpdate:
			patch := attr.Clone()
			if err := coerce(req.Values, &patch); err != nil {
				return fail(), nil
			}
			coll.Attrs[i] = patch
			return ok(nil), []host.Notification{notice(table, model.OpAttributesUpdated)}
		case host.ActionDelete:
			coll.Attrs = append(coll.Attrs[:i:i], coll.Attrs[i+1:]...)
			return ok(nil), []host.Notification{notice(table, model.OpAttributesDeleted)}
		}
	}
	return fail(), nil
}

// Cases are the host's grouped view of rows: all rows sharing a collaborator
// key form one case. The simulation models a case per distinct key, and a
// case per ungrouped row for the empty-key search used by adoption.
func (h *SimHost) handleCaseSearch(table, criterion string) (host.Response, []host.Notification) {
	m := searchCriterion.FindStringSubmatch(criterion)
	if m == nil {
		return fail(), nil
	}
	attr, want := m[1], m[2]

	var cases []map[string]interface{}
	if want == "" {
		for _, r := range h.records[table] {
			if matchCriterion(r, criterion) {
				cases = append(cases, map[string]interface{}{"id": r.ID})
			}
		}
	} else {
		for _, r := range h.records[table] {
			if present := matchCriterion(r, attr+"=="+want); present {
				cases = append(cases, map[string]interface{}{"id": caseIDPrefix + want})
				break
			}
		}
	}
	return ok(cases), nil
}

func (h *SimHost) handleCaseByID(table, id string, req host.Request) (host.Response, []host.Notification) {
	if req.Action != host.ActionUpdate {
		return fail(), nil
	}
	var patch struct {
		Values model.RecordValues `json:"values"`
	}
	if err := coerce(req.Values, &patch); err != nil {
		return fail(), nil
	}

	if len(id) > len(caseIDPrefix) && id[:len(caseIDPrefix)] == caseIDPrefix {
		key := id[len(caseIDPrefix):]
		touched := false
		for i, r := range h.records[table] {
			if matchCriterion(r, model.CollaboratorKeyAttrName+"=="+key) {
				updated := r.Clone()
				for k, v := range patch.Values {
					updated.Values[k] = v
				}
				h.records[table][i] = updated
				touched = true
			}
		}
		if !touched {
			return fail(), nil
		}
		return ok(nil), []host.Notification{notice(table, model.OpRecordsUpdated)}
	}

	// ungrouped rows are addressed by their record id
	for i, r := range h.records[table] {
		if r.ID == id {
			updated := r.Clone()
			for k, v := range patch.Values {
				updated.Values[k] = v
			}
			h.records[table][i] = updated
			return ok(nil), []host.Notification{notice(table, model.OpRecordsUpdated)}
		}
	}
	return fail(), nil
}

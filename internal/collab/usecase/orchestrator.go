// Package usecase holds the synchronization orchestrator: the top-level state
// machine owning share lifecycle, debounced local pushes, and application of
// reconstructed remote streams into the host.
package usecase

import (
	"context"
	"sync"

	"collab-table/internal/collab/config"
	"collab-table/internal/collab/domain/model"
	"collab-table/internal/collab/host"
	"collab-table/internal/collab/reconcile"
	"collab-table/internal/collab/store"
	"collab-table/internal/collab/stream"
	"collab-table/internal/shared/errors"
	"collab-table/internal/shared/logger"
)

// State is the orchestrator's lifecycle state.
type State string

const (
	StateIdle    State = "IDLE"
	StateSharing State = "SHARING"
)

// PluginName identifies this plugin to the host frame.
const PluginName = "collab-table"

// Orchestrator drives one client's participation in at most one share at a
// time. All host and store traffic for the share funnels through it.
type Orchestrator struct {
	cfg  *config.Config
	host *host.Adapter
	rt   store.RealtimeStore
	log  logger.Logger

	mu       sync.Mutex
	state    State
	inFlight bool

	session *store.Session
	streams *stream.Reconstructor

	table   string
	isOwner bool
	key     string
	label   string

	saved    host.SaveState
	debounce *Debouncer
	cancels  []func()

	// suppress counts in-progress remote applications whose host
	// notifications must not feed back into a push.
	suppress int
}

// NewOrchestrator wires an orchestrator; it starts in IDLE.
func NewOrchestrator(cfg *config.Config, hostAdapter *host.Adapter, rt store.RealtimeStore, log logger.Logger) *Orchestrator {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewLogger()
	}
	return &Orchestrator{
		cfg:   cfg,
		host:  hostAdapter,
		rt:    rt,
		log:   log.WithComponent("sync-orchestrator"),
		state: StateIdle,
	}
}

// Start negotiates the plugin frame and restores the persisted session
// state. A first-run client gets a fresh personal key prefix, persisted
// immediately so record authorship stays stable across restarts.
func (o *Orchestrator) Start(ctx context.Context) (host.SaveState, error) {
	saved, err := o.host.Initialize(ctx, host.FrameConfig{
		Name: PluginName,
		Dimensions: host.Dimensions{
			Width:  o.cfg.InitialFrameWidth,
			Height: o.cfg.InitialFrameHeight,
		},
	})
	if err != nil {
		return host.SaveState{}, err
	}
	if saved.PersonalDataKeyPrefix == "" {
		saved.PersonalDataKeyPrefix = GenerateShareID(o.cfg.ShareCodeLength)
		if err := o.host.SaveState(ctx, *saved); err != nil {
			o.log.Warnf("could not persist fresh session state: %v", err)
		}
	}
	o.mu.Lock()
	o.saved = *saved
	o.mu.Unlock()
	return *saved, nil
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ShareID returns the active share's identifier, empty when idle.
func (o *Orchestrator) ShareID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return ""
	}
	return o.session.ShareID()
}

// begin takes the single-flight guard for a share lifecycle operation.
func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return errors.NewConflictError("a share operation is already in progress").
			WithCause(errors.ErrShareInProgress)
	}
	if o.state == StateSharing {
		return errors.NewConflictError("already part of a share; leave it first")
	}
	o.inFlight = true
	return nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.inFlight = false
	o.mu.Unlock()
}

// personalKey derives the acting user's collaborator key. The prefix keeps
// two users who picked the same display name from colliding.
func (o *Orchestrator) personalKey(label string) string {
	return o.saved.PersonalDataKeyPrefix + "-" + label
}

// InitiateShare creates a new share for the named table, or for a brand-new
// table when tableName is empty. Returns the share code to hand out.
func (o *Orchestrator) InitiateShare(ctx context.Context, tableName, personalDataLabel string) (string, error) {
	if err := o.begin(); err != nil {
		return "", err
	}
	defer o.end()

	key := o.personalKey(personalDataLabel)
	newTable := tableName == ""
	if newTable {
		schema, err := o.host.CreateSchema(ctx, personalDataLabel, nil)
		if err != nil {
			return "", err
		}
		tableName = schema.Name
		if err := o.host.OpenCaseTable(ctx, tableName); err != nil {
			o.log.Warnf("could not open case table: %v", err)
		}
	} else {
		schema, err := o.host.GetSchema(ctx, tableName)
		if err != nil {
			return "", err
		}
		if schema == nil {
			return "", errors.NewNotFoundError("table").WithDetail("table", tableName)
		}
	}

	if err := o.host.AddCollaborationCollections(ctx, tableName, key, personalDataLabel, newTable); err != nil {
		return "", err
	}

	shareID := GenerateShareID(o.cfg.ShareCodeLength)
	session, err := store.AttachSession(o.rt, shareID, personalDataLabel, o.log)
	if err != nil {
		return "", err
	}
	if err := session.RegisterPresence(ctx); err != nil {
		return "", err
	}

	schema, err := o.host.GetSchema(ctx, tableName)
	if err != nil {
		return "", err
	}
	if err := session.WriteSchema(ctx, schema.Sharable()); err != nil {
		return "", err
	}

	o.activate(session, tableName, key, personalDataLabel, true)
	if err := o.pushOwnRecords(ctx); err != nil {
		o.log.Warnf("initial record push failed: %v", err)
	}
	o.finishSetup(ctx, tableName, key, personalDataLabel)
	return shareID, nil
}

// JoinShare joins an existing share by code. When localTable names an
// existing table it is merged with the shared schema (initial join);
// otherwise a fresh local table is created from the shared schema. A bad
// code surfaces as a user-correctable input error.
func (o *Orchestrator) JoinShare(ctx context.Context, shareID, personalDataLabel, localTable string) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()

	session, err := store.AttachSession(o.rt, shareID, personalDataLabel, o.log)
	if err != nil {
		return err
	}
	entry, err := session.ReadEntry(ctx)
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.NewUserInputError("no share with that code").
				WithCause(errors.ErrShareNotFound).
				WithDetail("share_id", shareID)
		}
		return err
	}
	if entry.Schema == nil {
		return errors.NewUserInputError("share has no schema yet").WithDetail("share_id", shareID)
	}

	key := o.personalKey(personalDataLabel)
	tableName := localTable
	if localTable != "" {
		local, err := o.host.GetSchema(ctx, localTable)
		if err != nil {
			return err
		}
		if local == nil {
			return errors.NewNotFoundError("table").WithDetail("table", localTable)
		}
		if ops := reconcile.Reconcile(local, entry.Schema, true); len(ops) > 0 {
			if err := o.host.Apply(ctx, ops); err != nil {
				return err
			}
		}
		if err := o.host.AddCollaborationCollections(ctx, localTable, key, personalDataLabel, false); err != nil {
			return err
		}
	} else {
		created, err := o.host.CreateSchema(ctx, entry.Schema.Title, entry.Schema.Collections)
		if err != nil {
			return err
		}
		tableName = created.Name
		// the shared schema never carries the editability marker; backfill
		// it for the acting user before configuring the user case
		if err := o.host.AddEditableAttribute(ctx, tableName, key); err != nil {
			return err
		}
		if err := o.host.ConfigureUserCase(ctx, tableName, key, personalDataLabel, true); err != nil {
			return err
		}
		if err := o.host.OpenCaseTable(ctx, tableName); err != nil {
			o.log.Warnf("could not open case table: %v", err)
		}
	}

	if err := session.RegisterPresence(ctx); err != nil {
		return err
	}

	o.activate(session, tableName, key, personalDataLabel, false)
	o.finishSetup(ctx, tableName, key, personalDataLabel)
	return nil
}

// activate installs the session state and the machinery shared by initiate
// and join.
func (o *Orchestrator) activate(session *store.Session, table, key, label string, isOwner bool) {
	o.mu.Lock()
	o.session = session
	o.streams = stream.NewReconstructor(session, o.log)
	o.table = table
	o.key = key
	o.label = label
	o.isOwner = isOwner
	o.debounce = NewDebouncer(o.cfg.DebounceWindow)
	o.state = StateSharing
	o.mu.Unlock()
}

// finishSetup wires subscriptions, frame state, and persisted session state.
// Failures here degrade the session instead of aborting it.
func (o *Orchestrator) finishSetup(ctx context.Context, table, key, label string) {
	cancelLocal := o.host.SubscribeTableChanges(table, o.onLocalChange)
	o.addCancel(cancelLocal)

	if cancelSchema, err := o.session.SubscribeSchema(ctx, o.onRemoteSchema); err == nil {
		o.addCancel(cancelSchema)
	} else {
		o.log.Warnf("schema subscription failed: %v", err)
	}
	if cancelUsers, err := o.session.SubscribeUsers(ctx, o.onUserEvent); err == nil {
		o.addCancel(cancelUsers)
	} else {
		o.log.Warnf("user subscription failed: %v", err)
	}

	if err := o.host.ConfigureForSharing(ctx, table, key, true); err != nil {
		o.log.Warnf("could not configure frame for sharing: %v", err)
	}
	if err := o.host.ResizeFrame(ctx, o.cfg.SharingFrameWidth, o.cfg.SharingFrameHeight); err != nil {
		o.log.Warnf("could not resize frame: %v", err)
	}

	o.mu.Lock()
	o.saved.LastPersonalDataLabel = label
	o.saved.LastSelectedTable = table
	saved := o.saved
	o.mu.Unlock()
	if err := o.host.SaveState(ctx, saved); err != nil {
		o.log.Warnf("could not persist session state: %v", err)
	}
}

func (o *Orchestrator) addCancel(cancel func()) {
	o.mu.Lock()
	o.cancels = append(o.cancels, cancel)
	o.mu.Unlock()
}

// LeaveShare tears the active share down and returns to IDLE. Idempotent;
// operations already in flight settle harmlessly.
func (o *Orchestrator) LeaveShare(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateSharing {
		o.mu.Unlock()
		return nil
	}
	session := o.session
	streams := o.streams
	debounce := o.debounce
	cancels := o.cancels
	table := o.table
	o.session = nil
	o.streams = nil
	o.debounce = nil
	o.cancels = nil
	o.table = ""
	o.key = ""
	o.label = ""
	o.isOwner = false
	o.state = StateIdle
	o.mu.Unlock()

	if debounce != nil {
		debounce.Stop()
	}
	for _, cancel := range cancels {
		cancel()
	}
	if streams != nil {
		streams.Close()
	}
	if err := session.UnregisterPresence(ctx); err != nil {
		o.log.Warnf("could not unregister presence: %v", err)
	}
	if err := o.host.ConfigureForSharing(ctx, table, "", false); err != nil {
		o.log.Warnf("could not restore frame configuration: %v", err)
	}
	if err := o.host.ResizeFrame(ctx, o.cfg.InitialFrameWidth, o.cfg.InitialFrameHeight); err != nil {
		o.log.Warnf("could not restore frame size: %v", err)
	}
	return nil
}

// onLocalChange handles one host change notification for the shared table.
func (o *Orchestrator) onLocalChange(n model.ChangeNotification) {
	if n.Operation.IsSelectionOnly() {
		return
	}
	o.mu.Lock()
	if o.state != StateSharing || o.suppress > 0 {
		o.mu.Unlock()
		return
	}
	debounce := o.debounce
	o.mu.Unlock()

	debounce.Trigger(func() {
		if err := o.pushOwnRecords(context.Background()); err != nil {
			o.log.Warnf("push failed: %v", err)
		}
	})
}

// pushOwnRecords mirrors the acting user's full record set to the store, and
// refreshes the shared schema snapshot when this client owns it.
func (o *Orchestrator) pushOwnRecords(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateSharing {
		o.mu.Unlock()
		return nil
	}
	session := o.session
	table := o.table
	key := o.key
	isOwner := o.isOwner
	o.mu.Unlock()

	records, err := o.host.GetRecordsOfCollaborator(ctx, table, key)
	if err != nil {
		return err
	}
	if err := session.WriteUserRecords(ctx, model.FromRecords(records)); err != nil {
		return err
	}

	if isOwner {
		schema, err := o.host.GetSchema(ctx, table)
		if err != nil {
			return err
		}
		if schema != nil {
			if err := session.WriteSchema(ctx, schema.Sharable()); err != nil {
				return err
			}
		}
	}
	return nil
}

// onRemoteSchema re-reconciles the local schema against a remotely updated
// shared schema. The schema owner ignores these; it is the writer.
func (o *Orchestrator) onRemoteSchema(incoming *model.Schema) {
	o.mu.Lock()
	if o.state != StateSharing || o.isOwner || incoming == nil {
		o.mu.Unlock()
		return
	}
	table := o.table
	o.mu.Unlock()

	ctx := context.Background()
	local, err := o.host.GetSchema(ctx, table)
	if err != nil || local == nil {
		o.log.Warnf("could not read local schema for reconciliation: %v", err)
		return
	}
	ops := reconcile.Reconcile(local, incoming, false)
	if len(ops) == 0 {
		return
	}
	o.withSuppressedNotifications(func() {
		if err := o.host.Apply(ctx, ops); err != nil {
			o.log.Warnf("schema reconciliation rejected by host: %v", err)
		}
	})
}

// onUserEvent tracks which remote users have record slices and keeps one
// reconstructed stream per remote user.
func (o *Orchestrator) onUserEvent(e store.ChildEvent) {
	o.mu.Lock()
	if o.state != StateSharing || e.Key == o.label {
		o.mu.Unlock()
		return
	}
	streams := o.streams
	o.mu.Unlock()

	switch e.Kind {
	case store.ChildAdded:
		if err := streams.Register(context.Background(), e.Key, o.applyRemoteBatch); err != nil {
			o.log.Warnf("could not stream user %s: %v", e.Key, err)
		}
	case store.ChildRemoved:
		streams.Unregister(e.Key)
	}
}

// applyRemoteBatch mirrors one reconstructed remote batch into the host and
// keeps the acting user's own rows trailing the merge point.
func (o *Orchestrator) applyRemoteBatch(batch model.RecordBatch) {
	o.mu.Lock()
	if o.state != StateSharing {
		o.mu.Unlock()
		return
	}
	table := o.table
	key := o.key
	o.mu.Unlock()

	// a remote user's store keys are only unique within their own slice;
	// qualify them so they cannot collide with local record ids
	records := make([]model.Record, len(batch.Records))
	for i, r := range batch.Records {
		records[i] = model.Record{ID: batch.User + ":" + r.ID, Values: r.Values}
	}

	ctx := context.Background()
	o.withSuppressedNotifications(func() {
		var err error
		switch batch.Kind {
		case model.BatchAdded, model.BatchChanged:
			err = o.host.CreateOrUpdateRecords(ctx, table, records)
		case model.BatchRemoved:
			err = o.host.RemoveRecords(ctx, table, records)
		}
		if err != nil {
			o.log.WithFields(map[string]interface{}{
				"user": batch.User,
				"kind": batch.Kind,
			}).Warnf("remote batch rejected by host: %v", err)
			return
		}
		if err := o.host.ReorderUserRecordsToEnd(ctx, table, key); err != nil {
			o.log.Warnf("could not reorder own records: %v", err)
		}
	})
}

// withSuppressedNotifications runs fn while host notifications triggered by
// our own writes are ignored, breaking the remote-apply feedback loop.
func (o *Orchestrator) withSuppressedNotifications(fn func()) {
	o.mu.Lock()
	o.suppress++
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.suppress--
		o.mu.Unlock()
	}()
	fn()
}

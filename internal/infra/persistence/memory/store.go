// Package memory provides the in-memory transactional ledger store used
// directly in tests and ephemeral environments and embedded by the durable
// stores, which persist each commit's records through a commit hook.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"medichain/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Medicine aliases domain.Medicine.
	Medicine = domain.Medicine
	// Batch aliases domain.Batch.
	Batch = domain.Batch
	// TrackingEvent aliases domain.TrackingEvent.
	TrackingEvent = domain.TrackingEvent
	// Identity aliases domain.Identity.
	Identity = domain.Identity
	// RoleSet aliases domain.RoleSet.
	RoleSet = domain.RoleSet
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	medicines     map[string]Medicine
	medicineOrder []string
	batches       map[string]Batch
	history       map[string][]TrackingEvent
	inventory     map[Identity][]string
	roles         RoleSet
}

// Snapshot captures a point-in-time deep copy of the store state.
type Snapshot struct {
	Medicines     map[string]Medicine        `json:"medicines"`
	MedicineOrder []string                   `json:"medicine_order"`
	Batches       map[string]Batch           `json:"batches"`
	History       map[string][]TrackingEvent `json:"history"`
	Inventory     map[Identity][]string      `json:"inventory"`
	Roles         RoleSet                    `json:"roles"`
}

func newMemoryState() memoryState {
	return memoryState{
		medicines: make(map[string]Medicine),
		batches:   make(map[string]Batch),
		history:   make(map[string][]TrackingEvent),
		inventory: make(map[Identity][]string),
		roles:     domain.NewRoleSet(""),
	}
}

// clone copies the maps but shares slice backing arrays; every transactional
// write to a slice goes through slices.Clip so committed state is never
// written in place.
func (s memoryState) clone() memoryState {
	cloned := memoryState{
		medicines:     make(map[string]Medicine, len(s.medicines)),
		medicineOrder: slices.Clip(s.medicineOrder),
		batches:       make(map[string]Batch, len(s.batches)),
		history:       make(map[string][]TrackingEvent, len(s.history)),
		inventory:     make(map[Identity][]string, len(s.inventory)),
		roles:         s.roles.Clone(),
	}
	for k, v := range s.medicines {
		cloned.medicines[k] = v
	}
	for k, v := range s.batches {
		cloned.batches[k] = v
	}
	for k, v := range s.history {
		cloned.history[k] = slices.Clip(v)
	}
	for k, v := range s.inventory {
		cloned.inventory[k] = slices.Clip(v)
	}
	return cloned
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Medicines:     make(map[string]Medicine, len(state.medicines)),
		MedicineOrder: append([]string(nil), state.medicineOrder...),
		Batches:       make(map[string]Batch, len(state.batches)),
		History:       make(map[string][]TrackingEvent, len(state.history)),
		Inventory:     make(map[Identity][]string, len(state.inventory)),
		Roles:         state.roles.Clone(),
	}
	for k, v := range state.medicines {
		s.Medicines[k] = v
	}
	for k, v := range state.batches {
		s.Batches[k] = v
	}
	for k, v := range state.history {
		s.History[k] = append([]TrackingEvent(nil), v...)
	}
	for k, v := range state.inventory {
		s.Inventory[k] = append([]string(nil), v...)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Medicines {
		state.medicines[k] = v
	}
	state.medicineOrder = append([]string(nil), s.MedicineOrder...)
	for k, v := range s.Batches {
		state.batches[k] = v
	}
	for k, v := range s.History {
		state.history[k] = append([]TrackingEvent(nil), v...)
	}
	for k, v := range s.Inventory {
		if len(v) > 0 {
			state.inventory[k] = append([]string(nil), v...)
		}
	}
	state.roles = s.Roles.Clone()
	return state
}

// migrateSnapshot normalizes a snapshot loaded from durable storage: nil
// collections are initialised, the SKU order is reconciled with the medicine
// map, and the inventory index is rebuilt from batch ownership where the two
// disagree.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Medicines == nil {
		snapshot.Medicines = map[string]Medicine{}
	}
	if snapshot.Batches == nil {
		snapshot.Batches = map[string]Batch{}
	}
	if snapshot.History == nil {
		snapshot.History = map[string][]TrackingEvent{}
	}
	if snapshot.Inventory == nil {
		snapshot.Inventory = map[Identity][]string{}
	}
	if snapshot.Roles.Members == nil {
		fresh := domain.NewRoleSet(snapshot.Roles.Administrator)
		fresh.Renounced = snapshot.Roles.Renounced
		snapshot.Roles = fresh
	} else {
		for _, r := range domain.Roles {
			if snapshot.Roles.Members[r] == nil {
				snapshot.Roles.Members[r] = map[Identity]struct{}{}
			}
		}
	}

	seen := make(map[string]struct{}, len(snapshot.MedicineOrder))
	order := make([]string, 0, len(snapshot.Medicines))
	for _, sku := range snapshot.MedicineOrder {
		if _, ok := snapshot.Medicines[sku]; !ok {
			continue
		}
		if _, dup := seen[sku]; dup {
			continue
		}
		seen[sku] = struct{}{}
		order = append(order, sku)
	}
	var missing []string
	for sku := range snapshot.Medicines {
		if _, ok := seen[sku]; !ok {
			missing = append(missing, sku)
		}
	}
	sort.Strings(missing)
	snapshot.MedicineOrder = append(order, missing...)

	for id := range snapshot.History {
		if _, ok := snapshot.Batches[id]; !ok {
			delete(snapshot.History, id)
		}
	}

	indexed := make(map[string]struct{}, len(snapshot.Batches))
	for owner, ids := range snapshot.Inventory {
		kept, _ := filterIDs(ids, func(id string) bool {
			b, ok := snapshot.Batches[id]
			if !ok || b.CurrentOwner != owner {
				return false
			}
			if _, dup := indexed[id]; dup {
				return false
			}
			indexed[id] = struct{}{}
			return true
		})
		if len(kept) == 0 {
			delete(snapshot.Inventory, owner)
			continue
		}
		snapshot.Inventory[owner] = kept
	}
	var orphans []string
	for id := range snapshot.Batches {
		if _, ok := indexed[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	for _, id := range orphans {
		owner := snapshot.Batches[id].CurrentOwner
		snapshot.Inventory[owner] = append(snapshot.Inventory[owner], id)
	}
	return snapshot
}

func filterIDs(values []string, keep func(string) bool) ([]string, bool) {
	if len(values) == 0 {
		return values, false
	}
	filtered := make([]string, 0, len(values))
	changed := false
	for _, v := range values {
		if keep(v) {
			filtered = append(filtered, v)
			continue
		}
		changed = true
	}
	return filtered, changed
}

// Store provides an in-memory transactional store for the ledger. Writers are
// serialized by mu; readers observe only committed state.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	clock  domain.Clock
	commit CommitHook
}

// CommitHook receives the records a transaction changed. It runs under the
// write lock after every rule has passed and before the new state becomes
// visible; an error aborts the transaction.
type CommitHook func(ctx context.Context, records []Record) error

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the default monotonic wall clock.
func WithClock(clock domain.Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCommitHook makes every commit durable through hook.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) {
		s.commit = hook
	}
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		clock:  domain.NewMonotonicClock(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState deep-copies the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot. A clock
// that supports it is moved past the newest timestamp in the snapshot so new
// events never predate hydrated history.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
	if c, ok := s.clock.(interface{ AdvanceTo(time.Time) }); ok {
		c.AdvanceTo(snapshot.LatestTimestamp())
	}
}

// RulesEngine exposes the currently configured engine for integration points.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// Clock returns the time source used to stamp commits.
func (s *Store) Clock() domain.Clock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock
}

type transaction struct {
	store         *Store
	state         memoryState
	changes       []Change
	notifications []domain.Notification
	now           time.Time
	dirty         []string
	touched       map[string]struct{}
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListMedicines returns medicines in registration order.
func (v transactionView) ListMedicines() []Medicine {
	out := make([]Medicine, 0, len(v.state.medicineOrder))
	for _, sku := range v.state.medicineOrder {
		out = append(out, v.state.medicines[sku])
	}
	return out
}

// FindMedicine looks up a medicine by SKU.
func (v transactionView) FindMedicine(sku string) (Medicine, bool) {
	m, ok := v.state.medicines[sku]
	return m, ok
}

// FindBatch looks up a batch by id.
func (v transactionView) FindBatch(batchID string) (Batch, bool) {
	b, ok := v.state.batches[batchID]
	return b, ok
}

// ListBatches returns all batches ordered by id.
func (v transactionView) ListBatches() []Batch {
	out := make([]Batch, 0, len(v.state.batches))
	for _, b := range v.state.batches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID < out[j].BatchID })
	return out
}

// History returns a copy of the batch's events; nil when the batch is unknown.
func (v transactionView) History(batchID string) []TrackingEvent {
	events, ok := v.state.history[batchID]
	if !ok {
		return nil
	}
	return append([]TrackingEvent(nil), events...)
}

// Inventory returns a copy of the owner's batch ids, never nil.
func (v transactionView) Inventory(owner Identity) []string {
	return append([]string{}, v.state.inventory[owner]...)
}

// Roles returns a copy of the role set.
func (v transactionView) Roles() RoleSet {
	return v.state.roles.Clone()
}

// RunInTransaction applies fn to a private copy of the state, evaluates the
// rules engine over the recorded changes and swaps the copy in only when fn
// and every blocking rule succeed. A failed transaction leaves no trace.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.clock.Now(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.commit != nil && len(tx.dirty) > 0 {
		records := make([]Record, 0, len(tx.dirty))
		for _, key := range tx.dirty {
			rec, err := encodeRecord(&tx.state, key)
			if err != nil {
				return Result{}, err
			}
			records = append(records, rec)
		}
		if err := s.commit(ctx, records); err != nil {
			return Result{Violations: result.Violations}, fmt.Errorf("persist commit: %w", err)
		}
	}

	s.state = tx.state
	result.Notifications = tx.notifications
	return result, nil
}

// View executes fn against the committed state under the read lock.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(newTransactionView(&s.state))
}

// touch marks a record key as written by this transaction.
func (tx *transaction) touch(key string) {
	if tx.touched == nil {
		tx.touched = make(map[string]struct{})
	}
	if _, ok := tx.touched[key]; ok {
		return
	}
	tx.touched[key] = struct{}{}
	tx.dirty = append(tx.dirty, key)
}

func (tx *transaction) recordChange(entity domain.EntityType, action domain.Action, id string, before, after any) error {
	change := Change{Entity: entity, Action: action, ID: id}
	if before != nil {
		p, err := domain.NewChangePayloadFromValue(before)
		if err != nil {
			return fmt.Errorf("encode %s %s before: %w", entity, id, err)
		}
		change.Before = p
	}
	if after != nil {
		p, err := domain.NewChangePayloadFromValue(after)
		if err != nil {
			return fmt.Errorf("encode %s %s after: %w", entity, id, err)
		}
		change.After = p
	}
	tx.changes = append(tx.changes, change)
	return nil
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// Now returns the commit timestamp assigned to this transaction.
func (tx *transaction) Now() time.Time {
	return tx.now
}

// FindMedicine exposes medicine lookup within the transaction scope.
func (tx *transaction) FindMedicine(sku string) (Medicine, bool) {
	m, ok := tx.state.medicines[sku]
	return m, ok
}

// FindBatch exposes batch lookup within the transaction scope.
func (tx *transaction) FindBatch(batchID string) (Batch, bool) {
	b, ok := tx.state.batches[batchID]
	return b, ok
}

// Roles returns a copy of the in-flight role set.
func (tx *transaction) Roles() RoleSet {
	return tx.state.roles.Clone()
}

// CreateMedicine stores a new medicine definition.
func (tx *transaction) CreateMedicine(m Medicine) (Medicine, error) {
	if m.SKU == "" {
		return Medicine{}, domain.InvalidArgument("medicine sku required")
	}
	if _, exists := tx.state.medicines[m.SKU]; exists {
		return Medicine{}, domain.AlreadyExists(domain.EntityMedicine, m.SKU)
	}
	m.Exists = true
	m.RegisteredAt = tx.now
	tx.state.medicines[m.SKU] = m
	tx.state.medicineOrder = append(slices.Clip(tx.state.medicineOrder), m.SKU)
	tx.touch(MedicineKey(m.SKU))
	if err := tx.recordChange(domain.EntityMedicine, domain.ActionCreate, m.SKU, nil, m); err != nil {
		return Medicine{}, err
	}
	return m, nil
}

// CreateBatch stores a new batch record. History and inventory are written
// separately through AppendEvent and AddToInventory.
func (tx *transaction) CreateBatch(b Batch) (Batch, error) {
	if b.BatchID == "" {
		return Batch{}, domain.InvalidArgument("batch id required")
	}
	if _, exists := tx.state.batches[b.BatchID]; exists {
		return Batch{}, domain.AlreadyExists(domain.EntityBatch, b.BatchID)
	}
	b.Exists = true
	b.UpdatedAt = tx.now
	tx.state.batches[b.BatchID] = b
	tx.touch(BatchKey(b.BatchID))
	if err := tx.recordChange(domain.EntityBatch, domain.ActionCreate, b.BatchID, nil, b); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// UpdateBatch mutates a batch using the provided mutator function. The batch
// id and creation fields cannot be changed by the mutator.
func (tx *transaction) UpdateBatch(batchID string, mutator func(*Batch) error) (Batch, error) {
	current, ok := tx.state.batches[batchID]
	if !ok {
		return Batch{}, domain.NotFound(domain.EntityBatch, batchID)
	}
	before := current
	if err := mutator(&current); err != nil {
		return Batch{}, err
	}
	current.BatchID = before.BatchID
	current.MedicineSKU = before.MedicineSKU
	current.Quantity = before.Quantity
	current.MfgDate = before.MfgDate
	current.ExpiryDate = before.ExpiryDate
	current.Exists = true
	current.UpdatedAt = tx.now
	tx.state.batches[batchID] = current
	tx.touch(BatchKey(batchID))
	if err := tx.recordChange(domain.EntityBatch, domain.ActionUpdate, batchID, before, current); err != nil {
		return Batch{}, err
	}
	return current, nil
}

// AppendEvent seals and appends a tracking event to the batch history. The
// timestamp is always the transaction's commit time.
func (tx *transaction) AppendEvent(batchID string, event TrackingEvent) (TrackingEvent, error) {
	if _, ok := tx.state.batches[batchID]; !ok {
		return TrackingEvent{}, domain.NotFound(domain.EntityBatch, batchID)
	}
	events := tx.state.history[batchID]
	var prev *TrackingEvent
	if n := len(events); n > 0 {
		prev = &events[n-1]
	}
	event.Timestamp = tx.now
	sealed := domain.SealEvent(batchID, prev, event)
	tx.state.history[batchID] = append(slices.Clip(events), sealed)
	tx.touch(EventKey(batchID, sealed.Sequence))
	if err := tx.recordChange(domain.EntityTrackingEvent, domain.ActionAppend, batchID, nil, sealed); err != nil {
		return TrackingEvent{}, err
	}
	return sealed, nil
}

// AddToInventory appends batchID to owner's inventory entry.
func (tx *transaction) AddToInventory(owner Identity, batchID string) error {
	if owner.IsZero() {
		return domain.InvalidArgument("inventory owner cannot be the zero identity")
	}
	current := tx.state.inventory[owner]
	if slices.Contains(current, batchID) {
		return domain.AlreadyExists(domain.EntityInventory, fmt.Sprintf("%s/%s", owner, batchID))
	}
	tx.state.inventory[owner] = append(slices.Clip(current), batchID)
	tx.touch(InventoryKey(owner))
	return tx.recordChange(domain.EntityInventory, domain.ActionAppend, string(owner), nil, batchID)
}

// RemoveFromInventory removes batchID from owner's inventory entry,
// preserving the order of the remaining ids.
func (tx *transaction) RemoveFromInventory(owner Identity, batchID string) error {
	current := tx.state.inventory[owner]
	idx := slices.Index(current, batchID)
	if idx < 0 {
		return domain.NotFound(domain.EntityInventory, fmt.Sprintf("%s/%s", owner, batchID))
	}
	next := make([]string, 0, len(current)-1)
	next = append(next, current[:idx]...)
	next = append(next, current[idx+1:]...)
	if len(next) == 0 {
		delete(tx.state.inventory, owner)
	} else {
		tx.state.inventory[owner] = next
	}
	tx.touch(InventoryKey(owner))
	return tx.recordChange(domain.EntityInventory, domain.ActionRemove, string(owner), batchID, nil)
}

// SetRole grants or revokes a role.
func (tx *transaction) SetRole(id Identity, role domain.Role, enabled bool) error {
	if !role.Valid() {
		return domain.InvalidArgument("unknown role %q", role)
	}
	before := tx.state.roles.Has(id, role)
	if enabled {
		tx.state.roles.Members[role][id] = struct{}{}
	} else {
		delete(tx.state.roles.Members[role], id)
	}
	tx.touch(KeyRoles)
	return tx.recordChange(domain.EntityRole, domain.ActionUpdate, fmt.Sprintf("%s/%s", role, id), before, enabled)
}

// SetAdministrator installs id as administrator.
func (tx *transaction) SetAdministrator(id Identity) error {
	if tx.state.roles.Renounced {
		return domain.ErrAdministrationRequired
	}
	before := tx.state.roles.Administrator
	tx.state.roles.Administrator = id
	tx.touch(KeyRoles)
	return tx.recordChange(domain.EntityRole, domain.ActionUpdate, "administrator", before, id)
}

// RenounceAdministrator clears the administrator permanently.
func (tx *transaction) RenounceAdministrator() error {
	before := tx.state.roles.Administrator
	tx.state.roles.Administrator = ""
	tx.state.roles.Renounced = true
	tx.touch(KeyRoles)
	return tx.recordChange(domain.EntityRole, domain.ActionUpdate, "administrator", before, "")
}

// Emit queues a notification returned with the commit result.
func (tx *transaction) Emit(n domain.Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = tx.now
	}
	tx.notifications = append(tx.notifications, n)
}


package domain

import (
	"context"
	"time"
)

// Transaction exposes the primitive ledger mutations a persistence
// implementation must support within an atomic scope. Nothing written through
// a Transaction is visible outside it until the store commits.
type Transaction interface {
	Snapshot() TransactionView
	Now() time.Time
	FindMedicine(sku string) (Medicine, bool)
	FindBatch(batchID string) (Batch, bool)
	Roles() RoleSet
	CreateMedicine(Medicine) (Medicine, error)
	CreateBatch(Batch) (Batch, error)
	UpdateBatch(batchID string, mutator func(*Batch) error) (Batch, error)
	AppendEvent(batchID string, event TrackingEvent) (TrackingEvent, error)
	AddToInventory(owner Identity, batchID string) error
	RemoveFromInventory(owner Identity, batchID string) error
	SetRole(id Identity, role Role, enabled bool) error
	SetAdministrator(id Identity) error
	RenounceAdministrator() error
	Emit(Notification)
}

// TransactionView provides read-only access to committed or in-flight state.
type TransactionView interface {
	ListMedicines() []Medicine
	FindMedicine(sku string) (Medicine, bool)
	FindBatch(batchID string) (Batch, bool)
	ListBatches() []Batch
	History(batchID string) []TrackingEvent
	Inventory(owner Identity) []string
	Roles() RoleSet
}

// PersistentStore is the abstraction over the in-memory and durable backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	RulesEngine() *RulesEngine
}

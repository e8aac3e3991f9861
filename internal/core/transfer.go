package core

import (
	"context"
	"fmt"
	"time"

	"medichain/pkg/domain"
)

// GenesisTitle is the title of the first event of every batch history.
const GenesisTitle = "Batch Created"

// BatchInput describes a batch to manufacture.
type BatchInput struct {
	BatchID    string    `json:"batch_id" validate:"required,max=128,printascii"`
	SKU        string    `json:"sku" validate:"required"`
	Quantity   uint64    `json:"quantity" validate:"gt=0"`
	ExpiryDate time.Time `json:"expiry_date" validate:"required"`
	Location   string    `json:"location" validate:"max=256"`
}

// TransferInput describes a custody hand-off.
type TransferInput struct {
	BatchID     string      `json:"batch_id"`
	To          Identity    `json:"to"`
	Location    string      `json:"location" validate:"max=256"`
	Title       string      `json:"title" validate:"max=256"`
	Description string      `json:"description" validate:"max=2048"`
	NewStatus   BatchStatus `json:"new_status"`
}

// CreateBatch manufactures a batch owned by caller, records its genesis
// event and indexes it under the caller's inventory.
func (l *Ledger) CreateBatch(ctx context.Context, caller Identity, in BatchInput) (Batch, Result, error) {
	caller = caller.Normalize()
	var created Batch
	res, err := l.mutate(ctx, OpCreateBatch, caller, in.BatchID, func(tx Transaction) error {
		if !tx.Roles().Has(caller, domain.RoleManufacturer) {
			return domain.Unauthorized("%s is not a manufacturer", caller)
		}
		if _, ok := tx.FindMedicine(in.SKU); !ok {
			return domain.NotFound(domain.EntityMedicine, in.SKU)
		}
		if _, exists := tx.FindBatch(in.BatchID); exists {
			return domain.AlreadyExists(domain.EntityBatch, in.BatchID)
		}
		if err := l.validate.Struct(in); err != nil {
			return validationError(err)
		}
		mfg := tx.Now()
		if !in.ExpiryDate.After(mfg) {
			return domain.InvalidArgument("expiry %s must be after manufacture time %s",
				in.ExpiryDate.UTC().Format(time.RFC3339), mfg.Format(time.RFC3339))
		}

		var err error
		created, err = tx.CreateBatch(Batch{
			BatchID:      in.BatchID,
			MedicineSKU:  in.SKU,
			Quantity:     in.Quantity,
			MfgDate:      mfg,
			ExpiryDate:   in.ExpiryDate.UTC(),
			CurrentOwner: caller,
			Status:       domain.StatusCreated,
		})
		if err != nil {
			return err
		}
		if _, err := tx.AppendEvent(in.BatchID, TrackingEvent{
			Status:   domain.StatusCreated,
			Title:    GenesisTitle,
			Location: in.Location,
			Handler:  caller,
		}); err != nil {
			return err
		}
		if err := tx.AddToInventory(caller, in.BatchID); err != nil {
			return err
		}
		tx.Emit(domain.NewNotification(domain.NotifyBatchCreated, mfg, domain.BatchCreated{
			BatchID:  created.BatchID,
			SKU:      created.MedicineSKU,
			Owner:    caller,
			Quantity: created.Quantity,
		}))
		return nil
	})
	return created, res, err
}

// TransferBatch moves custody of a batch from caller to in.To and sets its
// status. Checks run in order: existence, ownership, arguments, transition.
func (l *Ledger) TransferBatch(ctx context.Context, caller Identity, in TransferInput) (Batch, Result, error) {
	caller = caller.Normalize()
	var updated Batch
	res, err := l.mutate(ctx, OpTransferBatch, caller, in.BatchID, func(tx Transaction) error {
		current, ok := tx.FindBatch(in.BatchID)
		if !ok {
			return domain.NotFound(domain.EntityBatch, in.BatchID)
		}
		if current.CurrentOwner != caller {
			return domain.Unauthorized("%s does not own batch %s", caller, in.BatchID)
		}
		if in.To.IsZero() {
			return domain.InvalidArgument("transfer recipient cannot be the zero identity")
		}
		to, err := parseArgIdentity("transfer recipient", in.To)
		if err != nil {
			return err
		}
		in.To = to
		if !in.NewStatus.Valid() {
			return domain.InvalidArgument("unknown batch status %d", uint8(in.NewStatus))
		}
		if err := l.validate.Struct(in); err != nil {
			return validationError(err)
		}
		now := tx.Now()
		if !domain.CanTransition(current.Status, in.NewStatus, now, current.ExpiryDate) {
			return domain.InvalidTransition(in.BatchID, current.Status, in.NewStatus)
		}

		updated, err = tx.UpdateBatch(in.BatchID, func(b *Batch) error {
			b.CurrentOwner = in.To
			b.Status = in.NewStatus
			return nil
		})
		if err != nil {
			return err
		}
		if _, err := tx.AppendEvent(in.BatchID, TrackingEvent{
			Status:      in.NewStatus,
			Title:       in.Title,
			Description: in.Description,
			Location:    in.Location,
			Handler:     caller,
		}); err != nil {
			return err
		}
		if in.To != caller {
			if err := tx.RemoveFromInventory(caller, in.BatchID); err != nil {
				return err
			}
			if err := tx.AddToInventory(in.To, in.BatchID); err != nil {
				return err
			}
		}
		tx.Emit(domain.NewNotification(domain.NotifyBatchTransferred, now, domain.BatchTransferred{
			BatchID:   in.BatchID,
			From:      caller,
			To:        in.To,
			NewStatus: in.NewStatus,
		}))
		tx.Emit(domain.NewNotification(domain.NotifyStatusUpdated, now, domain.StatusUpdated{
			BatchID:  in.BatchID,
			Status:   in.NewStatus,
			Location: in.Location,
		}))
		return nil
	})
	return updated, res, err
}

// GetBatch returns the current record of a batch.
func (l *Ledger) GetBatch(ctx context.Context, batchID string) (Batch, error) {
	var out Batch
	err := l.view(ctx, "get_batch", func(v TransactionView) error {
		b, ok := v.FindBatch(batchID)
		if !ok {
			return domain.NotFound(domain.EntityBatch, batchID)
		}
		out = b
		return nil
	})
	return out, err
}

// ListBatches returns every batch ordered by id.
func (l *Ledger) ListBatches(ctx context.Context) ([]Batch, error) {
	var out []Batch
	err := l.view(ctx, "list_batches", func(v TransactionView) error {
		out = v.ListBatches()
		return nil
	})
	return out, err
}

// GetBatchHistory returns the ordered custody events of a batch. An unknown
// batch is NotFound; a known batch always has at least its genesis event.
func (l *Ledger) GetBatchHistory(ctx context.Context, batchID string) ([]TrackingEvent, error) {
	var out []TrackingEvent
	err := l.view(ctx, "get_batch_history", func(v TransactionView) error {
		if _, ok := v.FindBatch(batchID); !ok {
			return domain.NotFound(domain.EntityBatch, batchID)
		}
		out = v.History(batchID)
		if len(out) == 0 {
			return fmt.Errorf("batch %s has no history", batchID)
		}
		return nil
	})
	return out, err
}

// BatchHistoryAt returns the event at index of a batch history.
func (l *Ledger) BatchHistoryAt(ctx context.Context, batchID string, index int) (TrackingEvent, error) {
	events, err := l.GetBatchHistory(ctx, batchID)
	if err != nil {
		return TrackingEvent{}, err
	}
	if index < 0 || index >= len(events) {
		return TrackingEvent{}, domain.NotFound(domain.EntityTrackingEvent, fmt.Sprintf("%s#%d", batchID, index))
	}
	return events[index], nil
}

// VerifyHistory recomputes the digest chain of a batch history.
func (l *Ledger) VerifyHistory(ctx context.Context, batchID string) error {
	events, err := l.GetBatchHistory(ctx, batchID)
	if err != nil {
		return err
	}
	return domain.VerifyHistory(batchID, events)
}

// GetMyInventory returns the ids of the batches owned by owner, in the order
// they were received. It is empty, never nil, for an identity with nothing.
func (l *Ledger) GetMyInventory(ctx context.Context, owner Identity) ([]string, error) {
	owner = owner.Normalize()
	var out []string
	err := l.view(ctx, "get_my_inventory", func(v TransactionView) error {
		out = v.Inventory(owner)
		return nil
	})
	return out, err
}

// InventoryAt returns the batch id at index of owner's inventory.
func (l *Ledger) InventoryAt(ctx context.Context, owner Identity, index int) (string, error) {
	ids, err := l.GetMyInventory(ctx, owner)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(ids) {
		return "", domain.NotFound(domain.EntityInventory, fmt.Sprintf("%s#%d", owner.Normalize(), index))
	}
	return ids[index], nil
}

package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"medichain/internal/core"
	"medichain/internal/infra/persistence/memory"
	"medichain/pkg/domain"
)

// rawStore exposes the primitive transaction so tests can attempt writes the
// ledger itself would never issue.
func rawStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore(core.NewDefaultRulesEngine(), memory.WithClock(newManualClock()))
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateMedicine(domain.Medicine{SKU: "AMX500", Name: "Amoxicillin"})
		return err
	})
	if err != nil {
		t.Fatalf("seed medicine: %v", err)
	}
	return store
}

func createRaw(tx domain.Transaction, id string, owner domain.Identity) error {
	if _, err := tx.CreateBatch(domain.Batch{
		BatchID:      id,
		MedicineSKU:  "AMX500",
		Quantity:     1,
		MfgDate:      tx.Now(),
		ExpiryDate:   tx.Now().Add(time.Hour),
		CurrentOwner: owner,
		Status:       domain.StatusCreated,
	}); err != nil {
		return err
	}
	if _, err := tx.AppendEvent(id, domain.TrackingEvent{Status: domain.StatusCreated, Handler: owner}); err != nil {
		return err
	}
	return tx.AddToInventory(owner, id)
}

func blockedBy(t *testing.T, err error, rule string) {
	t.Helper()
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	for _, v := range rv.Result.Violations {
		if v.Rule == rule && v.Severity == domain.SeverityBlock {
			return
		}
	}
	t.Fatalf("expected %s violation, got %+v", rule, rv.Result.Violations)
}

func TestDefaultRulesAcceptConsistentWrite(t *testing.T) {
	store := rawStore(t)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return createRaw(tx, "B-001", maker)
	})
	if err != nil {
		t.Fatalf("consistent write rejected: %v", err)
	}
}

func TestBatchTransitionRuleBlocksBadInitialStatus(t *testing.T) {
	store := rawStore(t)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateBatch(domain.Batch{BatchID: "B-001", MedicineSKU: "AMX500", Quantity: 1, MfgDate: tx.Now(), ExpiryDate: tx.Now().Add(time.Hour), CurrentOwner: maker, Status: domain.StatusDelivered}); err != nil {
			return err
		}
		if _, err := tx.AppendEvent("B-001", domain.TrackingEvent{Status: domain.StatusDelivered, Handler: maker}); err != nil {
			return err
		}
		return tx.AddToInventory(maker, "B-001")
	})
	blockedBy(t, err, "batch_transition")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition kind, got %v", err)
	}
}

func TestBatchTransitionRuleBlocksIllegalUpdate(t *testing.T) {
	store := rawStore(t)
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error { return createRaw(tx, "B-001", maker) }); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.UpdateBatch("B-001", func(b *domain.Batch) error {
			b.Status = domain.StatusDispensed
			return nil
		}); err != nil {
			return err
		}
		_, err := tx.AppendEvent("B-001", domain.TrackingEvent{Status: domain.StatusDispensed, Handler: maker})
		return err
	})
	blockedBy(t, err, "batch_transition")
}

func TestHistoryIntegrityRuleRequiresEvent(t *testing.T) {
	store := rawStore(t)
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error { return createRaw(tx, "B-001", maker) }); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateBatch("B-001", func(b *domain.Batch) error {
			b.Status = domain.StatusInTransit
			return nil
		})
		return err
	})
	blockedBy(t, err, "history_integrity")
}

func TestHistoryIntegrityRuleChecksLastStatus(t *testing.T) {
	store := rawStore(t)
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error { return createRaw(tx, "B-001", maker) }); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.UpdateBatch("B-001", func(b *domain.Batch) error {
			b.Status = domain.StatusInTransit
			return nil
		}); err != nil {
			return err
		}
		_, err := tx.AppendEvent("B-001", domain.TrackingEvent{Status: domain.StatusRecalled, Handler: maker})
		return err
	})
	blockedBy(t, err, "history_integrity")
}

func TestInventoryConsistencyRule(t *testing.T) {
	ctx := context.Background()
	t.Run("missing from owner", func(t *testing.T) {
		store := rawStore(t)
		_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if err := createRaw(tx, "B-001", maker); err != nil {
				return err
			}
			return tx.RemoveFromInventory(maker, "B-001")
		})
		blockedBy(t, err, "inventory_consistency")
	})
	t.Run("left with former holder", func(t *testing.T) {
		store := rawStore(t)
		if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error { return createRaw(tx, "B-001", maker) }); err != nil {
			t.Fatalf("create: %v", err)
		}
		_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if _, err := tx.UpdateBatch("B-001", func(b *domain.Batch) error {
				b.CurrentOwner = distributor
				b.Status = domain.StatusInTransit
				return nil
			}); err != nil {
				return err
			}
			if _, err := tx.AppendEvent("B-001", domain.TrackingEvent{Status: domain.StatusInTransit, Handler: maker}); err != nil {
				return err
			}
			return tx.AddToInventory(distributor, "B-001")
		})
		blockedBy(t, err, "inventory_consistency")
	})
	t.Run("unknown batch", func(t *testing.T) {
		store := rawStore(t)
		_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			return tx.AddToInventory(maker, "GHOST")
		})
		blockedBy(t, err, "inventory_consistency")
	})
}

func TestDefaultRulesEngineRegistersBuiltins(t *testing.T) {
	var names []string
	for _, r := range core.NewDefaultRulesEngine().Rules() {
		names = append(names, r.Name())
	}
	want := []string{"batch_transition", "history_integrity", "inventory_consistency"}
	if len(names) != len(want) {
		t.Fatalf("rules = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("rules = %v, want %v", names, want)
		}
	}
}

package core_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"medichain/internal/core"
	"medichain/internal/infra/persistence/memory"
	"medichain/pkg/domain"
)

var (
	admin       = domain.MustParseIdentity("0xa000000000000000000000000000000000000001")
	maker       = domain.MustParseIdentity("0xb000000000000000000000000000000000000002")
	distributor = domain.MustParseIdentity("0xc000000000000000000000000000000000000003")
	pharmacy    = domain.MustParseIdentity("0xd000000000000000000000000000000000000004")
	stranger    = domain.MustParseIdentity("0xe000000000000000000000000000000000000005")
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// manualClock returns a fixed instant until advanced.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock { return &manualClock{now: epoch} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ledger *core.Ledger
	clock  *manualClock
}

// newFixture bootstraps admin, grants the manufacturer role to maker and
// registers AMX500.
func newFixture(t *testing.T, opts ...core.LedgerOption) fixture {
	t.Helper()
	clock := newManualClock()
	ledger := core.NewInMemoryLedger(core.NewDefaultRulesEngine(), clock, opts...)
	ctx := context.Background()
	if _, err := ledger.Bootstrap(ctx, admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := ledger.SetManufacturer(ctx, admin, maker, true); err != nil {
		t.Fatalf("grant manufacturer: %v", err)
	}
	if _, _, err := ledger.RegisterMedicine(ctx, maker, core.MedicineInput{
		SKU:              "AMX500",
		Name:             "Amoxicillin 500mg",
		Category:         "Antibiotic",
		Dosage:           "500mg",
		ManufacturerName: "Acme Pharma",
	}); err != nil {
		t.Fatalf("register medicine: %v", err)
	}
	return fixture{ledger: ledger, clock: clock}
}

func (f fixture) createBatch(t *testing.T, id string) domain.Batch {
	t.Helper()
	b, _, err := f.ledger.CreateBatch(context.Background(), maker, core.BatchInput{
		BatchID:    id,
		SKU:        "AMX500",
		Quantity:   1000,
		ExpiryDate: f.clock.Now().Add(365 * 24 * time.Hour),
		Location:   "Factory A",
	})
	if err != nil {
		t.Fatalf("create batch %s: %v", id, err)
	}
	return b
}

func (f fixture) transfer(t *testing.T, caller domain.Identity, in core.TransferInput) domain.Batch {
	t.Helper()
	b, _, err := f.ledger.TransferBatch(context.Background(), caller, in)
	if err != nil {
		t.Fatalf("transfer %s to %s: %v", in.BatchID, in.NewStatus, err)
	}
	return b
}

func (f fixture) inventory(t *testing.T, id domain.Identity) []string {
	t.Helper()
	ids, err := f.ledger.GetMyInventory(context.Background(), id)
	if err != nil {
		t.Fatalf("inventory %s: %v", id, err)
	}
	return ids
}

func (f fixture) state(t *testing.T) memory.Snapshot {
	t.Helper()
	store, ok := f.ledger.Store().(*memory.Store)
	if !ok {
		t.Fatalf("unexpected store type %T", f.ledger.Store())
	}
	return store.ExportState()
}

// upperHex spells id with upper-case hex digits.
func upperHex(id domain.Identity) domain.Identity {
	return domain.Identity("0x" + strings.ToUpper(strings.TrimPrefix(string(id), "0x")))
}

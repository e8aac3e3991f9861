package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medichain/pkg/domain"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

var (
	maker  = domain.MustParseIdentity("0x1111111111111111111111111111111111111111")
	pharma = domain.MustParseIdentity("0x2222222222222222222222222222222222222222")
)

func newTestStore(t *testing.T, rules ...domain.Rule) *Store {
	t.Helper()
	engine := domain.NewRulesEngine()
	for _, r := range rules {
		engine.Register(r)
	}
	return NewStore(engine, WithClock(&fixedClock{t: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}))
}

func seedBatch(t *testing.T, s *Store, id string) {
	t.Helper()
	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, ok := tx.FindMedicine("AMX500"); !ok {
			if _, err := tx.CreateMedicine(Medicine{SKU: "AMX500", Name: "Amoxicillin"}); err != nil {
				return err
			}
		}
		if _, err := tx.CreateBatch(Batch{BatchID: id, MedicineSKU: "AMX500", Quantity: 10, CurrentOwner: maker, ExpiryDate: tx.Now().Add(time.Hour)}); err != nil {
			return err
		}
		if _, err := tx.AppendEvent(id, TrackingEvent{Status: domain.StatusCreated, Handler: maker}); err != nil {
			return err
		}
		return tx.AddToInventory(maker, id)
	})
	require.NoError(t, err)
}

func TestRunInTransactionCommitsAllViews(t *testing.T) {
	s := newTestStore(t)
	seedBatch(t, s, "B-001")

	require.NoError(t, s.View(context.Background(), func(v TransactionView) error {
		meds := v.ListMedicines()
		require.Len(t, meds, 1)
		assert.True(t, meds[0].Exists)

		b, ok := v.FindBatch("B-001")
		require.True(t, ok)
		assert.Equal(t, maker, b.CurrentOwner)
		assert.False(t, b.UpdatedAt.IsZero())

		history := v.History("B-001")
		require.Len(t, history, 1)
		assert.Equal(t, b.UpdatedAt, history[0].Timestamp)
		assert.NoError(t, domain.VerifyHistory("B-001", history))

		assert.Equal(t, []string{"B-001"}, v.Inventory(maker))
		assert.Empty(t, v.Inventory(pharma))
		assert.Nil(t, v.History("missing"))
		return nil
	}))
}

func TestRunInTransactionDiscardsOnError(t *testing.T) {
	s := newTestStore(t)
	seedBatch(t, s, "B-001")
	before := s.ExportState()

	boom := errors.New("boom")
	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.UpdateBatch("B-001", func(b *Batch) error {
			b.CurrentOwner = pharma
			b.Status = domain.StatusInTransit
			return nil
		}); err != nil {
			return err
		}
		if _, err := tx.AppendEvent("B-001", TrackingEvent{Status: domain.StatusInTransit}); err != nil {
			return err
		}
		if err := tx.RemoveFromInventory(maker, "B-001"); err != nil {
			return err
		}
		if err := tx.AddToInventory(pharma, "B-001"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, before, s.ExportState())
}

type blockAll struct{}

func (blockAll) Name() string { return "block_all" }

func (blockAll) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range changes {
		if c.Entity == domain.EntityBatch && c.Action == domain.ActionUpdate {
			res.Violations = append(res.Violations, domain.Violation{
				Rule: "block_all", Severity: domain.SeverityBlock, Kind: domain.KindInvalidTransition, Entity: c.Entity, EntityID: c.ID,
			})
		}
	}
	return res, nil
}

func TestBlockingRuleRollsBack(t *testing.T) {
	s := newTestStore(t, blockAll{})
	seedBatch(t, s, "B-001")
	before := s.ExportState()

	res, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.UpdateBatch("B-001", func(b *Batch) error {
			b.Status = domain.StatusRecalled
			return nil
		})
		return err
	})
	var violation domain.RuleViolationError
	require.ErrorAs(t, err, &violation)
	assert.True(t, res.HasBlocking())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, before, s.ExportState())
}

func TestCreateDuplicatesRejected(t *testing.T) {
	s := newTestStore(t)
	seedBatch(t, s, "B-001")
	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateMedicine(Medicine{SKU: "AMX500"})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = s.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateBatch(Batch{BatchID: "B-001"})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = s.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.AddToInventory(maker, "B-001")
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestUpdateBatchKeepsImmutableFields(t *testing.T) {
	s := newTestStore(t)
	seedBatch(t, s, "B-001")
	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.UpdateBatch("B-001", func(b *Batch) error {
			b.BatchID = "other"
			b.Quantity = 99
			b.Status = domain.StatusInTransit
			return nil
		})
		return err
	})
	require.NoError(t, err)
	require.NoError(t, s.View(context.Background(), func(v TransactionView) error {
		b, ok := v.FindBatch("B-001")
		require.True(t, ok)
		assert.Equal(t, uint64(10), b.Quantity)
		assert.Equal(t, domain.StatusInTransit, b.Status)
		_, ok = v.FindBatch("other")
		assert.False(t, ok)
		return nil
	}))
}

func TestInventoryRemovePreservesOrder(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"B-1", "B-2", "B-3"} {
		seedBatch(t, s, id)
	}
	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.RemoveFromInventory(maker, "B-2")
	})
	require.NoError(t, err)
	require.NoError(t, s.View(context.Background(), func(v TransactionView) error {
		assert.Equal(t, []string{"B-1", "B-3"}, v.Inventory(maker))
		return nil
	}))

	_, err = s.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.RemoveFromInventory(pharma, "B-1")
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCommittedHistoryNotAliasedByLaterTransactions(t *testing.T) {
	s := newTestStore(t)
	seedBatch(t, s, "B-001")
	var held []TrackingEvent
	require.NoError(t, s.View(context.Background(), func(v TransactionView) error {
		held = v.History("B-001")
		return nil
	}))
	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.AppendEvent("B-001", TrackingEvent{Status: domain.StatusInTransit, Title: "leg"})
		if err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)
	require.Len(t, held, 1)
	require.NoError(t, s.View(context.Background(), func(v TransactionView) error {
		assert.Len(t, v.History("B-001"), 1)
		return nil
	}))
}

func TestRolesAndAdministrator(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		if err := tx.SetAdministrator(maker); err != nil {
			return err
		}
		if err := tx.SetRole(pharma, domain.RolePharmacy, true); err != nil {
			return err
		}
		return tx.SetRole(pharma, domain.Role("courier"), true)
	})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = s.RunInTransaction(context.Background(), func(tx Transaction) error {
		if err := tx.SetAdministrator(maker); err != nil {
			return err
		}
		return tx.SetRole(pharma, domain.RolePharmacy, true)
	})
	require.NoError(t, err)

	_, err = s.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.RenounceAdministrator()
	})
	require.NoError(t, err)

	_, err = s.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.SetAdministrator(pharma)
	})
	require.ErrorIs(t, err, domain.ErrAdministrationRequired)

	require.NoError(t, s.View(context.Background(), func(v TransactionView) error {
		rs := v.Roles()
		assert.True(t, rs.Renounced)
		assert.True(t, rs.Administrator.IsZero())
		assert.True(t, rs.Has(pharma, domain.RolePharmacy))
		return nil
	}))
}

func TestNotificationsAttachedOnCommitOnly(t *testing.T) {
	s := newTestStore(t)
	res, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		tx.Emit(domain.NewNotification(domain.NotifyRoleUpdated, time.Time{}, domain.RoleUpdated{Identity: pharma}))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, res.Notifications, 1)
	assert.False(t, res.Notifications[0].Timestamp.IsZero())

	res, err = s.RunInTransaction(context.Background(), func(tx Transaction) error {
		tx.Emit(domain.NewNotification(domain.NotifyRoleUpdated, time.Time{}, nil))
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Empty(t, res.Notifications)
}

func TestChangesRecorded(t *testing.T) {
	var seen []domain.Change
	s := newTestStore(t, recorder{out: &seen})
	seedBatch(t, s, "B-001")
	require.Len(t, seen, 4)
	assert.Equal(t, domain.EntityMedicine, seen[0].Entity)
	assert.Equal(t, domain.EntityBatch, seen[1].Entity)
	assert.Equal(t, domain.EntityTrackingEvent, seen[2].Entity)
	assert.Equal(t, domain.EntityInventory, seen[3].Entity)

	ev, ok := domain.DecodeChangePayload[TrackingEvent](seen[2].After)
	require.True(t, ok)
	assert.Equal(t, 0, ev.Sequence)
	assert.NotEmpty(t, ev.Digest)
}

type recorder struct{ out *[]domain.Change }

func (recorder) Name() string { return "recorder" }

func (r recorder) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	*r.out = append([]domain.Change(nil), changes...)
	return domain.Result{}, nil
}

func TestCommitHookReceivesTouchedRecordsOnly(t *testing.T) {
	var commits [][]string
	s := NewStore(domain.NewRulesEngine(), WithCommitHook(func(_ context.Context, records []Record) error {
		keys := make([]string, 0, len(records))
		for _, rec := range records {
			require.NotEmpty(t, rec.Payload)
			keys = append(keys, rec.Key)
		}
		commits = append(commits, keys)
		return nil
	}))
	seedBatch(t, s, "B-001")

	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.UpdateBatch("B-001", func(b *Batch) error {
			b.CurrentOwner = pharma
			return nil
		}); err != nil {
			return err
		}
		if _, err := tx.AppendEvent("B-001", TrackingEvent{Status: domain.StatusInTransit, Handler: maker}); err != nil {
			return err
		}
		if err := tx.RemoveFromInventory(maker, "B-001"); err != nil {
			return err
		}
		return tx.AddToInventory(pharma, "B-001")
	})
	require.NoError(t, err)

	_, err = s.RunInTransaction(context.Background(), func(Transaction) error { return nil })
	require.NoError(t, err)

	require.Len(t, commits, 2)
	assert.Equal(t, []string{"medicine/AMX500", "batch/B-001", "event/B-001/00000000", InventoryKey(maker)}, commits[0])
	assert.Equal(t, []string{"batch/B-001", "event/B-001/00000001", InventoryKey(maker), InventoryKey(pharma)}, commits[1])
}

func TestCommitHookFailureKeepsPreviousState(t *testing.T) {
	fail := false
	s := NewStore(domain.NewRulesEngine(), WithCommitHook(func(context.Context, []Record) error {
		if fail {
			return errors.New("disk full")
		}
		return nil
	}))
	seedBatch(t, s, "B-001")
	before := s.ExportState()

	fail = true
	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateMedicine(Medicine{SKU: "GHOST"})
		return err
	})
	require.ErrorContains(t, err, "persist commit: disk full")
	assert.Equal(t, before, s.ExportState())
}

func TestCommitHookSkippedForBlockedTransaction(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockAll{})
	calls := 0
	s := NewStore(engine, WithCommitHook(func(context.Context, []Record) error {
		calls++
		return nil
	}))
	seedBatch(t, s, "B-001")
	require.Equal(t, 1, calls)

	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.UpdateBatch("B-001", func(b *Batch) error {
			b.Status = domain.StatusInTransit
			return nil
		})
		return err
	})
	var violation domain.RuleViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, 1, calls)
}

func TestSnapshotRecordsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedBatch(t, s, "B-002")
	seedBatch(t, s, "B-001")
	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.CreateMedicine(Medicine{SKU: "AAA100", Name: "Aspirin"}); err != nil {
			return err
		}
		return tx.RemoveFromInventory(maker, "B-002")
	})
	require.NoError(t, err)
	want := s.ExportState()

	records, err := SnapshotRecords(want)
	require.NoError(t, err)
	got, err := SnapshotFromRecords(records)
	require.NoError(t, err)

	assert.Equal(t, []string{"AMX500", "AAA100"}, got.MedicineOrder)
	assert.Equal(t, want.Inventory, got.Inventory)
	assert.Len(t, got.History, 2)
	assert.NoError(t, domain.VerifyHistory("B-001", got.History["B-001"]))
	assert.True(t, got.LatestTimestamp().Equal(want.LatestTimestamp()))

	_, err = SnapshotFromRecords([]Record{{Key: "event/B-001/x", Payload: []byte("{}")}})
	assert.ErrorContains(t, err, "malformed event key")
	_, err = SnapshotFromRecords([]Record{{Key: "ledger-v0", Payload: []byte("{}")}})
	assert.ErrorContains(t, err, "unknown record key")
}

func TestImportStateAdvancesMonotonicClock(t *testing.T) {
	src := newTestStore(t)
	seedBatch(t, src, "B-001")
	snap := src.ExportState()

	past := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(domain.NewRulesEngine(), WithClock(domain.NewMonotonicClock(func() time.Time { return past })))
	s.ImportState(snap)
	assert.True(t, s.Clock().Now().After(snap.LatestTimestamp()))
}

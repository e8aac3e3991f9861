package core

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"medichain/pkg/domain"
)

const inventoryConsistencyRuleName = "inventory_consistency"

// InventoryConsistencyRule blocks commits after which a touched batch is not
// listed exactly once, and only, under its current owner.
func InventoryConsistencyRule() domain.Rule {
	return inventoryConsistencyRule{}
}

type inventoryConsistencyRule struct{}

func (inventoryConsistencyRule) Name() string { return inventoryConsistencyRuleName }

func (inventoryConsistencyRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	// batch id -> identities whose inventory may mention it
	owners := map[string]map[domain.Identity]struct{}{}
	note := func(batchID string, id domain.Identity) {
		if batchID == "" {
			return
		}
		set, ok := owners[batchID]
		if !ok {
			set = map[domain.Identity]struct{}{}
			owners[batchID] = set
		}
		if !id.IsZero() {
			set[id] = struct{}{}
		}
	}
	for _, change := range changes {
		switch change.Entity {
		case domain.EntityBatch:
			if after, ok := domain.DecodeChangePayload[domain.Batch](change.After); ok {
				note(after.BatchID, after.CurrentOwner)
			}
			if before, ok := domain.DecodeChangePayload[domain.Batch](change.Before); ok {
				note(before.BatchID, before.CurrentOwner)
			}
		case domain.EntityInventory:
			owner := domain.Identity(change.ID)
			if id, ok := domain.DecodeChangePayload[string](change.After); ok {
				note(id, owner)
			}
			if id, ok := domain.DecodeChangePayload[string](change.Before); ok {
				note(id, owner)
			}
		}
	}

	ids := make([]string, 0, len(owners))
	for id := range owners {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	block := func(id, msg string) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     inventoryConsistencyRuleName,
			Severity: domain.SeverityBlock,
			Kind:     domain.KindInvalidArgument,
			Message:  msg,
			Entity:   domain.EntityInventory,
			EntityID: id,
		})
	}
	for _, id := range ids {
		batch, ok := view.FindBatch(id)
		if !ok {
			block(id, fmt.Sprintf("inventory references unknown batch %s", id))
			continue
		}
		listed := 0
		for _, held := range view.Inventory(batch.CurrentOwner) {
			if held == id {
				listed++
			}
		}
		if listed != 1 {
			block(id, fmt.Sprintf("batch %s listed %d times under its owner %s", id, listed, batch.CurrentOwner))
			continue
		}
		for other := range owners[id] {
			if other == batch.CurrentOwner {
				continue
			}
			if slices.Contains(view.Inventory(other), id) {
				block(id, fmt.Sprintf("batch %s still listed under former holder %s", id, other))
			}
		}
	}
	return res, nil
}

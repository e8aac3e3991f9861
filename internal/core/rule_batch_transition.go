package core

import (
	"context"
	"fmt"

	"medichain/pkg/domain"
)

const batchTransitionRuleName = "batch_transition"

// BatchTransitionRule blocks batch writes that do not follow the transition
// table: new batches must start in Created with an expiry after manufacture,
// and every status change must be a permitted edge at the time it commits.
func BatchTransitionRule() domain.Rule {
	return batchTransitionRule{}
}

type batchTransitionRule struct{}

func (batchTransitionRule) Name() string { return batchTransitionRuleName }

func (batchTransitionRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	block := func(id, msg string) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     batchTransitionRuleName,
			Severity: domain.SeverityBlock,
			Kind:     domain.KindInvalidTransition,
			Message:  msg,
			Entity:   domain.EntityBatch,
			EntityID: id,
		})
	}
	for _, change := range changes {
		if change.Entity != domain.EntityBatch {
			continue
		}
		after, ok := domain.DecodeChangePayload[domain.Batch](change.After)
		if !ok {
			continue
		}
		switch change.Action {
		case domain.ActionCreate:
			if after.Status != domain.StatusCreated {
				block(after.BatchID, fmt.Sprintf("batch %s must start in %s, not %s", after.BatchID, domain.StatusCreated, after.Status))
			}
			if !after.ExpiryDate.After(after.MfgDate) {
				block(after.BatchID, fmt.Sprintf("batch %s expires before it is manufactured", after.BatchID))
			}
		case domain.ActionUpdate:
			before, ok := domain.DecodeChangePayload[domain.Batch](change.Before)
			if !ok {
				continue
			}
			if before.Status == after.Status && before.CurrentOwner == after.CurrentOwner {
				continue
			}
			if !domain.CanTransition(before.Status, after.Status, after.UpdatedAt, before.ExpiryDate) {
				block(after.BatchID, fmt.Sprintf("batch %s cannot move from %s to %s", after.BatchID, before.Status, after.Status))
			}
		}
	}
	return res, nil
}

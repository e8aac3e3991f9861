package core

import (
	"context"
	"fmt"
	"sort"

	"medichain/pkg/domain"
)

const historyIntegrityRuleName = "history_integrity"

// HistoryIntegrityRule requires every batch write to append exactly one
// tracking event, keeps the last event's status equal to the batch status and
// checks the digest links of the events appended in the transaction.
func HistoryIntegrityRule() domain.Rule {
	return historyIntegrityRule{}
}

type historyIntegrityRule struct{}

func (historyIntegrityRule) Name() string { return historyIntegrityRuleName }

func (historyIntegrityRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	writes := map[string]int{}
	appends := map[string]int{}
	for _, change := range changes {
		switch {
		case change.Entity == domain.EntityBatch && (change.Action == domain.ActionCreate || change.Action == domain.ActionUpdate):
			writes[change.ID]++
		case change.Entity == domain.EntityTrackingEvent && change.Action == domain.ActionAppend:
			appends[change.ID]++
		}
	}
	touched := make([]string, 0, len(writes)+len(appends))
	for id := range writes {
		touched = append(touched, id)
	}
	for id := range appends {
		if _, ok := writes[id]; !ok {
			touched = append(touched, id)
		}
	}
	sort.Strings(touched)

	block := func(id, msg string) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     historyIntegrityRuleName,
			Severity: domain.SeverityBlock,
			Kind:     domain.KindInvalidArgument,
			Message:  msg,
			Entity:   domain.EntityTrackingEvent,
			EntityID: id,
		})
	}
	for _, id := range touched {
		if writes[id] != appends[id] {
			block(id, fmt.Sprintf("batch %s: %d batch writes but %d history events", id, writes[id], appends[id]))
			continue
		}
		batch, ok := view.FindBatch(id)
		if !ok {
			block(id, fmt.Sprintf("history appended for unknown batch %s", id))
			continue
		}
		events := view.History(id)
		if len(events) == 0 {
			block(id, fmt.Sprintf("batch %s has no history", id))
			continue
		}
		last := events[len(events)-1]
		if last.Status != batch.Status {
			block(id, fmt.Sprintf("batch %s is %s but its last event records %s", id, batch.Status, last.Status))
			continue
		}
		if err := verifyTail(id, events, appends[id]); err != nil {
			block(id, err.Error())
		}
	}
	return res, nil
}

// verifyTail checks only the n most recent events so the cost of a commit
// does not grow with the length of the history.
func verifyTail(batchID string, events []domain.TrackingEvent, n int) error {
	start := len(events) - n
	if start < 0 {
		start = 0
	}
	for i := start; i < len(events); i++ {
		ev := events[i]
		prev := domain.GenesisDigest
		if i > 0 {
			prev = events[i-1].Digest
			if ev.Timestamp.Before(events[i-1].Timestamp) {
				return fmt.Errorf("history %s: event %d timestamp goes backwards", batchID, i)
			}
		}
		if ev.Sequence != i || ev.PrevDigest != prev {
			return fmt.Errorf("history %s: event %d does not link to its predecessor", batchID, i)
		}
		if domain.ComputeDigest(batchID, ev) != ev.Digest {
			return fmt.Errorf("history %s: event %d digest mismatch", batchID, i)
		}
	}
	return nil
}

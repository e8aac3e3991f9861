package domain

import "time"

// transitionTable lists every permitted (from, to) edge except the
// clock-gated move into StatusExpired. Anything absent is rejected.
var transitionTable = map[BatchStatus]map[BatchStatus]struct{}{
	StatusCreated: {
		StatusInTransit: {},
		StatusRecalled:  {},
	},
	StatusInTransit: {
		StatusInTransit:  {},
		StatusDelivered:  {},
		StatusAtPharmacy: {},
		StatusRecalled:   {},
	},
	StatusDelivered: {
		StatusInTransit:  {},
		StatusAtPharmacy: {},
		StatusRecalled:   {},
	},
	StatusAtPharmacy: {
		StatusInTransit: {},
		StatusDispensed: {},
		StatusRecalled:  {},
	},
}

// IsTerminal reports whether no transition may leave s.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case StatusDispensed, StatusExpired, StatusRecalled:
		return true
	}
	return false
}

// CanTransition consults the transition table. The move into StatusExpired is
// allowed from any non-terminal state once now has reached expiry.
func CanTransition(from, to BatchStatus, now, expiry time.Time) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	if to == StatusExpired {
		return !now.Before(expiry)
	}
	_, ok := transitionTable[from][to]
	return ok
}

// NextStatuses lists the statuses reachable from s at time now, in ordinal order.
func NextStatuses(s BatchStatus, now, expiry time.Time) []BatchStatus {
	var out []BatchStatus
	for i := range statusNames {
		to := BatchStatus(i)
		if CanTransition(s, to, now, expiry) {
			out = append(out, to)
		}
	}
	return out
}

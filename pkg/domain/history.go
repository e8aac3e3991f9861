package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GenesisDigest is the PrevDigest of the first event of every history.
const GenesisDigest = ""

// ComputeDigest hashes the event fields together with the previous digest.
// The Digest field itself is ignored.
func ComputeDigest(batchID string, ev TrackingEvent) string {
	var b strings.Builder
	for _, part := range []string{
		batchID,
		strconv.Itoa(ev.Sequence),
		ev.Status.String(),
		ev.Title,
		ev.Description,
		ev.Location,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		string(ev.Handler),
		ev.PrevDigest,
	} {
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// SealEvent links ev after prev (nil for the genesis event) and fills in its
// sequence and digests.
func SealEvent(batchID string, prev *TrackingEvent, ev TrackingEvent) TrackingEvent {
	ev.Sequence = 0
	ev.PrevDigest = GenesisDigest
	if prev != nil {
		ev.Sequence = prev.Sequence + 1
		ev.PrevDigest = prev.Digest
	}
	ev.Digest = ComputeDigest(batchID, ev)
	return ev
}

// VerifyHistory checks sequence numbering, digest linkage and timestamp order.
func VerifyHistory(batchID string, events []TrackingEvent) error {
	if len(events) == 0 {
		return NotFound(EntityTrackingEvent, batchID)
	}
	prevDigest := GenesisDigest
	var prevTime time.Time
	for i, ev := range events {
		if ev.Sequence != i {
			return fmt.Errorf("history %s: event %d has sequence %d", batchID, i, ev.Sequence)
		}
		if ev.PrevDigest != prevDigest {
			return fmt.Errorf("history %s: event %d does not link to its predecessor", batchID, i)
		}
		if got := ComputeDigest(batchID, ev); got != ev.Digest {
			return fmt.Errorf("history %s: event %d digest mismatch", batchID, i)
		}
		if i > 0 && ev.Timestamp.Before(prevTime) {
			return fmt.Errorf("history %s: event %d timestamp goes backwards", batchID, i)
		}
		prevDigest = ev.Digest
		prevTime = ev.Timestamp
	}
	return nil
}

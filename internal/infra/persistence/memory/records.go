package memory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Record is one durable key of the ledger state. Durable stores persist
// records as opaque key/payload pairs and hand them back on open.
type Record struct {
	Key     string
	Payload []byte
}

// Record key layout. Every tracking event has its own key so a transfer
// writes one event rather than the batch's whole history.
const (
	prefixMedicine  = "medicine/"
	prefixBatch     = "batch/"
	prefixEvent     = "event/"
	prefixInventory = "inventory/"
	// KeyRoles holds the role sets and administrator.
	KeyRoles = "roles"
)

// MedicineKey is the record key of a medicine.
func MedicineKey(sku string) string { return prefixMedicine + sku }

// BatchKey is the record key of a batch.
func BatchKey(batchID string) string { return prefixBatch + batchID }

// EventKey is the record key of the event at seq in a batch history.
func EventKey(batchID string, seq int) string {
	return fmt.Sprintf("%s%s/%08d", prefixEvent, batchID, seq)
}

// InventoryKey is the record key of an owner's inventory.
func InventoryKey(owner Identity) string { return prefixInventory + string(owner) }

type medicineRecord struct {
	Position int      `json:"position"`
	Medicine Medicine `json:"medicine"`
}

func encodeRecord(state *memoryState, key string) (Record, error) {
	var v any
	switch {
	case key == KeyRoles:
		v = state.roles
	case strings.HasPrefix(key, prefixMedicine):
		sku := strings.TrimPrefix(key, prefixMedicine)
		// new SKUs are appended, so the scan ends on the first step
		pos := len(state.medicineOrder) - 1
		for pos >= 0 && state.medicineOrder[pos] != sku {
			pos--
		}
		v = medicineRecord{Position: pos, Medicine: state.medicines[sku]}
	case strings.HasPrefix(key, prefixBatch):
		v = state.batches[strings.TrimPrefix(key, prefixBatch)]
	case strings.HasPrefix(key, prefixEvent):
		batchID, seq, err := parseEventKey(key)
		if err != nil {
			return Record{}, err
		}
		events := state.history[batchID]
		if seq >= len(events) {
			return Record{}, fmt.Errorf("record %s: no such event", key)
		}
		v = events[seq]
	case strings.HasPrefix(key, prefixInventory):
		ids := state.inventory[Identity(strings.TrimPrefix(key, prefixInventory))]
		if ids == nil {
			ids = []string{}
		}
		v = ids
	default:
		return Record{}, fmt.Errorf("unknown record key %q", key)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", key, err)
	}
	return Record{Key: key, Payload: payload}, nil
}

func parseEventKey(key string) (string, int, error) {
	rest := strings.TrimPrefix(key, prefixEvent)
	i := strings.LastIndex(rest, "/")
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed event key %q", key)
	}
	seq, err := strconv.Atoi(rest[i+1:])
	if err != nil || seq < 0 {
		return "", 0, fmt.Errorf("malformed event key %q", key)
	}
	return rest[:i], seq, nil
}

// SnapshotRecords encodes every key of s, sorted by key.
func SnapshotRecords(s Snapshot) ([]Record, error) {
	state := memoryStateFromSnapshot(migrateSnapshot(s))
	keys := []string{KeyRoles}
	for sku := range state.medicines {
		keys = append(keys, MedicineKey(sku))
	}
	for id := range state.batches {
		keys = append(keys, BatchKey(id))
	}
	for id, events := range state.history {
		for seq := range events {
			keys = append(keys, EventKey(id, seq))
		}
	}
	for owner := range state.inventory {
		keys = append(keys, InventoryKey(owner))
	}
	sort.Strings(keys)
	out := make([]Record, 0, len(keys))
	for _, key := range keys {
		rec, err := encodeRecord(&state, key)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// SnapshotFromRecords rebuilds a snapshot from persisted records. Records
// with an empty payload are skipped.
func SnapshotFromRecords(records []Record) (Snapshot, error) {
	snap := Snapshot{
		Medicines: map[string]Medicine{},
		Batches:   map[string]Batch{},
		History:   map[string][]TrackingEvent{},
		Inventory: map[Identity][]string{},
	}
	positions := map[string]int{}
	for _, rec := range records {
		if len(rec.Payload) == 0 {
			continue
		}
		var err error
		switch key := rec.Key; {
		case key == KeyRoles:
			err = json.Unmarshal(rec.Payload, &snap.Roles)
		case strings.HasPrefix(key, prefixMedicine):
			var mr medicineRecord
			if err = json.Unmarshal(rec.Payload, &mr); err == nil {
				sku := strings.TrimPrefix(key, prefixMedicine)
				snap.Medicines[sku] = mr.Medicine
				positions[sku] = mr.Position
			}
		case strings.HasPrefix(key, prefixBatch):
			var b Batch
			if err = json.Unmarshal(rec.Payload, &b); err == nil {
				snap.Batches[strings.TrimPrefix(key, prefixBatch)] = b
			}
		case strings.HasPrefix(key, prefixEvent):
			var batchID string
			if batchID, _, err = parseEventKey(key); err == nil {
				var ev TrackingEvent
				if err = json.Unmarshal(rec.Payload, &ev); err == nil {
					snap.History[batchID] = append(snap.History[batchID], ev)
				}
			}
		case strings.HasPrefix(key, prefixInventory):
			var ids []string
			if err = json.Unmarshal(rec.Payload, &ids); err == nil && len(ids) > 0 {
				snap.Inventory[Identity(strings.TrimPrefix(key, prefixInventory))] = ids
			}
		default:
			err = fmt.Errorf("unknown record key")
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", rec.Key, err)
		}
	}
	for sku := range snap.Medicines {
		snap.MedicineOrder = append(snap.MedicineOrder, sku)
	}
	sort.Slice(snap.MedicineOrder, func(i, j int) bool {
		a, b := snap.MedicineOrder[i], snap.MedicineOrder[j]
		if positions[a] != positions[b] {
			return positions[a] < positions[b]
		}
		return a < b
	})
	for _, events := range snap.History {
		sort.SliceStable(events, func(i, j int) bool { return events[i].Sequence < events[j].Sequence })
	}
	return snap, nil
}

// LatestTimestamp returns the newest commit time recorded in s.
func (s Snapshot) LatestTimestamp() time.Time {
	var latest time.Time
	bump := func(t time.Time) {
		if t.After(latest) {
			latest = t
		}
	}
	for _, m := range s.Medicines {
		bump(m.RegisteredAt)
	}
	for _, b := range s.Batches {
		bump(b.UpdatedAt)
	}
	for _, events := range s.History {
		if n := len(events); n > 0 {
			bump(events[n-1].Timestamp)
		}
	}
	return latest
}

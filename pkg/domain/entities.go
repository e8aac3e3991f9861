// Package domain defines the ledger entities, value types, error kinds and
// rule evaluation primitives used by medichain.
package domain

import (
	"time"
)

// EntityType identifies the type of record stored in the ledger.
type EntityType string

// Supported entity type identifiers used in Change records and persistence keys.
const (
	// EntityMedicine identifies a medicine definition keyed by SKU.
	EntityMedicine EntityType = "medicine"
	// EntityBatch identifies a manufactured batch.
	EntityBatch EntityType = "batch"
	// EntityTrackingEvent identifies an entry in a batch history.
	EntityTrackingEvent EntityType = "tracking_event"
	// EntityInventory identifies an owner inventory entry.
	EntityInventory EntityType = "inventory"
	// EntityRole identifies a role grant or the administrator slot.
	EntityRole EntityType = "role"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Medicine is a catalog definition. It is written once per SKU and never
// mutated afterwards.
type Medicine struct {
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	Category          string    `json:"category"`
	Dosage            string    `json:"dosage"`
	ManufacturerName  string    `json:"manufacturer_name"`
	ActiveIngredients string    `json:"active_ingredients"`
	Exists            bool      `json:"exists"`
	RegisteredBy      Identity  `json:"registered_by"`
	RegisteredAt      time.Time `json:"registered_at"`
}

// Batch is the authoritative record of a manufactured lot.
type Batch struct {
	BatchID      string      `json:"batch_id"`
	MedicineSKU  string      `json:"medicine_sku"`
	Quantity     uint64      `json:"quantity"`
	MfgDate      time.Time   `json:"mfg_date"`
	ExpiryDate   time.Time   `json:"expiry_date"`
	CurrentOwner Identity    `json:"current_owner"`
	Status       BatchStatus `json:"status"`
	Exists       bool        `json:"exists"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// TrackingEvent is one immutable entry of a batch's custody history.
type TrackingEvent struct {
	Sequence    int         `json:"sequence"`
	Status      BatchStatus `json:"status"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Location    string      `json:"location"`
	Timestamp   time.Time   `json:"timestamp"`
	Handler     Identity    `json:"handler"`
	PrevDigest  string      `json:"prev_digest"`
	Digest      string      `json:"digest"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	ID     string
	Before ChangePayload
	After  ChangePayload
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate the mutations captured in the audit trail. The
// ledger never deletes records.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	// ActionAppend indicates an entry was appended to an ordered collection.
	ActionAppend Action = "append"
	ActionRemove Action = "remove"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Kind     ErrorKind
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates rule violations and the notifications produced by a
// committed transaction.
type Result struct {
	Violations    []Violation
	Notifications []Notification
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}

// Unwrap exposes the error kind of the first blocking violation so callers can
// match rule rejections with errors.Is.
func (e RuleViolationError) Unwrap() error {
	for _, v := range e.Result.Violations {
		if v.Severity != SeverityBlock {
			continue
		}
		kind := v.Kind
		if kind == "" {
			kind = KindInvalidArgument
		}
		return &Error{Kind: kind, Entity: v.Entity, ID: v.EntityID, Message: v.Message}
	}
	return nil
}

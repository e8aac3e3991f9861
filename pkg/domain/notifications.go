package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind names an externally observable ledger event.
type NotificationKind string

// Notification kinds consumed by dashboards and indexers.
const (
	NotifyMedicineRegistered        NotificationKind = "MedicineRegistered"
	NotifyBatchCreated              NotificationKind = "BatchCreated"
	NotifyBatchTransferred          NotificationKind = "BatchTransferred"
	NotifyStatusUpdated             NotificationKind = "StatusUpdated"
	NotifyAdministrationTransferred NotificationKind = "AdministrationTransferred"
	NotifyRoleUpdated               NotificationKind = "RoleUpdated"
)

// Notification is produced by a committed transaction. Delivery is not part of
// the ledger's atomicity.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   any              `json:"payload"`
}

// MedicineRegistered payload.
type MedicineRegistered struct {
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
}

// BatchCreated payload.
type BatchCreated struct {
	BatchID  string   `json:"batch_id"`
	SKU      string   `json:"sku"`
	Owner    Identity `json:"owner"`
	Quantity uint64   `json:"quantity"`
}

// BatchTransferred payload.
type BatchTransferred struct {
	BatchID   string      `json:"batch_id"`
	From      Identity    `json:"from"`
	To        Identity    `json:"to"`
	NewStatus BatchStatus `json:"new_status"`
}

// StatusUpdated payload.
type StatusUpdated struct {
	BatchID  string      `json:"batch_id"`
	Status   BatchStatus `json:"status"`
	Location string      `json:"location"`
}

// AdministrationTransferred payload. New is ZeroIdentity after a renounce.
type AdministrationTransferred struct {
	Previous Identity `json:"previous"`
	New      Identity `json:"new"`
}

// RoleUpdated payload.
type RoleUpdated struct {
	Identity Identity `json:"identity"`
	Role     Role     `json:"role"`
	Enabled  bool     `json:"enabled"`
}

// NewNotification stamps a payload with a fresh id.
func NewNotification(kind NotificationKind, at time.Time, payload any) Notification {
	return Notification{ID: uuid.NewString(), Kind: kind, Timestamp: at, Payload: payload}
}

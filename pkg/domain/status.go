package domain

import (
	"fmt"
	"strings"
)

// BatchStatus is the custody state of a batch. The ordinal values match the
// on-chain enum so numeric status codes from clients map directly.
type BatchStatus uint8

// Batch statuses. StatusCreated is the sole initial state.
const (
	StatusCreated BatchStatus = iota
	StatusInTransit
	StatusDelivered
	StatusAtPharmacy
	StatusDispensed
	StatusExpired
	StatusRecalled
)

var statusNames = [...]string{
	StatusCreated:    "Created",
	StatusInTransit:  "InTransit",
	StatusDelivered:  "Delivered",
	StatusAtPharmacy: "AtPharmacy",
	StatusDispensed:  "Dispensed",
	StatusExpired:    "Expired",
	StatusRecalled:   "Recalled",
}

// Valid reports whether s is one of the closed set of statuses.
func (s BatchStatus) Valid() bool {
	return int(s) < len(statusNames)
}

func (s BatchStatus) String() string {
	if !s.Valid() {
		return fmt.Sprintf("BatchStatus(%d)", uint8(s))
	}
	return statusNames[s]
}

// ParseBatchStatus resolves a status by name (case-insensitive).
func ParseBatchStatus(name string) (BatchStatus, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return BatchStatus(i), nil
		}
	}
	return 0, InvalidArgument("unknown batch status %q", name)
}

// MarshalText encodes the status by name.
func (s BatchStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid batch status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *BatchStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseBatchStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

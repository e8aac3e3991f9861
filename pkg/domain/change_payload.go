package domain

import "encoding/json"

// ChangePayload wraps a JSON snapshot of a change's before/after state.
// Rules decode the raw bytes into typed structures as needed.
type ChangePayload struct {
	defined bool
	raw     json.RawMessage
}

// NewChangePayload builds a payload wrapper from raw JSON. The bytes are cloned
// so later writes by the caller are not observed.
func NewChangePayload(raw json.RawMessage) ChangePayload {
	payload := ChangePayload{defined: true}
	if raw != nil {
		payload.raw = append(json.RawMessage(nil), raw...)
	}
	return payload
}

// NewChangePayloadFromValue marshals a typed value into a ChangePayload.
func NewChangePayloadFromValue[T any](value T) (ChangePayload, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return ChangePayload{}, err
	}
	return NewChangePayload(raw), nil
}

// Defined reports whether the payload has been initialized.
func (p ChangePayload) Defined() bool {
	return p.defined
}

// IsEmpty reports whether the payload contains no bytes.
func (p ChangePayload) IsEmpty() bool {
	return !p.defined || len(p.raw) == 0
}

// Raw returns a copy of the underlying JSON bytes, or nil when undefined.
func (p ChangePayload) Raw() json.RawMessage {
	if p.IsEmpty() {
		return nil
	}
	return append(json.RawMessage(nil), p.raw...)
}

// DecodeChangePayload decodes the payload into T. It reports false when the
// payload is undefined, empty or not decodable as T.
func DecodeChangePayload[T any](payload ChangePayload) (T, bool) {
	var out T
	if payload.IsEmpty() {
		return out, false
	}
	if err := json.Unmarshal(payload.raw, &out); err != nil {
		return out, false
	}
	return out, true
}

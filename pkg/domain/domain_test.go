package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentityCanonicalizes(t *testing.T) {
	id, err := ParseIdentity("  0xAbCdEf0123456789aBcDeF0123456789AbCdEf01 ")
	require.NoError(t, err)
	assert.Equal(t, Identity("0xabcdef0123456789abcdef0123456789abcdef01"), id)

	_, err = ParseIdentity("0x1234")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ParseIdentity("not-an-address")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.True(t, ZeroIdentity.IsZero())
	assert.True(t, Identity("").IsZero())
	assert.False(t, id.IsZero())
	assert.Panics(t, func() { MustParseIdentity("nope") })

	assert.Equal(t, id, Identity("0xABCDEF0123456789ABCDEF0123456789ABCDEF01").Normalize())
	assert.Equal(t, Identity("nope"), Identity("nope").Normalize())
}

func TestErrorKindsMatch(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NotFound(EntityBatch, "B-1"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Equal(t, "NotFound: batch B-1: not found", NotFound(EntityBatch, "B-1").Error())
	assert.Equal(t, "Unauthorized: nope", Unauthorized("nope").Error())
	assert.Equal(t, "ReentrantCall", ErrReentrantCall.Error())

	admin := AdministrationRequired("set_role", "0xabc")
	assert.ErrorIs(t, admin, ErrAdministrationRequired)
	assert.ErrorIs(t, admin, ErrUnauthorized)
	assert.NotErrorIs(t, Unauthorized("x"), ErrAdministrationRequired)
}

func TestRuleViolationErrorUnwrapsKind(t *testing.T) {
	res := Result{Violations: []Violation{
		{Rule: "warn", Severity: SeverityWarn, Kind: KindNotFound},
		{Rule: "block", Severity: SeverityBlock, Kind: KindInvalidTransition, Message: "bad edge"},
	}}
	err := RuleViolationError{Result: res}
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "bad edge")

	untyped := RuleViolationError{Result: Result{Violations: []Violation{{Severity: SeverityBlock}}}}
	assert.ErrorIs(t, untyped, ErrInvalidArgument)
	assert.Nil(t, RuleViolationError{}.Unwrap())
}

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	assert.False(t, result.HasBlocking())
	result.Merge(Result{})
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock}}})
	assert.True(t, result.HasBlocking())
	assert.Len(t, result.Violations, 2)
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, TransactionView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(context.Context, TransactionView, []Change) (Result, error) {
	return Result{}, errors.New("boom")
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"a"})
	engine.Register(staticRule{"b"})
	res, err := engine.Evaluate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Len(t, res.Violations, 2)
	assert.Len(t, engine.Rules(), 2)

	engine.Register(errorRule{})
	_, err = engine.Evaluate(context.Background(), nil, nil)
	assert.EqualError(t, err, "boom")
}

func TestBatchStatusText(t *testing.T) {
	for i, name := range []string{"Created", "InTransit", "Delivered", "AtPharmacy", "Dispensed", "Expired", "Recalled"} {
		s := BatchStatus(i)
		assert.Equal(t, name, s.String())
		parsed, err := ParseBatchStatus(name)
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	assert.False(t, BatchStatus(7).Valid())
	assert.Equal(t, "BatchStatus(9)", BatchStatus(9).String())

	raw, err := json.Marshal(struct {
		S BatchStatus `json:"s"`
	}{StatusAtPharmacy})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"AtPharmacy"}`, string(raw))

	var back struct {
		S BatchStatus `json:"s"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"s":"intransit"}`), &back))
	assert.Equal(t, StatusInTransit, back.S)
	assert.Error(t, json.Unmarshal([]byte(`{"s":"Lost"}`), &back))
	_, err = BatchStatus(42).MarshalText()
	assert.Error(t, err)
}

func TestTransitionTable(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	allowed := map[BatchStatus][]BatchStatus{
		StatusCreated:    {StatusInTransit, StatusRecalled},
		StatusInTransit:  {StatusInTransit, StatusDelivered, StatusAtPharmacy, StatusRecalled},
		StatusDelivered:  {StatusInTransit, StatusAtPharmacy, StatusRecalled},
		StatusAtPharmacy: {StatusInTransit, StatusDispensed, StatusRecalled},
	}
	for from, tos := range allowed {
		assert.Equal(t, tos, NextStatuses(from, now, future), from.String())
	}
	for _, terminal := range []BatchStatus{StatusDispensed, StatusExpired, StatusRecalled} {
		assert.True(t, terminal.IsTerminal())
		for to := BatchStatus(0); to.Valid(); to++ {
			assert.False(t, CanTransition(terminal, to, now, past), "%s -> %s", terminal, to)
		}
	}
	for from := BatchStatus(0); from.Valid(); from++ {
		assert.False(t, CanTransition(from, StatusCreated, now, future))
	}

	assert.False(t, CanTransition(StatusInTransit, StatusExpired, now, future))
	assert.True(t, CanTransition(StatusInTransit, StatusExpired, now, now))
	assert.True(t, CanTransition(StatusCreated, StatusExpired, now, past))
	assert.False(t, CanTransition(StatusCreated, BatchStatus(12), now, past))
}

func TestHistoryChain(t *testing.T) {
	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	genesis := SealEvent("B-1", nil, TrackingEvent{Status: StatusCreated, Title: "Batch Created", Location: "Factory", Timestamp: at})
	assert.Equal(t, 0, genesis.Sequence)
	assert.Equal(t, GenesisDigest, genesis.PrevDigest)
	next := SealEvent("B-1", &genesis, TrackingEvent{Status: StatusInTransit, Title: "Dispatch", Timestamp: at.Add(time.Second)})
	assert.Equal(t, 1, next.Sequence)
	assert.Equal(t, genesis.Digest, next.PrevDigest)

	events := []TrackingEvent{genesis, next}
	require.NoError(t, VerifyHistory("B-1", events))
	assert.Error(t, VerifyHistory("B-2", events), "digest binds the batch id")
	assert.ErrorIs(t, VerifyHistory("B-1", nil), ErrNotFound)

	tampered := append([]TrackingEvent(nil), events...)
	tampered[0].Location = "Elsewhere"
	assert.ErrorContains(t, VerifyHistory("B-1", tampered), "digest mismatch")

	reordered := []TrackingEvent{next, genesis}
	assert.ErrorContains(t, VerifyHistory("B-1", reordered), "sequence")

	backwards := SealEvent("B-1", &genesis, TrackingEvent{Status: StatusInTransit, Timestamp: at.Add(-time.Second)})
	assert.ErrorContains(t, VerifyHistory("B-1", []TrackingEvent{genesis, backwards}), "backwards")

	// field boundaries are length prefixed
	a := ComputeDigest("B", TrackingEvent{Title: "ab", Description: "c"})
	b := ComputeDigest("B", TrackingEvent{Title: "a", Description: "bc"})
	assert.NotEqual(t, a, b)
}

func TestRoleSet(t *testing.T) {
	admin := MustParseIdentity("0x1111111111111111111111111111111111111111")
	other := MustParseIdentity("0x2222222222222222222222222222222222222222")
	rs := NewRoleSet(admin)
	assert.True(t, rs.IsAdministrator(admin))
	assert.False(t, rs.IsAdministrator(other))
	assert.False(t, NewRoleSet("").IsAdministrator(""))

	rs.Members[RoleDoctor][other] = struct{}{}
	rs.Members[RoleDoctor][admin] = struct{}{}
	rs.Members[RolePharmacy][other] = struct{}{}
	assert.Equal(t, []Identity{admin, other}, rs.List(RoleDoctor))
	assert.True(t, rs.Has(other, RolePharmacy))
	assert.False(t, rs.Has(other, RoleManufacturer))

	cp := rs.Clone()
	delete(cp.Members[RoleDoctor], other)
	assert.True(t, rs.Has(other, RoleDoctor))

	rs.Renounced = true
	assert.False(t, rs.IsAdministrator(admin))
	assert.False(t, Role("courier").Valid())
}

func TestMonotonicClock(t *testing.T) {
	fixed := time.Date(2030, 1, 1, 0, 0, 0, 0, time.FixedZone("x", 3600))
	clock := NewMonotonicClock(func() time.Time { return fixed })
	first := clock.Now()
	second := clock.Now()
	assert.Equal(t, time.UTC, first.Location())
	assert.True(t, second.After(first))
	assert.False(t, NewMonotonicClock(nil).Now().IsZero())
}

func TestMonotonicClockAdvanceTo(t *testing.T) {
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	stored := past.Add(48 * time.Hour)
	clock := NewMonotonicClock(func() time.Time { return past })
	clock.AdvanceTo(stored)
	assert.True(t, clock.Now().After(stored))

	clock.AdvanceTo(past)
	assert.True(t, clock.Now().After(stored))
}

func TestChangePayload(t *testing.T) {
	var undefined ChangePayload
	assert.False(t, undefined.Defined())
	assert.True(t, undefined.IsEmpty())
	assert.Nil(t, undefined.Raw())

	raw := json.RawMessage(`{"batch_id":"B-1","quantity":5}`)
	payload := NewChangePayload(raw)
	raw[2] = 'X'
	assert.JSONEq(t, `{"batch_id":"B-1","quantity":5}`, string(payload.Raw()))

	b, ok := DecodeChangePayload[Batch](payload)
	require.True(t, ok)
	assert.Equal(t, uint64(5), b.Quantity)
	_, ok = DecodeChangePayload[Batch](undefined)
	assert.False(t, ok)
	_, ok = DecodeChangePayload[Batch](NewChangePayload(json.RawMessage(`[1]`)))
	assert.False(t, ok)

	_, err := NewChangePayloadFromValue(func() {})
	assert.Error(t, err)
}

func TestNewNotification(t *testing.T) {
	at := time.Now()
	a := NewNotification(NotifyBatchCreated, at, BatchCreated{BatchID: "B-1"})
	b := NewNotification(NotifyBatchCreated, at, BatchCreated{BatchID: "B-1"})
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, NotifyBatchCreated, a.Kind)
	assert.Equal(t, at, a.Timestamp)
}

package core

import (
	"context"
	"time"
)

// Logger is the structured logging surface the ledger writes to.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsRecorder observes the outcome and latency of ledger operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts a span around each ledger operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended with the operation's error, nil on success.
type TraceSpan interface {
	End(err error)
}

// AuditStatus is the outcome recorded for an audited operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one mutating ledger call.
type AuditEntry struct {
	Operation string
	Entity    EntityType
	Action    Action
	EntityID  string
	Caller    Identity
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives an entry for every mutating call, committed or not.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// NotificationDispatcher delivers committed notifications to observers.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, notifications []Notification)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(context.Context, []Notification) {}

type operationMetadata struct {
	entity EntityType
	action Action
}

// Audited operation names.
const (
	OpRegisterMedicine       = "register_medicine"
	OpCreateBatch            = "create_batch"
	OpTransferBatch          = "transfer_batch"
	OpSetRole                = "set_role"
	OpTransferAdministration = "transfer_administration"
	OpRenounceAdministration = "renounce_administration"
	OpBootstrap              = "bootstrap"
)

var auditOperations = map[string]operationMetadata{
	OpRegisterMedicine:       {entity: EntityMedicine, action: ActionCreate},
	OpCreateBatch:            {entity: EntityBatch, action: ActionCreate},
	OpTransferBatch:          {entity: EntityBatch, action: ActionUpdate},
	OpSetRole:                {entity: EntityRole, action: ActionUpdate},
	OpTransferAdministration: {entity: EntityRole, action: ActionUpdate},
	OpRenounceAdministration: {entity: EntityRole, action: ActionUpdate},
	OpBootstrap:              {entity: EntityRole, action: ActionCreate},
}

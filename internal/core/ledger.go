package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"medichain/internal/infra/persistence/memory"
	"medichain/internal/log"
	"medichain/pkg/domain"
)

// Ledger exposes the medichain operations. Every mutating call runs as one
// store transaction: either all of the batch record, history and inventory
// change together or nothing does.
type Ledger struct {
	store      PersistentStore
	logger     Logger
	metrics    MetricsRecorder
	tracer     Tracer
	audit      AuditRecorder
	dispatcher NotificationDispatcher
	clock      Clock
	validate   *validator.Validate
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLogger sets the structured logger.
func WithLogger(logger Logger) LedgerOption {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) LedgerOption {
	return func(l *Ledger) {
		if recorder != nil {
			l.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) LedgerOption {
	return func(l *Ledger) {
		if tracer != nil {
			l.tracer = tracer
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(recorder AuditRecorder) LedgerOption {
	return func(l *Ledger) {
		if recorder != nil {
			l.audit = recorder
		}
	}
}

// WithDispatcher sets the notification dispatcher invoked after each commit.
func WithDispatcher(dispatcher NotificationDispatcher) LedgerOption {
	return func(l *Ledger) {
		if dispatcher != nil {
			l.dispatcher = dispatcher
		}
	}
}

// WithClock sets the clock used for audit timestamps. Commit timestamps come
// from the store.
func WithClock(clock Clock) LedgerOption {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// NewLedger constructs a ledger backed by store.
func NewLedger(store PersistentStore, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:      store,
		logger:     log.NewStructured(nil),
		metrics:    noopMetricsRecorder{},
		tracer:     noopTracer{},
		audit:      noopAuditRecorder{},
		dispatcher: noopDispatcher{},
		clock:      ClockFunc(func() time.Time { return time.Now().UTC() }),
		validate:   validator.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewInMemoryLedger creates a ledger over a fresh memory store using engine
// and the provided store clock (nil for the monotonic wall clock).
func NewInMemoryLedger(engine *RulesEngine, clock Clock, opts ...LedgerOption) *Ledger {
	var storeOpts []memory.Option
	if clock != nil {
		storeOpts = append(storeOpts, memory.WithClock(clock))
	}
	return NewLedger(memory.NewStore(engine, storeOpts...), opts...)
}

// Store returns the underlying storage implementation.
func (l *Ledger) Store() PersistentStore {
	return l.store
}

// RegisterRule adds rule to the store's engine. It must be called before the
// ledger is shared between goroutines.
//
// Rules run while the store's write lock is held. A rule that calls back into
// the ledger must pass the context it was given; the ledger then fails the
// call with ReentrantCall. A call made with any other context blocks on the
// lock and never returns.
func (l *Ledger) RegisterRule(rule Rule) error {
	if rule == nil {
		return errors.New("rule cannot be nil")
	}
	engine := l.store.RulesEngine()
	if engine == nil {
		return errors.New("store has no rules engine")
	}
	engine.Register(rule)
	return nil
}

// Bootstrap installs admin as administrator when none has been set and
// administration has not been renounced. It returns the administrator in
// effect afterwards.
//
// While the slot is empty any caller can claim it, so Bootstrap belongs in
// process start-up, before the ledger is reachable by other callers.
func (l *Ledger) Bootstrap(ctx context.Context, admin Identity) (Identity, error) {
	admin = admin.Normalize()
	var current Identity
	_, err := l.mutate(ctx, OpBootstrap, admin, string(admin), func(tx Transaction) error {
		roles := tx.Roles()
		current = roles.Administrator
		if roles.Renounced || !current.IsZero() {
			return nil
		}
		if admin.IsZero() {
			return domain.InvalidArgument("administrator cannot be the zero identity")
		}
		if _, err := parseArgIdentity("administrator", admin); err != nil {
			return err
		}
		if err := tx.SetAdministrator(admin); err != nil {
			return err
		}
		current = admin
		tx.Emit(domain.NewNotification(domain.NotifyAdministrationTransferred, tx.Now(), domain.AdministrationTransferred{
			Previous: domain.ZeroIdentity,
			New:      admin,
		}))
		return nil
	})
	if current.IsZero() {
		current = domain.ZeroIdentity
	}
	return current, err
}

// parseArgIdentity canonicalizes an identity supplied as an operation
// argument, rejecting anything that is not a 20-byte hex address.
func parseArgIdentity(field string, id Identity) (Identity, error) {
	parsed, err := domain.ParseIdentity(string(id))
	if err != nil {
		return "", domain.InvalidArgument("%s %q is not a valid address", field, string(id))
	}
	return parsed, nil
}

type mutationKey struct{}

func activeMutation(ctx context.Context) (string, bool) {
	op, ok := ctx.Value(mutationKey{}).(string)
	return op, ok
}

func reentrantCall(ctx context.Context, op string) error {
	outer, _ := activeMutation(ctx)
	return &domain.Error{
		Kind:    domain.KindReentrantCall,
		Message: fmt.Sprintf("%s invoked while %s is in progress", op, outer),
	}
}

// mutate runs fn in a store transaction. The context passed to rules is
// marked so that any nested ledger call made with it fails with ReentrantCall
// instead of observing or deadlocking on the half-applied transaction.
// Notifications are dispatched after the commit with the unmarked context.
func (l *Ledger) mutate(ctx context.Context, op string, caller Identity, entityID string, fn func(tx Transaction) error) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, nested := activeMutation(ctx); nested {
		err := reentrantCall(ctx, op)
		l.metrics.Observe(ctx, op, false, 0)
		l.recordAudit(ctx, op, caller, entityID, 0, err)
		l.logger.Warn("rejected reentrant ledger call", "operation", op, "caller", caller)
		return Result{}, err
	}
	ctx = log.WithLogField(ctx, "operation", op)
	ctx = log.WithLogField(ctx, "caller", string(caller))
	committedCtx := ctx
	ctx = context.WithValue(ctx, mutationKey{}, op)

	ctx, span := l.tracer.Start(ctx, op)
	started := time.Now()
	res, err := l.store.RunInTransaction(ctx, fn)
	duration := time.Since(started)
	span.End(err)
	l.metrics.Observe(ctx, op, err == nil, duration)
	l.recordAudit(ctx, op, caller, entityID, duration, err)

	for _, v := range res.Violations {
		if v.Severity == SeverityWarn {
			l.logger.Warn("rule warning", "operation", op, "rule", v.Rule, "message", v.Message)
		}
	}
	if err != nil {
		l.logger.Debug("ledger call rejected", "operation", op, "caller", caller, "id", entityID, "kind", domain.KindOf(err), "error", err)
		return res, err
	}
	l.logger.Debug("ledger call committed", "operation", op, "caller", caller, "id", entityID, "notifications", len(res.Notifications))
	if len(res.Notifications) > 0 {
		l.dispatcher.Dispatch(committedCtx, res.Notifications)
	}
	return res, nil
}

// view runs fn against committed state. Reads issued from inside a mutation
// are rejected because the store's write lock is held.
func (l *Ledger) view(ctx context.Context, op string, fn func(TransactionView) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, nested := activeMutation(ctx); nested {
		return reentrantCall(ctx, op)
	}
	return l.store.View(ctx, fn)
}

func (l *Ledger) recordAudit(ctx context.Context, op string, caller Identity, entityID string, duration time.Duration, err error) {
	meta, ok := auditOperations[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Caller:    caller,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: l.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	l.audit.Record(ctx, entry)
}

// validationError converts validator failures into an InvalidArgument error
// naming every failing field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.InvalidArgument("%v", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	sort.Strings(fields)
	return domain.InvalidArgument("invalid fields: %s", strings.Join(fields, ", "))
}

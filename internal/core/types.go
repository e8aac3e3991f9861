package core

import (
	"time"

	"medichain/pkg/domain"
)

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Identity           = domain.Identity
	Role               = domain.Role
	RoleSet            = domain.RoleSet
	Medicine           = domain.Medicine
	Batch              = domain.Batch
	BatchStatus        = domain.BatchStatus
	TrackingEvent      = domain.TrackingEvent
	Notification       = domain.Notification
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Clock              = domain.Clock
)

const (
	EntityMedicine      = domain.EntityMedicine
	EntityBatch         = domain.EntityBatch
	EntityTrackingEvent = domain.EntityTrackingEvent
	EntityInventory     = domain.EntityInventory
	EntityRole          = domain.EntityRole
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionAppend = domain.ActionAppend
	ActionRemove = domain.ActionRemove
)

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

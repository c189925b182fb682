package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HandshakeStatus is the venue's report of what happened to an order
// (spec §3, "ExecutionHandshake").
type HandshakeStatus string

const (
	StatusConfirmed  HandshakeStatus = "confirmed"
	StatusPending    HandshakeStatus = "pending"
	StatusFailed     HandshakeStatus = "failed"
	StatusRolledBack HandshakeStatus = "rolled_back"
)

// VenueErrorClass categorizes a venue failure for retry purposes (spec §6).
type VenueErrorClass string

const (
	ErrRetryableNetwork   VenueErrorClass = "retryable_network"
	ErrRetryableRateLimit VenueErrorClass = "retryable_ratelimit"
	ErrNonRetryableInvalid VenueErrorClass = "non_retryable_invalid"
	ErrNonRetryableState  VenueErrorClass = "non_retryable_state"
	ErrTimeout            VenueErrorClass = "timeout"
)

// Retryable reports whether a venue error class should be retried by the
// execution manager.
func (c VenueErrorClass) Retryable() bool {
	return c == ErrRetryableNetwork || c == ErrRetryableRateLimit
}

// ExecutionHandshake is the venue's report of what actually happened for one
// order (spec §3).
type ExecutionHandshake struct {
	OperationID      string
	Status           HandshakeStatus
	ActualDeltas     map[InstrumentKey]decimal.Decimal
	ExecutionDetails map[string]any
	FeeAmount        decimal.Decimal
	FeeCurrency      string
	ErrorCode        string
	ErrorMessage     string
	ErrorClass       VenueErrorClass
	SubmittedAt      time.Time
	ExecutedAt       time.Time
	Simulated        bool

	AtomicGroupID   string
	SequenceInGroup int
}

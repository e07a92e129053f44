package protocol

import (
	"errors"
	"fmt"
)

// Code is the stable wire identifier for a command failure.
type Code string

const (
	CodeValidation         Code = "VALIDATION"
	CodeForbidden          Code = "FORBIDDEN"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeAlreadyInitialized Code = "ALREADY_INITIALIZED"
	CodeLotActive          Code = "LOT_ACTIVE"
	CodeLotNotPending      Code = "LOT_NOT_PENDING"
	CodeNoActiveLot        Code = "NO_ACTIVE_LOT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeBidRejected        Code = "BID_REJECTED"
	CodeConnection         Code = "CONNECTION"
	CodeNegotiation        Code = "NEGOTIATION_FAILED"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeInternal           Code = "INTERNAL"
)

// RejectReason explains why a bid was not accepted.
type RejectReason string

const (
	BelowCurrent       RejectReason = "BELOW_CURRENT"
	InsufficientBudget RejectReason = "INSUFFICIENT_BUDGET"
	Superseded         RejectReason = "SUPERSEDED"
	AuctionPaused      RejectReason = "AUCTION_PAUSED"
)

// ValidationError reports a malformed command.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid command: " + e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError for a field.
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// AuthorizationError reports a command the caller's role may not issue.
type AuthorizationError struct {
	Role    Role
	Command CommandKind
	Reason  string
}

func (e *AuthorizationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("forbidden: %s may not %s: %s", e.Role, e.Command, e.Reason)
	}
	return fmt.Sprintf("forbidden: %s may not %s", e.Role, e.Command)
}

// StateConflictError reports a command that is not valid in the current state.
type StateConflictError struct {
	Code    Code
	Message string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Conflict builds a StateConflictError.
func Conflict(code Code, format string, args ...interface{}) error {
	return &StateConflictError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown session, lot or participant.
type NotFoundError struct {
	What string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.What, e.ID)
}

// BidRejected is returned to the submitter only; it is never broadcast.
type BidRejected struct {
	Reason  RejectReason
	Amount  int64
	Current int64
}

func (e *BidRejected) Error() string {
	return fmt.Sprintf("bid %d rejected: %s (current %d)", e.Amount, e.Reason, e.Current)
}

// ConnectionError is a transient transport failure. Clients recover with a resync.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "connection: " + e.Op
	}
	return fmt.Sprintf("connection: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NegotiationFailure is an audio-only failure scoped to one listener.
type NegotiationFailure struct {
	ListenerID string
	Reason     string
}

func (e *NegotiationFailure) Error() string {
	if e.ListenerID == "" {
		return "audio negotiation failed: " + e.Reason
	}
	return fmt.Sprintf("audio negotiation with %s failed: %s", e.ListenerID, e.Reason)
}

// ErrRateLimited is returned when a connection issues commands too quickly.
var ErrRateLimited = errors.New("too many commands")

// CodeOf maps an error from any layer onto its wire code.
func CodeOf(err error) Code {
	var (
		ve *ValidationError
		ae *AuthorizationError
		se *StateConflictError
		nf *NotFoundError
		br *BidRejected
		ce *ConnectionError
		ne *NegotiationFailure
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return CodeValidation
	case errors.As(err, &ae):
		return CodeForbidden
	case errors.As(err, &se):
		return se.Code
	case errors.As(err, &nf):
		return CodeNotFound
	case errors.As(err, &br):
		return CodeBidRejected
	case errors.As(err, &ce):
		return CodeConnection
	case errors.As(err, &ne):
		return CodeNegotiation
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}

package models

import (
	"errors"
	"fmt"
	"time"
)

// Error codes for structured error handling.
const (
	ErrCodeNoHandler      = "NO_HANDLER"
	ErrCodeParse          = "PARSE_ERROR"
	ErrCodeCorrupted      = "CORRUPTED_ARCHIVE"
	ErrCodeStream         = "STREAM_ERROR"
	ErrCodeCircuitOpen    = "CIRCUIT_OPEN"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
	ErrCodePool           = "POOL_ERROR"
	ErrCodeExtract        = "EXTRACT_ERROR"
	ErrCodeConfig         = "CONFIG_ERROR"
)

// Sentinel errors
var (
	ErrUnknownFormat      = errors.New("unknown archive format")
	ErrPipelineBusy       = errors.New("pipeline already running")
	ErrCircuitOpen        = errors.New("circuit open")
	ErrTimeout            = errors.New("operation timed out")
	ErrRetriesExhausted   = errors.New("max retries exceeded")
	ErrMemberNotFound     = errors.New("archive member not found")
	ErrExtractUnsupported = errors.New("handler does not support extraction")
	ErrQueueDrained       = errors.New("queue cleared before dispatch")
)

// Severity classifies how bad a condition is for the archive.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ArchiveError is a user-facing condition attached to an archive.
type ArchiveError struct {
	Message         string   `json:"message"`
	Severity        Severity `json:"severity"`
	Recoverable     bool     `json:"recoverable"`
	RecoveryActions []string `json:"recovery_actions,omitempty"`
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Severity, e.Message)
}

// NoHandlerError reports that no parser is registered for a format.
type NoHandlerError struct {
	Format string
}

func (e *NoHandlerError) Error() string {
	if e.Format == "" {
		return "no handler registered: format undetected"
	}
	return fmt.Sprintf("no handler registered for format %q", e.Format)
}

// ParseError provides detailed parse failure information.
type ParseError struct {
	Format string
	Path   string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("parse %s [%s]: %v", e.Path, e.Format, e.Err)
	}
	return fmt.Sprintf("parse [%s]: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// CircuitOpenError rejects an operation while its breaker cools down.
type CircuitOpenError struct {
	Key     string
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %q until %s", e.Key, e.RetryAt.Format(time.RFC3339))
}

func (e *CircuitOpenError) Unwrap() error {
	return ErrCircuitOpen
}

// TimeoutError reports a single attempt exceeding its deadline.
type TimeoutError struct {
	Key     string
	Attempt int
	Limit   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %q attempt %d exceeded %s", e.Key, e.Attempt, e.Limit)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// PoolExhaustedError reports a request for more units than a pool
// holds. Waiting cannot help; the request has to shrink.
type PoolExhaustedError struct {
	Type      string
	Requested int64
	Capacity  int64
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("acquire %d %s units: pool capacity is %d", e.Requested, e.Type, e.Capacity)
}

// StreamError reports a failed chunk read.
type StreamError struct {
	Offset int64
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream read at offset %d: %v", e.Offset, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

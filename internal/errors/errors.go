// Package errors holds the error vocabulary shared by waproxy's packages.
//
// Sentinels name conditions callers branch on (ErrLogNotFound,
// ErrBridgeAlreadyRunning, ...). The typed errors carry context for logs:
//
//   - BridgeError: supervising the bridge process (pid, command)
//   - UpstreamError: calls to the bridge REST API (endpoint, status)
//   - NotFoundError, ValidationError, TimeoutError: generic conditions
//
// Every typed error reports a Severity and whether a retry may help:
//
//	err := errors.NewUpstreamError("/send", cause).WithStatusCode(502)
//	errors.Is(err, errors.ErrUpstream) // true
//	errors.IsRetryable(err)            // true, 5xx
//
// None of these reach HTTP clients as-is; handlers render them into the
// JSON message of the response.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Standard library helpers, so callers need a single errors import.
var (
	Is   = errors.Is
	As   = errors.As
	New  = errors.New
	Join = errors.Join
)

// Severity ranks how much attention an error deserves in the logs.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = [...]string{"debug", "info", "warning", "error", "critical"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "unknown"
	}
	return severityNames[s]
}

var (
	// ErrBridgeAlreadyRunning is returned when starting a bridge that is alive.
	ErrBridgeAlreadyRunning = New("bridge already running")
	// ErrBridgeStartFailed is returned when the bridge process cannot be spawned.
	ErrBridgeStartFailed = New("bridge failed to start")
	// ErrNotAuthenticated means the bridge has not been paired with a phone.
	ErrNotAuthenticated = New("bridge not authenticated")
	// ErrLogNotFound means the bridge has not written its log file yet.
	ErrLogNotFound = New("bridge log not found")

	ErrUpstream     = New("bridge api request failed")
	ErrToolNotFound = New("tool not found")

	ErrTimeout      = New("operation timed out")
	ErrInvalidInput = New("invalid input")
)

// ProxyError is implemented by every typed error in this package.
type ProxyError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	IsRetryable() bool
	// IsUserFacing reports whether the message may be shown to API clients.
	IsUserFacing() bool
}

// classified is embedded by the typed errors. kind is the sentinel the
// error matches in addition to its cause.
type classified struct {
	message    string
	cause      error
	kind       error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (c *classified) Unwrap() error      { return c.cause }
func (c *classified) Severity() Severity { return c.severity }
func (c *classified) IsRetryable() bool  { return c.retryable }
func (c *classified) IsUserFacing() bool { return c.userFacing }

func (c *classified) matches(target error) bool {
	if c.kind != nil && target == c.kind {
		return true
	}
	return c.cause != nil && errors.Is(c.cause, target)
}

// render builds "prefix [k=v, ...]: message: cause", skipping empty pieces.
func (c *classified) render(prefix string, context ...string) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	if len(context) > 0 {
		sb.WriteString(" [")
		sb.WriteString(strings.Join(context, ", "))
		sb.WriteString("]")
	}
	if c.message != "" {
		if sb.Len() > 0 {
			sb.WriteString(": ")
		}
		sb.WriteString(c.message)
	}
	if c.cause != nil {
		sb.WriteString(": ")
		sb.WriteString(c.cause.Error())
	}
	return sb.String()
}

// BridgeError reports a failure supervising the bridge process.
//
//	errors.NewBridgeError("failed to start bridge", cause).WithPID(4242)
//	// bridge error [pid=4242]: failed to start bridge: <cause>
type BridgeError struct {
	classified
	PID     int
	Command string
}

func NewBridgeError(message string, cause error) *BridgeError {
	return &BridgeError{classified: classified{
		message:    message,
		cause:      cause,
		severity:   SeverityError,
		userFacing: true,
	}}
}

func (e *BridgeError) WithPID(pid int) *BridgeError {
	e.PID = pid
	return e
}

func (e *BridgeError) WithCommand(command string) *BridgeError {
	e.Command = command
	return e
}

func (e *BridgeError) WithSeverity(s Severity) *BridgeError {
	e.severity = s
	return e
}

func (e *BridgeError) Error() string {
	var ctx []string
	if e.PID != 0 {
		ctx = append(ctx, fmt.Sprintf("pid=%d", e.PID))
	}
	if e.Command != "" {
		ctx = append(ctx, "cmd="+e.Command)
	}
	return e.render("bridge error", ctx...)
}

func (e *BridgeError) Is(target error) bool {
	if _, ok := target.(*BridgeError); ok {
		return true
	}
	return e.matches(target)
}

// UpstreamError reports a failed call to the bridge REST API. Transport
// failures and 5xx answers are retryable; 4xx answers are not.
type UpstreamError struct {
	classified
	Endpoint   string
	StatusCode int
}

func NewUpstreamError(endpoint string, cause error) *UpstreamError {
	return &UpstreamError{
		classified: classified{
			message:    "request failed",
			cause:      cause,
			kind:       ErrUpstream,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Endpoint: endpoint,
	}
}

// WithStatusCode records the HTTP status the bridge answered with.
func (e *UpstreamError) WithStatusCode(code int) *UpstreamError {
	e.StatusCode = code
	e.retryable = code >= 500
	return e
}

// WithMessage replaces the default "request failed".
func (e *UpstreamError) WithMessage(message string) *UpstreamError {
	e.message = message
	return e
}

func (e *UpstreamError) Error() string {
	var ctx []string
	if e.Endpoint != "" {
		ctx = append(ctx, "endpoint="+e.Endpoint)
	}
	if e.StatusCode != 0 {
		ctx = append(ctx, fmt.Sprintf("status=%d", e.StatusCode))
	}
	return e.render("bridge api error", ctx...)
}

func (e *UpstreamError) Is(target error) bool {
	if _, ok := target.(*UpstreamError); ok {
		return true
	}
	return e.matches(target)
}

// NotFoundError reports a missing tool, log file or similar.
//
//	errors.NewNotFoundError("tool", "delete_chat") // tool 'delete_chat' not found
type NotFoundError struct {
	classified
	ResourceType string
	ResourceID   string
}

func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		classified: classified{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

func (e *NotFoundError) Error() string { return e.render("") }

func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.matches(target)
}

// ValidationError reports a request the proxy refused to act on.
// It matches ErrInvalidInput.
type ValidationError struct {
	classified
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{classified: classified{
		message:    message,
		kind:       ErrInvalidInput,
		severity:   SeverityWarning,
		userFacing: true,
	}}
}

func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

func (e *ValidationError) Error() string { return e.render("validation error") }

func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.matches(target)
}

// TimeoutError reports an operation that ran past its deadline.
// It matches ErrTimeout and is always retryable.
type TimeoutError struct {
	classified
	Operation string
	Duration  time.Duration
}

func NewTimeoutError(operation string, d time.Duration) *TimeoutError {
	return &TimeoutError{
		classified: classified{
			message:    fmt.Sprintf("%s (timeout: %s)", operation, d),
			kind:       ErrTimeout,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  d,
	}
}

func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

func (e *TimeoutError) Error() string { return e.render("timeout error") }

func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return e.matches(target)
}

// IsRetryable reports whether err is transient: a ProxyError that says so,
// or anything wrapping ErrTimeout.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe ProxyError
	if As(err, &pe) {
		return pe.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// IsUserFacing reports whether err's message may be shown to API clients.
func IsUserFacing(err error) bool {
	var pe ProxyError
	return err != nil && As(err, &pe) && pe.IsUserFacing()
}

// GetSeverity returns err's severity. Untyped errors count as SeverityError
// and nil as SeverityDebug.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var pe ProxyError
	if As(err, &pe) {
		return pe.Severity()
	}
	return SeverityError
}

// Wrap prefixes err with message, keeping it in the chain. A nil err stays nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

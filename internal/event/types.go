// Package event defines the events exchanged between the bridge supervisor,
// the status monitor, the tool dispatcher, and their observers.
package event

import "time"

// Event type identifiers, "category.action".
const (
	TypeBridgeStarted = "bridge.started"
	TypeBridgeStopped = "bridge.stopped"
	TypeBridgeExited  = "bridge.exited"
	TypeQRReady       = "auth.qr_ready"
	TypeAuthenticated = "auth.authenticated"
	TypeStatusReset   = "status.reset"
	TypeToolCalled    = "tool.called"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events. Its fields are
// unexported so JSON encodings of an event contain only its payload.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Bridge Process Events
// -----------------------------------------------------------------------------

// BridgeStartedEvent is emitted after the bridge process has been spawned.
type BridgeStartedEvent struct {
	baseEvent
	PID     int    `json:"pid"`
	Command string `json:"command"`
	LogPath string `json:"log_path"`
	// Restart is true for every start after the first one.
	Restart bool `json:"restart"`
	// Automatic is true when the supervisor restarted the bridge after an
	// unexpected exit, rather than on request.
	Automatic bool `json:"automatic"`
}

// NewBridgeStartedEvent creates a BridgeStartedEvent.
func NewBridgeStartedEvent(pid int, command, logPath string, restart bool) BridgeStartedEvent {
	return BridgeStartedEvent{
		baseEvent: newBaseEvent(TypeBridgeStarted),
		PID:       pid,
		Command:   command,
		LogPath:   logPath,
		Restart:   restart,
	}
}

// BridgeStoppedEvent is emitted when the proxy deliberately stops the bridge.
type BridgeStoppedEvent struct {
	baseEvent
	PID    int    `json:"pid"`
	Forced bool   `json:"forced"` // SIGKILL was needed
	Reason string `json:"reason"`
}

// NewBridgeStoppedEvent creates a BridgeStoppedEvent.
func NewBridgeStoppedEvent(pid int, forced bool, reason string) BridgeStoppedEvent {
	return BridgeStoppedEvent{
		baseEvent: newBaseEvent(TypeBridgeStopped),
		PID:       pid,
		Forced:    forced,
		Reason:    reason,
	}
}

// BridgeExitedEvent is emitted when the bridge process exits on its own.
type BridgeExitedEvent struct {
	baseEvent
	PID         int    `json:"pid"`
	ExitCode    int    `json:"exit_code"`
	Error       string `json:"error,omitempty"`
	WillRestart bool   `json:"will_restart"`
}

// NewBridgeExitedEvent creates a BridgeExitedEvent.
func NewBridgeExitedEvent(pid, exitCode int, err error, willRestart bool) BridgeExitedEvent {
	e := BridgeExitedEvent{
		baseEvent:   newBaseEvent(TypeBridgeExited),
		PID:         pid,
		ExitCode:    exitCode,
		WillRestart: willRestart,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// -----------------------------------------------------------------------------
// Authentication Events
// -----------------------------------------------------------------------------

// QRReadyEvent is emitted when a QR code first appears in the bridge log.
type QRReadyEvent struct {
	baseEvent
	Lines          int  `json:"lines"`
	HasPairingCode bool `json:"has_pairing_code"`
}

// NewQRReadyEvent creates a QRReadyEvent.
func NewQRReadyEvent(lines int, hasPairingCode bool) QRReadyEvent {
	return QRReadyEvent{
		baseEvent:      newBaseEvent(TypeQRReady),
		Lines:          lines,
		HasPairingCode: hasPairingCode,
	}
}

// AuthenticatedEvent is emitted when the bridge reports a successful pairing.
type AuthenticatedEvent struct {
	baseEvent
	SinceStart time.Duration `json:"since_start_ns"`
}

// NewAuthenticatedEvent creates an AuthenticatedEvent.
func NewAuthenticatedEvent(sinceStart time.Duration) AuthenticatedEvent {
	return AuthenticatedEvent{
		baseEvent:  newBaseEvent(TypeAuthenticated),
		SinceStart: sinceStart,
	}
}

// StatusResetEvent is emitted when status flags are cleared for a restart.
type StatusResetEvent struct {
	baseEvent
	Reason string `json:"reason"`
}

// NewStatusResetEvent creates a StatusResetEvent.
func NewStatusResetEvent(reason string) StatusResetEvent {
	return StatusResetEvent{
		baseEvent: newBaseEvent(TypeStatusReset),
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Tool Events
// -----------------------------------------------------------------------------

// ToolCalledEvent is emitted after every tool invocation.
type ToolCalledEvent struct {
	baseEvent
	Tool      string        `json:"tool"`
	RequestID string        `json:"request_id,omitempty"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration_ns"`
}

// NewToolCalledEvent creates a ToolCalledEvent.
func NewToolCalledEvent(tool, requestID string, success bool, duration time.Duration) ToolCalledEvent {
	return ToolCalledEvent{
		baseEvent: newBaseEvent(TypeToolCalled),
		Tool:      tool,
		RequestID: requestID,
		Success:   success,
		Duration:  duration,
	}
}

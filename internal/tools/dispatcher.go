package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Iron-Ham/waproxy/internal/detect"
	"github.com/Iron-Ham/waproxy/internal/errors"
	"github.com/Iron-Ham/waproxy/internal/event"
	"github.com/Iron-Ham/waproxy/internal/logging"
)

// NotAuthenticatedMessage is returned for every call while the bridge is unpaired.
const NotAuthenticatedMessage = "WhatsApp bridge is not authenticated. Please scan the QR code at /qr endpoint."

// AuthState reports whether the bridge is paired.
type AuthState interface {
	IsAuthenticated() bool
}

// Rescanner refreshes the auth state from the bridge log.
type Rescanner interface {
	ScanNow() (detect.Result, error)
}

// Recorder counts tool calls.
type Recorder interface {
	ObserveToolCall(tool string, success bool)
}

// Dispatcher gates tool calls on authentication and runs them.
type Dispatcher struct {
	registry  *Registry
	auth      AuthState
	rescanner Rescanner
	bus       *event.Bus
	recorder  Recorder
	logger    *logging.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBus publishes a tool.called event after every call.
func WithBus(bus *event.Bus) DispatcherOption {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithRecorder counts calls in r.
func WithRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l.WithComponent("tools")
		}
	}
}

// NewDispatcher creates a Dispatcher. rescanner may be nil.
func NewDispatcher(registry *Registry, auth AuthState, rescanner Rescanner, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		auth:      auth,
		rescanner: rescanner,
		logger:    logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the tools served by the dispatcher.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Call runs tool name with the JSON object in body.
func (d *Dispatcher) Call(ctx context.Context, name string, body []byte, requestID string) Response {
	start := time.Now()
	logger := d.logger.WithRequest(requestID).With("tool", name)
	logger.Info("tool call received")

	resp, rejected := d.call(ctx, name, body, logger)

	success := resp.Raw != nil || resp.Success
	switch {
	case rejected != nil:
		logger.Warn("tool call rejected",
			"error", rejected,
			"severity", errors.GetSeverity(rejected).String(),
			"duration", time.Since(start).String(),
		)
	case !success:
		logger.Warn("tool call failed", "message", resp.Message, "duration", time.Since(start).String())
	default:
		logger.Info("tool call completed", "duration", time.Since(start).String())
	}
	if d.recorder != nil {
		d.recorder.ObserveToolCall(name, success)
	}
	if d.bus != nil {
		d.bus.Publish(event.NewToolCalledEvent(name, requestID, success, time.Since(start)))
	}
	return resp
}

// call runs the tool. When the dispatcher refuses the call before a handler
// runs, the returned error says why.
func (d *Dispatcher) call(ctx context.Context, name string, body []byte, logger *logging.Logger) (Response, error) {
	args, err := decodeArgs(body)
	if err != nil {
		return Failure("Error processing request: %v", err),
			errors.NewValidationError("invalid request body").WithCause(err)
	}

	if !d.authenticated(logger) {
		return Failure(NotAuthenticatedMessage), errors.ErrNotAuthenticated
	}

	h, ok := d.registry.Lookup(name)
	if !ok {
		return Failure("Tool %s implementation not found", name),
			errors.NewNotFoundError("tool", name).WithCause(errors.ErrToolNotFound)
	}
	return h(ctx, args), nil
}

// authenticated checks the tracked state, rescanning the log once when
// the bridge is not yet known to be paired.
func (d *Dispatcher) authenticated(logger *logging.Logger) bool {
	if d.auth.IsAuthenticated() {
		return true
	}
	if d.rescanner != nil {
		if _, err := d.rescanner.ScanNow(); err != nil {
			logger.Debug("rescan before tool call failed", "error", err)
		}
	}
	return d.auth.IsAuthenticated()
}

// decodeArgs parses body as a JSON object, keeping numbers as json.Number.
func decodeArgs(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after JSON object")
	}
	args, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("request body must be a JSON object")
	}
	return args, nil
}

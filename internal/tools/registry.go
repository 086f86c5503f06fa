// Package tools dispatches tool calls to the bridge API.
//
// A tool call carries a JSON object of arguments and always yields a
// Response; failures are reported in the response body rather than as
// errors, matching what tool clients such as n8n expect.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Iron-Ham/waproxy/internal/bridgeapi"
)

// Tool names served by the default registry.
const (
	ToolSendMessage    = "send_message"
	ToolSearchContacts = "search_contacts"
)

// Response is the result of a tool call. When Raw is set it is returned
// verbatim instead of the success/message pair.
type Response struct {
	Success bool
	Message string
	Raw     json.RawMessage
}

// Failure builds an unsuccessful response.
func Failure(format string, args ...any) Response {
	return Response{Message: fmt.Sprintf(format, args...)}
}

// Passthrough wraps an upstream JSON body.
func Passthrough(raw json.RawMessage) Response {
	return Response{Success: true, Raw: raw}
}

// MarshalJSON implements json.Marshaler.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Raw != nil {
		return r.Raw, nil
	}
	return json.Marshal(struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{r.Success, r.Message})
}

// Handler runs one tool.
type Handler func(ctx context.Context, args map[string]any) Response

// Registry maps tool names to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BridgeAPI is the part of the bridge client used by the built-in tools.
type BridgeAPI interface {
	SendMessage(ctx context.Context, recipient, message string) (bridgeapi.SendResult, error)
	SearchContacts(ctx context.Context, query string) (json.RawMessage, error)
}

// DefaultRegistry returns a registry with send_message and search_contacts.
func DefaultRegistry(api BridgeAPI) *Registry {
	r := NewRegistry()
	r.Register(ToolSendMessage, SendMessage(api))
	r.Register(ToolSearchContacts, SearchContacts(api))
	return r
}

// SendMessage forwards {"recipient","message"} to the bridge.
func SendMessage(api BridgeAPI) Handler {
	return func(ctx context.Context, args map[string]any) Response {
		recipient := stringArg(args, "recipient")
		message := stringArg(args, "message")
		if recipient == "" || message == "" {
			return Failure("Recipient and message are required")
		}

		res, err := api.SendMessage(ctx, recipient, message)
		if err != nil {
			return Failure("Error sending message: %v", err)
		}
		return Response{Success: res.Success, Message: res.Message}
	}
}

// SearchContacts forwards {"query"} and returns the bridge's JSON as is.
func SearchContacts(api BridgeAPI) Handler {
	return func(ctx context.Context, args map[string]any) Response {
		raw, err := api.SearchContacts(ctx, stringArg(args, "query"))
		if err != nil {
			return Failure("Error searching contacts: %v", err)
		}
		return Passthrough(raw)
	}
}

// stringArg returns args[key] as a string. Numbers keep their JSON
// spelling so phone numbers sent unquoted still work.
func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return ""
	default:
		return fmt.Sprint(v)
	}
}

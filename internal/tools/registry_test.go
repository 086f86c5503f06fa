package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/Iron-Ham/waproxy/internal/bridgeapi"
)

type fakeAPI struct {
	sendResult bridgeapi.SendResult
	sendErr    error
	contacts   json.RawMessage
	searchErr  error

	recipient string
	message   string
	query     string
	sends     int
}

func (f *fakeAPI) SendMessage(_ context.Context, recipient, message string) (bridgeapi.SendResult, error) {
	f.sends++
	f.recipient, f.message = recipient, message
	return f.sendResult, f.sendErr
}

func (f *fakeAPI) SearchContacts(_ context.Context, query string) (json.RawMessage, error) {
	f.query = query
	return f.contacts, f.searchErr
}

func TestResponse_MarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want string
	}{
		{"failure", Failure("Tool %s implementation not found", "x"), `{"success":false,"message":"Tool x implementation not found"}`},
		{"success", Response{Success: true, Message: "sent"}, `{"success":true,"message":"sent"}`},
		{"passthrough", Passthrough(json.RawMessage(`[{"name":"Ada"}]`)), `[{"name":"Ada"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.resp)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("json = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry(&fakeAPI{})
	names := r.Names()
	if len(names) != 2 || names[0] != ToolSearchContacts || names[1] != ToolSendMessage {
		t.Errorf("Names() = %v", names)
	}
	if _, ok := r.Lookup("delete_chat"); ok {
		t.Error("unknown tool should not be found")
	}

	r.Register("ping", func(context.Context, map[string]any) Response {
		return Response{Success: true, Message: "pong"}
	})
	h, ok := r.Lookup("ping")
	if !ok || h(context.Background(), nil).Message != "pong" {
		t.Error("registered tool should be callable")
	}
}

func TestSendMessage(t *testing.T) {
	tests := []struct {
		name        string
		args        map[string]any
		api         *fakeAPI
		wantSuccess bool
		wantMessage string
		wantSent    bool
	}{
		{
			name:        "missing recipient",
			args:        map[string]any{"message": "hi"},
			api:         &fakeAPI{},
			wantMessage: "Recipient and message are required",
		},
		{
			name:        "empty message",
			args:        map[string]any{"recipient": "123", "message": ""},
			api:         &fakeAPI{},
			wantMessage: "Recipient and message are required",
		},
		{
			name:        "forwarded",
			args:        map[string]any{"recipient": "123", "message": "hi"},
			api:         &fakeAPI{sendResult: bridgeapi.SendResult{Success: true, Message: "Message sent"}},
			wantSuccess: true,
			wantMessage: "Message sent",
			wantSent:    true,
		},
		{
			name:        "numeric recipient",
			args:        map[string]any{"recipient": json.Number("4915112345678"), "message": "hi"},
			api:         &fakeAPI{sendResult: bridgeapi.SendResult{Success: true, Message: "ok"}},
			wantSuccess: true,
			wantMessage: "ok",
			wantSent:    true,
		},
		{
			name:        "upstream error",
			args:        map[string]any{"recipient": "123", "message": "hi"},
			api:         &fakeAPI{sendErr: fmt.Errorf("connection refused")},
			wantMessage: "Error sending message: connection refused",
			wantSent:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := SendMessage(tt.api)(context.Background(), tt.args)
			if resp.Success != tt.wantSuccess || resp.Message != tt.wantMessage {
				t.Errorf("response = %+v, want success=%v message=%q", resp, tt.wantSuccess, tt.wantMessage)
			}
			if (tt.api.sends > 0) != tt.wantSent {
				t.Errorf("sends = %d, wantSent %v", tt.api.sends, tt.wantSent)
			}
		})
	}
}

func TestSendMessage_NumericRecipientSpelling(t *testing.T) {
	api := &fakeAPI{}
	SendMessage(api)(context.Background(), map[string]any{"recipient": json.Number("4915112345678"), "message": "hi"})
	if api.recipient != "4915112345678" {
		t.Errorf("recipient = %q", api.recipient)
	}
}

func TestSearchContacts(t *testing.T) {
	api := &fakeAPI{contacts: json.RawMessage(`[{"name":"Ada"}]`)}
	resp := SearchContacts(api)(context.Background(), map[string]any{"query": "Ada"})
	if string(resp.Raw) != `[{"name":"Ada"}]` {
		t.Errorf("Raw = %s", resp.Raw)
	}
	if api.query != "Ada" {
		t.Errorf("query = %q", api.query)
	}

	// A missing query searches for the empty string.
	SearchContacts(api)(context.Background(), map[string]any{})
	if api.query != "" {
		t.Errorf("default query = %q", api.query)
	}

	failing := &fakeAPI{searchErr: fmt.Errorf("timeout")}
	resp = SearchContacts(failing)(context.Background(), nil)
	if resp.Raw != nil || resp.Message != "Error searching contacts: timeout" {
		t.Errorf("response = %+v", resp)
	}
}

func TestStringArg(t *testing.T) {
	args := map[string]any{
		"s":     "text",
		"n":     json.Number("42"),
		"f":     1.5,
		"true":  true,
		"false": false,
		"nil":   nil,
	}
	tests := map[string]string{
		"s":       "text",
		"n":       "42",
		"f":       "1.5",
		"true":    "true",
		"false":   "",
		"nil":     "",
		"missing": "",
	}
	for key, want := range tests {
		if got := stringArg(args, key); got != want {
			t.Errorf("stringArg(%q) = %q, want %q", key, got, want)
		}
	}
}

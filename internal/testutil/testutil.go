// Package testutil provides testing utilities for waproxy tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// AuthenticatedLine is what the bridge prints once it is paired.
const AuthenticatedLine = "Successfully connected and authenticated\n"

// QRLog is a bridge log excerpt showing a QR code.
const QRLog = "2024/05/01 12:00:00 Starting WhatsApp bridge\n" +
	"Scan this QR code with your WhatsApp app:\n" +
	"█▀▀▀▀▀█ ▄▀▄ █▀▀▀▀▀█\n" +
	"█ ███ █ ▀▄▀ █ ███ █\n" +
	"█ ▀▀▀ █ █▀█ █ ▀▀▀ █\n" +
	"▀▀▀▀▀▀▀ ▀ ▀ ▀▀▀▀▀▀▀\n"

// SkipIfNoShell skips the test if sh is not installed.
func SkipIfNoShell(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found in PATH, skipping test")
	}
}

// AppendFile appends content to path, creating it and its directory if needed.
func AppendFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// ReadFile returns the content of path, or "" if it does not exist.
func ReadFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ""
	}
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// WaitFor polls cond every 10ms and fails the test if it is still false
// after timeout.
func WaitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, what)
}

// RecordedRequest is a request received by a FakeBridgeAPI.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// FakeBridgeAPI is an httptest server standing in for the bridge REST API.
type FakeBridgeAPI struct {
	*httptest.Server

	mu       sync.Mutex
	requests []RecordedRequest

	// SendStatus and SendBody are returned by POST /api/send.
	SendStatus int
	SendBody   string
	// ContactsStatus and ContactsBody are returned by GET /api/contacts/search.
	ContactsStatus int
	ContactsBody   string
}

// NewFakeBridgeAPI starts a fake bridge API that accepts every message and
// returns an empty contact list. The server is closed when the test ends.
func NewFakeBridgeAPI(t *testing.T) *FakeBridgeAPI {
	t.Helper()

	f := &FakeBridgeAPI{
		SendStatus:     http.StatusOK,
		SendBody:       `{"success":true,"message":"Message sent"}`,
		ContactsStatus: http.StatusOK,
		ContactsBody:   `[]`,
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Close)
	return f
}

// BaseURL returns the API base the proxy should be configured with.
func (f *FakeBridgeAPI) BaseURL() string {
	return f.URL + "/api"
}

func (f *FakeBridgeAPI) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query().Get("query"),
		Body:   string(body),
	})
	sendStatus, sendBody := f.SendStatus, f.SendBody
	contactsStatus, contactsBody := f.ContactsStatus, f.ContactsBody
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/send":
		w.WriteHeader(sendStatus)
		_, _ = io.WriteString(w, sendBody)
	case r.Method == http.MethodGet && r.URL.Path == "/api/contacts/search":
		w.WriteHeader(contactsStatus)
		_, _ = io.WriteString(w, contactsBody)
	default:
		http.NotFound(w, r)
	}
}

// SetSend changes the response to POST /api/send.
func (f *FakeBridgeAPI) SetSend(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SendStatus, f.SendBody = status, body
}

// SetContacts changes the response to GET /api/contacts/search.
func (f *FakeBridgeAPI) SetContacts(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ContactsStatus, f.ContactsBody = status, body
}

// Requests returns a copy of the requests received so far.
func (f *FakeBridgeAPI) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.requests...)
}

// DecodeJSON unmarshals body into a map, failing the test on error.
func DecodeJSON(t *testing.T, body []byte) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("invalid JSON %q: %v", strings.TrimSpace(string(body)), err)
	}
	return m
}

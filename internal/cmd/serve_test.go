package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/waproxy/internal/config"
	"github.com/Iron-Ham/waproxy/internal/event"
	"github.com/Iron-Ham/waproxy/internal/logging"
	"github.com/Iron-Ham/waproxy/internal/testutil"
)

// TestApp wires the real supervisor, monitor, dispatcher and journal around
// a shell script standing in for the bridge.
func TestApp(t *testing.T) {
	testutil.SkipIfNoShell(t)

	api := testutil.NewFakeBridgeAPI(t)
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Bridge.Dir = dir
	cfg.Bridge.Command = "sh"
	cfg.Bridge.Args = []string{"-c", "echo 'Successfully connected and authenticated'; exec sleep 30"}
	cfg.Bridge.TeeOutput = false
	cfg.Bridge.APIURL = api.BaseURL()
	cfg.Bridge.StopTimeout = 2 * time.Second
	cfg.Monitor.PollInterval = 20 * time.Millisecond
	cfg.Journal.Path = filepath.Join(dir, "events.db")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logging.NopLogger())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close()

	if err := a.bridge.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	a.tracker.MarkStarted()

	monitorDone := make(chan error, 1)
	go func() { monitorDone <- a.monitor.Run(ctx) }()

	testutil.WaitFor(t, 5*time.Second, "authentication", a.tracker.IsAuthenticated)

	h := a.server.Handler()
	req := httptest.NewRequest(http.MethodPost, "/mcp/tool/send_message", strings.NewReader(`{"recipient":"15551234567","message":"hi"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := testutil.DecodeJSON(t, rec.Body.Bytes()); got["success"] != true {
		t.Errorf("send_message = %v", got)
	}
	if reqs := api.Requests(); len(reqs) != 1 || reqs[0].Path != "/api/send" {
		t.Errorf("bridge API requests = %+v", reqs)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	body := rec.Body.String()
	for _, want := range []string{event.TypeBridgeStarted, event.TypeAuthenticated, event.TypeToolCalled} {
		if !strings.Contains(body, want) {
			t.Errorf("/events missing %s: %s", want, body)
		}
	}

	cancel()
	if err := <-monitorDone; err != nil {
		t.Errorf("monitor.Run() error = %v", err)
	}
	a.close()
	if a.bridge.IsRunning() {
		t.Error("bridge should be stopped after close")
	}
}

// TestApp_AutoRestartResetsPairing covers a paired bridge that crashes and
// comes back unpaired: the proxy must show the new QR code again.
func TestApp_AutoRestartResetsPairing(t *testing.T) {
	testutil.SkipIfNoShell(t)

	api := testutil.NewFakeBridgeAPI(t)
	dir := t.TempDir()

	script := `if [ -f "$FIRST_RUN" ]; then
  printf 'Scan this QR code to pair\n█▀▀▀▀▀█ ▄ █▀▀▀▀▀█\n▀▀▀▀▀▀▀ ▀ ▀▀▀▀▀▀▀\n'
  exec sleep 30
fi
touch "$FIRST_RUN"
echo 'Successfully connected and authenticated'
sleep 1
exit 1`

	cfg := config.Default()
	cfg.Bridge.Dir = dir
	cfg.Bridge.Command = "sh"
	cfg.Bridge.Args = []string{"-c", script}
	cfg.Bridge.Env = map[string]string{"FIRST_RUN": filepath.Join(dir, "first_run")}
	cfg.Bridge.TeeOutput = false
	cfg.Bridge.AutoRestart = true
	cfg.Bridge.RestartDelay = 10 * time.Millisecond
	cfg.Bridge.APIURL = api.BaseURL()
	cfg.Bridge.StopTimeout = 2 * time.Second
	cfg.Monitor.PollInterval = 20 * time.Millisecond
	cfg.Journal.Path = filepath.Join(dir, "events.db")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logging.NopLogger())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close()

	if err := a.bridge.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	a.tracker.MarkStarted()

	monitorDone := make(chan error, 1)
	go func() { monitorDone <- a.monitor.Run(ctx) }()

	testutil.WaitFor(t, 5*time.Second, "first run authenticated", a.tracker.IsAuthenticated)
	testutil.WaitFor(t, 10*time.Second, "QR after automatic restart", func() bool {
		snap := a.tracker.Snapshot()
		return !snap.Authenticated && snap.QRGenerated
	})

	h := a.server.Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/qr", nil))
	if got := testutil.DecodeJSON(t, rec.Body.Bytes()); got["status"] != "qr_ready" {
		t.Errorf("/qr after automatic restart = %v, want qr_ready", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tool/send_message", strings.NewReader(`{"recipient":"1","message":"hi"}`)))
	if got := testutil.DecodeJSON(t, rec.Body.Bytes()); got["success"] != false {
		t.Errorf("send_message to an unpaired bridge = %v, want failure", got)
	}
	if reqs := api.Requests(); len(reqs) != 0 {
		t.Errorf("unpaired bridge should not be called, requests = %+v", reqs)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	if body := rec.Body.String(); !strings.Contains(body, "auto_restart") {
		t.Errorf("/events missing the auto_restart reset: %s", body)
	}

	cancel()
	<-monitorDone
}

func TestApplyPortFlag(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    int
		wantErr bool
	}{
		{name: "unset keeps config", want: 8000},
		{name: "valid override", args: []string{"--port", "9090"}, want: 9090},
		{name: "above range", args: []string{"--port", "70000"}, wantErr: true},
		{name: "zero", args: []string{"--port", "0"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &cobra.Command{}
			c.Flags().Int("port", 0, "")
			if err := c.Flags().Parse(tt.args); err != nil {
				t.Fatal(err)
			}

			cfg := config.Default()
			err := applyPortFlag(c, cfg)
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "server.port") {
					t.Errorf("applyPortFlag() error = %v, want server.port validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("applyPortFlag() error = %v", err)
			}
			if cfg.Server.Port != tt.want {
				t.Errorf("port = %d, want %d", cfg.Server.Port, tt.want)
			}
		})
	}
}

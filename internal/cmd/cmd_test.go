package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/waproxy/internal/client"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "waproxy" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "waproxy")
	}

	// Compare by Name(), not Use which includes args
	expectedCmds := []string{"serve", "status", "qr", "logs", "restart", "send", "contacts", "smoke", "config"}
	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}

	for _, name := range []string{"status", "qr", "logs", "restart", "send", "smoke"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil {
			t.Fatalf("Find(%s) error = %v", name, err)
		}
		if f := cmd.Flags().Lookup("addr"); f == nil || f.DefValue != defaultAddr {
			t.Errorf("%s: --addr flag missing or default wrong", name)
		}
	}
}

func TestLastLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"zero keeps everything", "a\nb\nc", 0, "a\nb\nc"},
		{"fewer lines than n", "a\nb", 5, "a\nb"},
		{"keeps the end", "a\nb\nc\nd", 2, "c\nd"},
		{"single line", "only", 1, "only"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lastLines(tt.in, tt.n); got != tt.want {
				t.Errorf("lastLines(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestRenderStatus(t *testing.T) {
	out := renderStatus(client.Status{
		Status:        "ok",
		Uptime:        "1h 2m 3s",
		Authenticated: true,
		BridgeState:   "running",
	})
	for _, want := range []string{"WhatsApp bridge", "running", "1h 2m 3s", "yes", "no"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderStatus() missing %q:\n%s", want, out)
		}
	}
}

func TestPrintQR(t *testing.T) {
	st := client.QRStatus{
		Status:         "qr_ready",
		Message:        "QR code is ready to scan",
		QR:             "Scan this QR code\n█▀▀█",
		TimeSinceStart: "4s",
	}

	t.Run("json when not a terminal", func(t *testing.T) {
		var buf bytes.Buffer
		if err := printQR(&buf, st, false); err != nil {
			t.Fatal(err)
		}
		var got client.QRStatus
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
		}
		if got != st {
			t.Errorf("decoded %+v, want %+v", got, st)
		}
	})

	t.Run("drawn on a terminal", func(t *testing.T) {
		var buf bytes.Buffer
		if err := printQR(&buf, st, true); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "█▀▀█") || !strings.Contains(buf.String(), "4s") {
			t.Errorf("output = %q", buf.String())
		}
	})

	if isTerminal(&bytes.Buffer{}) {
		t.Error("a buffer is not a terminal")
	}
}

// stubProxy answers like a running proxy whose bridge is authenticated.
func stubProxy(t *testing.T, authenticated bool) (*httptest.Server, *sentLog) {
	t.Helper()
	sent := &sentLog{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(client.Status{Status: "ok", Uptime: "0h 0m 9s", Authenticated: authenticated, BridgeState: "running"})
	})
	mux.HandleFunc("GET /qr", func(w http.ResponseWriter, r *http.Request) {
		if authenticated {
			_, _ = io.WriteString(w, `{"status":"authenticated","message":"WhatsApp is authenticated"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"starting","message":"WhatsApp bridge is starting, waiting for QR code (running for 9s)"}`)
	})
	for _, prefix := range toolPrefixes {
		mux.HandleFunc("POST "+prefix+"/send_message", func(w http.ResponseWriter, r *http.Request) {
			sent.add(r.URL.Path)
			_, _ = io.WriteString(w, `{"success":true,"message":"Message sent"}`)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, sent
}

type sentLog struct {
	mu    sync.Mutex
	paths []string
}

func (l *sentLog) add(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, path)
}

func (l *sentLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

func TestSmoke(t *testing.T) {
	t.Run("authenticated sends on every path", func(t *testing.T) {
		srv, sent := stubProxy(t, true)
		checks := smoke(context.Background(), client.New(srv.URL, 0), "15551234567", "hello")

		if len(checks) != 2+len(toolPrefixes) {
			t.Fatalf("got %d checks, want %d", len(checks), 2+len(toolPrefixes))
		}
		var out bytes.Buffer
		if err := reportSmoke(&out, checks); err != nil {
			t.Errorf("reportSmoke() error = %v\n%s", err, out.String())
		}
		if !strings.Contains(out.String(), "5/5 checks passed") {
			t.Errorf("report = %s", out.String())
		}
		if got := sent.get(); len(got) != len(toolPrefixes) {
			t.Errorf("sent on %v, want every tool path", got)
		}
	})

	t.Run("unauthenticated skips sending", func(t *testing.T) {
		srv, sent := stubProxy(t, false)
		checks := smoke(context.Background(), client.New(srv.URL, 0), "15551234567", "hello")
		if len(checks) != 2 || len(sent.get()) != 0 {
			t.Errorf("checks = %d, sent = %v", len(checks), sent.get())
		}
	})

	t.Run("unreachable proxy fails", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		var out bytes.Buffer
		err := reportSmoke(&out, smoke(context.Background(), client.New(url, 0), "", ""))
		if err == nil || !strings.Contains(out.String(), "FAIL GET /") {
			t.Errorf("reportSmoke() error = %v, output = %s", err, out.String())
		}
	})
}

func TestConfigInitAndShow(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("PORT", "")
	t.Setenv("WAPROXY_SERVER_PORT", "")

	output, err := executeCommand(rootCmd, "config", "init")
	if err != nil {
		t.Fatalf("config init error = %v\n%s", err, output)
	}
	path := filepath.Join(dir, "waproxy", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	for _, want := range []string{"# waproxy configuration", "api_url: http://localhost:8080/api", "poll_interval: 5s"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("config file missing %q", want)
		}
	}

	if _, err := executeCommand(rootCmd, "config", "init"); err == nil {
		t.Error("second config init should refuse to overwrite")
	}

	output, err = executeCommand(rootCmd, "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if !strings.Contains(output, "port: 8000") {
		t.Errorf("config show output missing server port:\n%s", output)
	}
}

package detect

import (
	"strings"
	"testing"
)

const qrSample = "2024/01/01 12:00:00 Starting bridge\n" +
	"Scan this QR code with your WhatsApp app:\n" +
	"█▀▀▀▀▀█ ▄▀ █▀▀▀▀▀█\n" +
	"█ ███ █ ▀▄ █ ███ █\n" +
	"▀▀▀▀▀▀▀ ▀ ▀▀▀▀▀▀▀\n" +
	"2024/01/01 12:00:01 Waiting for scan\n"

func defaultPatterns() Patterns {
	return Patterns{
		Authenticated: "Successfully connected and authenticated",
		QRMarker:      "Scan this QR code",
		QRBlock:       `(█+[\s\S]*?QR code[\s\S]*?▀▀▀▀)`,
	}
}

func newTestScanner(t *testing.T, p Patterns) *Scanner {
	t.Helper()
	s, err := NewScanner(p)
	if err != nil {
		t.Fatalf("NewScanner failed: %v", err)
	}
	return s
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StatePending, "pending"},
		{StateQRReady, "qr_ready"},
		{StateAuthenticated, "authenticated"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewScanner(t *testing.T) {
	t.Run("requires literal markers", func(t *testing.T) {
		if _, err := NewScanner(Patterns{QRMarker: "x"}); err == nil {
			t.Error("expected error without authenticated marker")
		}
		if _, err := NewScanner(Patterns{Authenticated: "x"}); err == nil {
			t.Error("expected error without QR marker")
		}
	})

	t.Run("rejects invalid regexes", func(t *testing.T) {
		p := defaultPatterns()
		p.QRBlock = "(["
		if _, err := NewScanner(p); err == nil {
			t.Error("expected error for invalid QR block pattern")
		}

		p = defaultPatterns()
		p.PairingCode = "(?P<"
		if _, err := NewScanner(p); err == nil {
			t.Error("expected error for invalid pairing code pattern")
		}
	})
}

func TestScanner_Scan(t *testing.T) {
	s := newTestScanner(t, defaultPatterns())

	tests := []struct {
		name      string
		content   string
		wantState State
	}{
		{"empty", "", StatePending},
		{"no markers", "starting up\nconnecting...\n", StatePending},
		{"qr ready", qrSample, StateQRReady},
		{"authenticated", "Successfully connected and authenticated!\n", StateAuthenticated},
		{"authenticated wins over qr", qrSample + "Successfully connected and authenticated\n", StateAuthenticated},
		{"marker without glyphs", "Scan this QR code with your WhatsApp app:\nerror: timeout\n", StatePending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Scan([]byte(tt.content))
			if got := res.State(); got != tt.wantState {
				t.Errorf("State() = %v, want %v", got, tt.wantState)
			}
			if res.Authenticated && res.QR != "" {
				t.Error("authenticated result should carry no QR code")
			}
		})
	}
}

func TestScanner_ExtractsBlockAfterMarker(t *testing.T) {
	s := newTestScanner(t, defaultPatterns())

	res := s.Scan([]byte(qrSample))
	if !res.QRPresent {
		t.Fatal("expected QR code to be present")
	}

	lines := strings.Split(res.QR, "\n")
	if len(lines) != 4 {
		t.Fatalf("QR has %d lines, want 4:\n%s", len(lines), res.QR)
	}
	if !strings.HasPrefix(lines[0], "Scan this QR code") {
		t.Errorf("first line = %q, want marker line", lines[0])
	}
	if strings.Contains(res.QR, "Waiting for scan") {
		t.Error("QR block should stop at the first non-glyph line")
	}
}

func TestScanner_UsesLastMarker(t *testing.T) {
	s := newTestScanner(t, defaultPatterns())

	content := "Scan this QR code (old):\n█▀▀█ old\n" + // not a glyph line, ignored
		"Scan this QR code (old):\n▀▀▀▀\n" +
		"Scan this QR code (new):\n\n█▄▄█\n▀▀▀▀\n"

	res := s.Scan([]byte(content))
	want := "Scan this QR code (new):\n█▄▄█\n▀▀▀▀"
	if res.QR != want {
		t.Errorf("QR = %q, want %q", res.QR, want)
	}
}

func TestScanner_FallsBackToRegex(t *testing.T) {
	s := newTestScanner(t, defaultPatterns())

	// Glyphs precede the marker text on the same lines, so the line-based
	// extractor finds nothing and the regex has to match.
	content := "████ Scan this QR code ████\nfooter ▀▀▀▀ done\n"

	res := s.Scan([]byte(content))
	if !res.QRPresent {
		t.Fatal("expected regex fallback to find the QR code")
	}
	if !strings.HasPrefix(res.QR, "████") || !strings.HasSuffix(res.QR, "▀▀▀▀") {
		t.Errorf("QR = %q", res.QR)
	}
}

func TestScanner_NoFallbackWhenDisabled(t *testing.T) {
	p := defaultPatterns()
	p.QRBlock = ""
	s := newTestScanner(t, p)

	res := s.Scan([]byte("████ Scan this QR code ████\nfooter ▀▀▀▀ done\n"))
	if res.QRPresent {
		t.Errorf("no QR expected without fallback, got %q", res.QR)
	}
}

func TestScanner_PairingCode(t *testing.T) {
	p := defaultPatterns()
	p.PairingCode = `QR payload: (\S+)`
	s := newTestScanner(t, p)

	content := "QR payload: stale\n" + qrSample + "QR payload: 2@abc,def\nQR payload: 2@fresh,xyz\n"

	res := s.Scan([]byte(content))
	if res.PairingCode != "2@fresh,xyz" {
		t.Errorf("PairingCode = %q, want %q", res.PairingCode, "2@fresh,xyz")
	}
}

func TestScanner_StripsAnsi(t *testing.T) {
	s := newTestScanner(t, defaultPatterns())

	content := "\x1b[32mSuccessfully connected and authenticated\x1b[0m\n"
	if !s.Scan([]byte(content)).Authenticated {
		t.Error("ANSI color codes should not hide the authenticated marker")
	}
}

func TestStripAnsi(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello", "hello"},
		{"color", "\x1b[31mred\x1b[0m", "red"},
		{"cursor", "\x1b[?25lhidden\x1b[?25h", "hidden"},
		{"osc title", "\x1b]0;title\x07text", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripAnsi(tt.input); got != tt.want {
				t.Errorf("StripAnsi(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsQRLine(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"█▀▀▀▀▀█ ▄▀ █", true},
		{"   ▄▄   ", true},
		{"", false},
		{"     ", false},
		{"█ text █", false},
	}

	for _, tt := range tests {
		if got := isQRLine(tt.line); got != tt.want {
			t.Errorf("isQRLine(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

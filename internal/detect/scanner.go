// Package detect infers the bridge's pairing state from its log output.
//
// The bridge prints a fixed line once it is paired and a QR code (drawn
// with block characters) when a new device must be linked. A Scanner looks
// for both in a chunk of log text; a Tail feeds it incrementally from the
// growing log file.
package detect

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// State is the pairing state visible in the log.
type State int

const (
	// StatePending means neither a QR code nor a successful pairing has been seen.
	StatePending State = iota
	// StateQRReady means a QR code is waiting to be scanned.
	StateQRReady
	// StateAuthenticated means the bridge reported a successful pairing.
	StateAuthenticated
)

// String returns a human-readable string for the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateQRReady:
		return "qr_ready"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Result is what a scan found.
type Result struct {
	Authenticated bool
	// QRPresent reports whether QR was extracted.
	QRPresent bool
	// QR is the marker line followed by the QR block, as printed.
	QR string
	// PairingCode is the raw pairing payload, when a pairing pattern is configured.
	PairingCode string
}

// State collapses the result into a State.
func (r Result) State() State {
	switch {
	case r.Authenticated:
		return StateAuthenticated
	case r.QRPresent:
		return StateQRReady
	default:
		return StatePending
	}
}

// Patterns configures a Scanner.
type Patterns struct {
	// Authenticated is a literal printed once pairing succeeded.
	Authenticated string
	// QRMarker is a literal printed right before a QR code.
	QRMarker string
	// QRBlock is a fallback regex; its first group (or whole match) is the QR text.
	QRBlock string
	// PairingCode is an optional regex whose first group captures the raw payload.
	PairingCode string
}

// Scanner matches bridge output against compiled patterns.
// It holds no mutable state and is safe for concurrent use.
type Scanner struct {
	authenticated []byte
	qrMarker      []byte
	qrBlock       *regexp.Regexp
	pairingCode   *regexp.Regexp
}

// NewScanner compiles p. Empty regex patterns are disabled.
func NewScanner(p Patterns) (*Scanner, error) {
	if p.Authenticated == "" || p.QRMarker == "" {
		return nil, fmt.Errorf("authenticated and QR marker patterns are required")
	}

	s := &Scanner{
		authenticated: []byte(p.Authenticated),
		qrMarker:      []byte(p.QRMarker),
	}

	var err error
	if p.QRBlock != "" {
		if s.qrBlock, err = regexp.Compile(p.QRBlock); err != nil {
			return nil, fmt.Errorf("invalid QR block pattern: %w", err)
		}
	}
	if p.PairingCode != "" {
		if s.pairingCode, err = regexp.Compile(p.PairingCode); err != nil {
			return nil, fmt.Errorf("invalid pairing code pattern: %w", err)
		}
	}
	return s, nil
}

// IsAuthenticated reports whether content contains the authenticated marker.
func (s *Scanner) IsAuthenticated(content []byte) bool {
	return bytes.Contains(content, s.authenticated)
}

// Scan inspects content. Once the authenticated marker appears anywhere,
// no QR code is reported.
func (s *Scanner) Scan(content []byte) Result {
	if len(content) == 0 {
		return Result{}
	}

	text := StripAnsi(string(content))

	if strings.Contains(text, string(s.authenticated)) {
		return Result{Authenticated: true}
	}

	idx := strings.LastIndex(text, string(s.qrMarker))
	if idx < 0 {
		return Result{}
	}

	var res Result
	res.QR = extractBlock(text[idx:])
	if res.QR == "" && s.qrBlock != nil {
		res.QR = firstGroup(s.qrBlock, text)
	}
	res.QRPresent = res.QR != ""

	if s.pairingCode != nil {
		matches := s.pairingCode.FindAllStringSubmatch(text[idx:], -1)
		if len(matches) > 0 {
			last := matches[len(matches)-1]
			if len(last) > 1 {
				res.PairingCode = strings.TrimSpace(last[1])
			} else {
				res.PairingCode = strings.TrimSpace(last[0])
			}
		}
	}
	return res
}

// extractBlock returns the marker line plus the run of QR glyph lines that
// follows it, or "" when no glyph line follows. text starts at the marker.
func extractBlock(text string) string {
	lines := strings.Split(text, "\n")
	header := strings.TrimRight(lines[0], "\r")

	var block []string
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if isQRLine(line) {
			block = append(block, line)
			continue
		}
		// Blank lines may separate the marker from the code.
		if len(block) == 0 && strings.TrimSpace(line) == "" {
			continue
		}
		break
	}

	if len(block) == 0 {
		return ""
	}
	return header + "\n" + strings.Join(block, "\n")
}

// isQRLine reports whether line is drawn only with QR glyphs and spaces
// and contains at least one glyph.
func isQRLine(line string) bool {
	glyphs := 0
	for _, r := range line {
		switch r {
		case '█', '▀', '▄':
			glyphs++
		case ' ', '\t':
		default:
			return false
		}
	}
	return glyphs > 0
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if len(m) > 1 {
		return m[1]
	}
	return m[0]
}

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07`)

// StripAnsi removes ANSI escape codes from text.
// This handles both CSI sequences (ESC[...letter) and OSC sequences (ESC]...BEL).
func StripAnsi(text string) string {
	if !strings.Contains(text, "\x1b") {
		return text
	}
	return ansiRegex.ReplaceAllString(text, "")
}

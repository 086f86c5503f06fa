// Package status keeps the proxy's view of the bridge: whether it was
// started, whether it is paired, and the QR code it is currently showing.
package status

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/waproxy/internal/detect"
)

// Snapshot is a point-in-time copy of the tracked status.
type Snapshot struct {
	Started       bool      `json:"started"`
	Authenticated bool      `json:"authenticated"`
	QRGenerated   bool      `json:"qr_generated"`
	StartTime     time.Time `json:"start_time"`
	LastLogCheck  time.Time `json:"last_log_check"`
	QR            string    `json:"qr,omitempty"`
	PairingCode   string    `json:"pairing_code,omitempty"`
}

// Transition reports which flags flipped on in a single Apply.
type Transition struct {
	QRReady       bool
	Authenticated bool
}

// Changed reports whether anything flipped.
func (t Transition) Changed() bool {
	return t.QRReady || t.Authenticated
}

// Tracker holds the bridge status shared by the monitor, the supervisor
// and the HTTP handlers. It is safe for concurrent use.
type Tracker struct {
	mu  sync.RWMutex
	now func() time.Time

	started       bool
	authenticated bool
	qrGenerated   bool
	startTime     time.Time
	lastLogCheck  time.Time
	qr            string
	pairingCode   string
}

// NewTracker creates a Tracker whose clock starts now.
func NewTracker() *Tracker {
	return newTrackerWithClock(time.Now)
}

func newTrackerWithClock(now func() time.Time) *Tracker {
	return &Tracker{now: now, startTime: now()}
}

// MarkStarted records that the proxy has finished booting.
func (t *Tracker) MarkStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
}

// Apply folds a scan result into the status and reports which flags
// became true. Once authenticated, the QR code is dropped.
func (t *Tracker) Apply(res detect.Result) Transition {
	t.mu.Lock()
	defer t.mu.Unlock()

	var tr Transition
	if res.Authenticated {
		if !t.authenticated {
			tr.Authenticated = true
		}
		t.authenticated = true
		t.qrGenerated = false
		t.qr = ""
		t.pairingCode = ""
		return tr
	}

	if !t.authenticated && res.QRPresent {
		// A new QR code (the bridge rotates them) counts as a fresh transition.
		if !t.qrGenerated || t.qr != res.QR {
			tr.QRReady = true
		}
		t.qrGenerated = true
		t.qr = res.QR
		t.pairingCode = res.PairingCode
	}
	return tr
}

// Touch records that the log was just inspected.
func (t *Tracker) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastLogCheck = t.now()
}

// Reset clears authentication and QR state and restarts the uptime clock.
// It is called whenever the bridge is restarted.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.authenticated = false
	t.qrGenerated = false
	t.qr = ""
	t.pairingCode = ""
	t.startTime = t.now()
}

// IsAuthenticated reports whether the bridge is paired.
func (t *Tracker) IsAuthenticated() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.authenticated
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Snapshot{
		Started:       t.started,
		Authenticated: t.authenticated,
		QRGenerated:   t.qrGenerated,
		StartTime:     t.startTime,
		LastLogCheck:  t.lastLogCheck,
		QR:            t.qr,
		PairingCode:   t.pairingCode,
	}
}

// Uptime returns the time since the last start or reset.
func (t *Tracker) Uptime() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.now().Sub(t.startTime)
}

// FormatUptime renders d as "{h}h {m}m {s}s", truncated to whole seconds.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%dh %dm %ds", total/3600, (total%3600)/60, total%60)
}

// FormatSeconds renders d as whole seconds, e.g. "42s".
func FormatSeconds(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%ds", int(d/time.Second))
}

// QRLines counts the lines of a QR block.
func QRLines(qr string) int {
	if qr == "" {
		return 0
	}
	return strings.Count(qr, "\n") + 1
}

package status

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/waproxy/internal/detect"
	"github.com/Iron-Ham/waproxy/internal/errors"
	"github.com/Iron-Ham/waproxy/internal/event"
	"github.com/Iron-Ham/waproxy/internal/logging"
)

// debounceDelay coalesces bursts of writes to the log into one scan.
const debounceDelay = 100 * time.Millisecond

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	LogPath      string
	PollInterval time.Duration
	ErrorBackoff time.Duration
	// WatchFile scans as soon as the log file changes, in addition to polling.
	WatchFile   bool
	WindowBytes int
}

// Monitor polls the bridge log and keeps a Tracker up to date.
type Monitor struct {
	opts    MonitorOptions
	tail    *detect.Tail
	tracker *Tracker
	bus     *event.Bus
	logger  *logging.Logger

	// scanMu serializes scans from the loop and from ScanNow.
	scanMu sync.Mutex
}

// NewMonitor creates a Monitor. A nil logger discards output.
func NewMonitor(opts MonitorOptions, scanner *detect.Scanner, tracker *Tracker, bus *event.Bus, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Monitor{
		opts:    opts,
		tail:    detect.NewTail(opts.LogPath, scanner, opts.WindowBytes),
		tracker: tracker,
		bus:     bus,
		logger:  logger.WithComponent("monitor"),
	}
}

// ScanNow reads any new log output and applies it to the tracker.
// A missing log file returns errors.ErrLogNotFound.
func (m *Monitor) ScanNow() (detect.Result, error) {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()

	res, err := m.tail.Poll()
	m.tracker.Touch()
	if err != nil {
		return res, err
	}

	tr := m.tracker.Apply(res)
	if tr.QRReady {
		m.logger.Info("QR code detected", "lines", QRLines(res.QR))
		m.publish(event.NewQRReadyEvent(QRLines(res.QR), res.PairingCode != ""))
	}
	if tr.Authenticated {
		m.logger.Info("bridge authenticated")
		m.publish(event.NewAuthenticatedEvent(m.tracker.Uptime()))
	}
	return res, nil
}

// ResetReasonAutoRestart is the status.reset reason published by Attach.
const ResetReasonAutoRestart = "auto_restart"

// Attach resets the pairing state whenever the supervisor restarts the
// bridge on its own, and returns the subscription ID. Requested restarts are
// reset by whoever made the request.
func (m *Monitor) Attach(bus *event.Bus) string {
	return bus.Subscribe(event.TypeBridgeStarted, func(e event.Event) {
		ev, ok := e.(event.BridgeStartedEvent)
		if !ok || !ev.Automatic {
			return
		}
		m.ResetStatus()
		m.logger.Info("pairing state reset after automatic restart", "pid", ev.PID)
		m.publish(event.NewStatusResetEvent(ResetReasonAutoRestart))
	})
}

// ResetStatus clears the tracker and rewinds the log in one step, so a scan
// of the previous bridge's output cannot land after the reset.
func (m *Monitor) ResetStatus() {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()
	m.tail.Reset()
	m.tracker.Reset()
}

// Reset forgets previously read output so the next scan starts at the
// beginning of the log file.
func (m *Monitor) Reset() {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()
	m.tail.Reset()
}

// Window returns the most recent log output seen by the monitor.
func (m *Monitor) Window() []byte {
	return m.tail.Window()
}

func (m *Monitor) publish(e event.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}

// Run scans the log until ctx is cancelled. Scans happen immediately,
// then every PollInterval, and after a change to the log file when
// WatchFile is set. A failed scan delays the next one by ErrorBackoff.
func (m *Monitor) Run(ctx context.Context) error {
	var (
		events  <-chan fsnotify.Event
		errorsC <-chan error
	)
	if m.opts.WatchFile {
		watcher, err := m.watch()
		if err != nil {
			m.logger.Warn("file watching disabled", "error", err)
		} else {
			defer func() { _ = watcher.Close() }()
			events = watcher.Events
			errorsC = watcher.Errors
		}
	}

	poll := time.NewTimer(0)
	defer poll.Stop()

	debounce := time.NewTimer(0)
	<-debounce.C // drain initial timer
	defer debounce.Stop()

	base := filepath.Base(m.opts.LogPath)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-poll.C:
			poll.Reset(m.next(m.scan()))

		case <-debounce.C:
			if err := m.scan(); err != nil {
				poll.Reset(m.next(err))
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != base || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			debounce.Reset(debounceDelay)

		case err, ok := <-errorsC:
			if !ok {
				errorsC = nil
				continue
			}
			m.logger.Warn("file watcher error", "error", err)
		}
	}
}

// watch observes the directory holding the log, since the file itself is
// removed and recreated on every bridge restart.
func (m *Monitor) watch() (*fsnotify.Watcher, error) {
	dir := filepath.Dir(m.opts.LogPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return watcher, nil
}

// scan runs one scan; a missing log file is not an error.
func (m *Monitor) scan() error {
	_, err := m.ScanNow()
	if err == nil || errors.Is(err, errors.ErrLogNotFound) {
		return nil
	}
	m.logger.Error("log scan failed", "error", err, "backoff", m.opts.ErrorBackoff.String())
	return err
}

func (m *Monitor) next(err error) time.Duration {
	if err != nil {
		return m.opts.ErrorBackoff
	}
	return m.opts.PollInterval
}

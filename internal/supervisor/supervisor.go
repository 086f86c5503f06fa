// Package supervisor runs the bridge as a child process.
//
// The bridge's stdout and stderr are written to a log file which is
// removed before every start, so the log only ever describes the current
// process. Stopping sends SIGTERM to the bridge's process group and
// escalates to SIGKILL after a grace period.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/waproxy/internal/config"
	"github.com/Iron-Ham/waproxy/internal/errors"
	"github.com/Iron-Ham/waproxy/internal/event"
	"github.com/Iron-Ham/waproxy/internal/logging"
)

// State represents the lifecycle state of the bridge process.
type State int

const (
	// StateStopped indicates the bridge has not been started or was stopped.
	StateStopped State = iota

	// StateStarting indicates the process is being spawned.
	StateStarting

	// StateRunning indicates the process is alive.
	StateRunning

	// StateStopping indicates a stop is in progress.
	StateStopping

	// StateExited indicates the process exited without being asked to.
	StateExited

	// StateFailed indicates the last start attempt failed.
	StateFailed
)

// String returns a human-readable string for the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateExited:
		return "exited"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures a Supervisor.
type Options struct {
	// Dir is the working directory of the bridge.
	Dir     string
	Command string
	Args    []string
	// StorePath is created before every start when non-empty.
	StorePath string
	// LogPath receives the combined output of the bridge.
	LogPath string
	Env     map[string]string

	// Tee also copies bridge output to this writer when non-nil.
	Tee io.Writer

	AutoRestart  bool
	RestartDelay time.Duration
	StopTimeout  time.Duration
}

// OptionsFromConfig builds Options from the bridge section of the config.
func OptionsFromConfig(cfg config.BridgeConfig) Options {
	opts := Options{
		Dir:          cfg.Dir,
		Command:      cfg.Command,
		Args:         append([]string(nil), cfg.Args...),
		StorePath:    cfg.StorePath(),
		LogPath:      cfg.LogPath(),
		Env:          cfg.Env,
		AutoRestart:  cfg.AutoRestart,
		RestartDelay: cfg.RestartDelay,
		StopTimeout:  cfg.StopTimeout,
	}
	if cfg.TeeOutput {
		opts.Tee = os.Stderr
	}
	return opts
}

// CommandLine returns the command and its arguments joined by spaces.
func (o Options) CommandLine() string {
	return strings.Join(append([]string{o.Command}, o.Args...), " ")
}

// Info describes the supervised process.
type Info struct {
	State     string    `json:"state"`
	PID       int       `json:"pid,omitempty"`
	StartTime time.Time `json:"start_time"`
	ExitCode  int       `json:"exit_code"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error,omitempty"`
}

// Supervisor owns a single bridge process. It is safe for concurrent use.
type Supervisor struct {
	opts   Options
	bus    *event.Bus
	logger *logging.Logger

	// opMu serializes Start, Stop and Restart.
	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	proc      *os.Process
	done      chan struct{} // closed when the current process has exited
	stopping  bool
	starts    int
	startTime time.Time
	exitCode  int
	restarts  int
	lastErr   error
}

// New creates a Supervisor. bus and logger may be nil.
func New(opts Options, bus *event.Bus, logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Supervisor{
		opts:   opts,
		bus:    bus,
		logger: logger.WithComponent("supervisor"),
	}
}

// Start spawns the bridge. It fails with ErrBridgeAlreadyRunning when a
// process is alive. ctx bounds automatic restarts of this process.
func (s *Supervisor) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.start(ctx, false)
}

func (s *Supervisor) start(ctx context.Context, automatic bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.proc != nil {
		pid := s.proc.Pid
		s.mu.Unlock()
		return errors.NewBridgeError("cannot start bridge", errors.ErrBridgeAlreadyRunning).WithPID(pid)
	}
	s.state = StateStarting
	s.mu.Unlock()

	cmd, logFile, err := s.spawn()
	if err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Error("failed to start bridge", "command", s.opts.CommandLine(), "error", err)
		return err
	}

	done := make(chan struct{})
	pid := cmd.Process.Pid

	s.mu.Lock()
	restart := s.starts > 0
	s.starts++
	s.state = StateRunning
	s.proc = cmd.Process
	s.done = done
	s.startTime = time.Now()
	s.exitCode = 0
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Info("bridge started", "pid", pid, "command", s.opts.CommandLine(), "log", s.opts.LogPath)
	started := event.NewBridgeStartedEvent(pid, s.opts.CommandLine(), s.opts.LogPath, restart)
	started.Automatic = automatic
	s.publish(started)

	go s.wait(ctx, cmd, logFile, done)
	return nil
}

// spawn prepares the store and log file and starts the process.
func (s *Supervisor) spawn() (*exec.Cmd, *os.File, error) {
	command := s.opts.CommandLine()

	if s.opts.StorePath != "" {
		if err := os.MkdirAll(s.opts.StorePath, 0755); err != nil {
			return nil, nil, errors.NewBridgeError("failed to create store directory", err).WithCommand(command)
		}
	}

	// Start from an empty log so stale QR codes are never reported.
	if err := os.Remove(s.opts.LogPath); err != nil && !os.IsNotExist(err) {
		return nil, nil, errors.NewBridgeError("failed to remove old log", err).WithCommand(command)
	}
	if err := os.MkdirAll(filepath.Dir(s.opts.LogPath), 0755); err != nil {
		return nil, nil, errors.NewBridgeError("failed to create log directory", err).WithCommand(command)
	}
	logFile, err := os.OpenFile(s.opts.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, errors.NewBridgeError("failed to open log", err).WithCommand(command)
	}

	var out io.Writer = logFile
	if s.opts.Tee != nil {
		out = io.MultiWriter(logFile, s.opts.Tee)
	}

	cmd := exec.Command(s.opts.Command, s.opts.Args...)
	cmd.Dir = s.opts.Dir
	cmd.Env = append(os.Environ(), envList(s.opts.Env)...)
	cmd.Stdout = out
	cmd.Stderr = out
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, nil, errors.NewBridgeError("failed to spawn bridge",
			errors.Join(errors.ErrBridgeStartFailed, err)).WithCommand(command)
	}
	return cmd, logFile, nil
}

// envList renders env as sorted KEY=value pairs.
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return list
}

// wait reaps the process and, when configured, restarts it after an
// unexpected exit.
func (s *Supervisor) wait(ctx context.Context, cmd *exec.Cmd, logFile *os.File, done chan struct{}) {
	err := cmd.Wait()
	_ = logFile.Close()

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	pid := cmd.Process.Pid

	s.mu.Lock()
	intentional := s.stopping
	s.proc = nil
	s.exitCode = exitCode
	if intentional {
		s.state = StateStopped
	} else {
		s.state = StateExited
		s.lastErr = err
	}
	willRestart := !intentional && s.opts.AutoRestart && ctx.Err() == nil
	close(done)
	s.mu.Unlock()

	if intentional {
		return
	}

	s.logger.Warn("bridge exited", "pid", pid, "exit_code", exitCode, "error", err, "will_restart", willRestart)
	s.publish(event.NewBridgeExitedEvent(pid, exitCode, err, willRestart))

	if !willRestart {
		return
	}

	timer := time.NewTimer(s.opts.RestartDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	// A manual start may have happened during the delay.
	if s.IsRunning() {
		return
	}
	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
	if err := s.start(ctx, true); err != nil {
		s.logger.Error("automatic restart failed", "error", err)
	}
}

// Stop terminates the bridge, escalating to SIGKILL after StopTimeout.
// Stopping a bridge that is not running is a no-op.
func (s *Supervisor) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stop("requested")
}

func (s *Supervisor) stop(reason string) error {
	s.mu.Lock()
	proc := s.proc
	done := s.done
	if proc == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.state = StateStopping
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.stopping = false
		s.mu.Unlock()
	}()

	pid := proc.Pid
	s.logger.Info("stopping bridge", "pid", pid, "reason", reason)

	forced := false
	if err := terminate(proc); err != nil {
		s.logger.Debug("terminate signal failed", "pid", pid, "error", err)
	}

	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		forced = true
		s.logger.Warn("bridge did not stop gracefully, force killing", "pid", pid)
		if err := kill(proc); err != nil {
			s.logger.Debug("kill signal failed", "pid", pid, "error", err)
		}
		timer.Reset(s.opts.StopTimeout)
		select {
		case <-done:
		case <-timer.C:
			return errors.NewBridgeError("bridge did not exit",
				errors.NewTimeoutError("stopping bridge", 2*s.opts.StopTimeout)).
				WithPID(pid).
				WithSeverity(errors.SeverityCritical)
		}
	}

	s.publish(event.NewBridgeStoppedEvent(pid, forced, reason))
	return nil
}

// Restart stops the bridge if it is running and starts it again.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.stop("restart"); err != nil {
		return err
	}
	s.mu.Lock()
	if s.starts > 0 {
		s.restarts++
	}
	s.mu.Unlock()
	return s.start(ctx, false)
}

// IsRunning reports whether a bridge process is alive.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LogPath returns the path of the bridge log file.
func (s *Supervisor) LogPath() string {
	return s.opts.LogPath
}

// Info returns a description of the supervised process.
func (s *Supervisor) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		State:     s.state.String(),
		StartTime: s.startTime,
		ExitCode:  s.exitCode,
		Restarts:  s.restarts,
	}
	if s.proc != nil {
		info.PID = s.proc.Pid
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	return info
}

// Done returns a channel closed when the current process exits, or nil
// when no process is running.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return nil
	}
	return s.done
}

func (s *Supervisor) publish(e event.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

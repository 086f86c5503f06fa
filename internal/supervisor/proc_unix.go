//go:build unix

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcAttr puts the bridge in its own process group, so that the
// binary spawned by "go run" is signalled along with it.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// terminate asks the process group to exit.
func terminate(p *os.Process) error {
	return signalGroup(p, syscall.SIGTERM)
}

// kill forcibly ends the process group.
func kill(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	// Negative PID signals the whole group; fall back to the process alone.
	if err := syscall.Kill(-p.Pid, sig); err != nil {
		return p.Signal(sig)
	}
	return nil
}

// isProcessAlive reports whether pid exists. Signal 0 checks without
// affecting the process; EPERM means it exists under another user.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

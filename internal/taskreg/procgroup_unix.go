//go:build darwin || linux

package taskreg

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// setupProcessGroup gives the child its own session so a forced kill
// reaps the whole tree, including grandchildren holding the output
// pipes open.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
	cmd.WaitDelay = 3 * time.Second
}

// signalGroup sends sig to the child's process group. Invalid pids are
// treated as already-exited; kill(-1)/kill(0) hit far more than the
// child and must never be issued.
func signalGroup(cmd *exec.Cmd, sig os.Signal) error {
	if cmd.Process == nil {
		return os.ErrProcessDone
	}
	pid := cmd.Process.Pid
	if pid <= 1 {
		return os.ErrProcessDone
	}
	s, ok := sig.(syscall.Signal)
	if !ok {
		return cmd.Process.Signal(sig)
	}
	if err := syscall.Kill(-pid, s); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}

func termSignal() os.Signal { return syscall.SIGTERM }
func killSignal() os.Signal { return syscall.SIGKILL }

//go:build unix

// Package osutil holds process helpers for commands skilldeck spawns.
package osutil

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// GracefulShutdownDelay is how long a cancelled installer gets between
// SIGTERM and SIGKILL.
const GracefulShutdownDelay = 2 * time.Second

// Supervise prepares cmd so that cancelling its context stops the whole
// process tree: the command runs in its own process group, the group gets
// SIGTERM on cancel and SIGKILL after GracefulShutdownDelay. Wait gives up on
// output pipes held open by orphans after twice that delay. cmd must come
// from exec.CommandContext and Supervise must run before cmd.Start.
func Supervise(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = 2 * GracefulShutdownDelay
	cmd.Cancel = func() error {
		pgid := -cmd.Process.Pid
		if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
			if errors.Is(err, syscall.ESRCH) {
				return nil
			}
			return errors.Wrap(err, "failed to signal process group")
		}
		time.AfterFunc(GracefulShutdownDelay, func() {
			_ = syscall.Kill(pgid, syscall.SIGKILL)
		})
		return nil
	}
}

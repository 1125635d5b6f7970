//go:build unix

package send

import (
	"os/exec"
	"syscall"
)

// detach starts cmd in its own session, so sendmail continuing in the
// background is not killed with the terminal.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

//go:build !unix

package send

import (
	"os/exec"
)

func detach(cmd *exec.Cmd) {
}

//go:build !linux

package judge

import (
	"log/slog"
	"os/exec"
)

// Process groups are only managed on Linux; elsewhere only the direct child
// is killed.
func setProcAttr(cmd *exec.Cmd) {
	slog.Debug("process groups are not supported on this OS")
}

func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

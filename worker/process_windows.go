//go:build windows

package worker

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

const (
	shell     = "cmd"
	shellFlag = "/c"
)

func quote(s string) string {
	return `"` + s + `"`
}

func setProcAttr(cmd *exec.Cmd) {}

func kill(cmd *exec.Cmd) error {
	err := cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.WSAECONNREFUSED) || errors.Is(err, syscall.ECONNREFUSED)
}

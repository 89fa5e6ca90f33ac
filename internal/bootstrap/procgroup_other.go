//go:build !unix

package bootstrap

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func signalGroup(proc *os.Process, sig os.Signal) error {
	if sig == os.Kill {
		return proc.Kill()
	}
	return proc.Signal(sig)
}

//go:build linux

package supervisor

import (
	"os/exec"
	"syscall"
)

// bindLifetime arranges for the child to receive SIGKILL the moment this
// process dies, including on a hard crash or SIGKILL of the mediator itself.
// Linux exposes this directly via the Pdeathsig field of SysProcAttr, which
// the kernel honors unconditionally once the parent thread that started the
// child exits — no prctl syscall needed from Go's side.
func bindLifetime(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

func afterStart(cmd *exec.Cmd) error {
	return nil
}

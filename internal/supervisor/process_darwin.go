//go:build darwin

package supervisor

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// macOS has no PR_SET_PDEATHSIG equivalent. Instead we put the child in its
// own process group (so a later SIGKILL to the group doesn't also hit
// ourselves) and spawn a watcher goroutine that registers a kqueue
// EVFILT_PROC/NOTE_EXIT watch on our own pid; if we die, the kernel can no
// longer deliver anything to the child directly, so the watcher must run in
// a goroutine that is scheduled as long as this process is alive and kills
// the process group the instant the runtime notices an unrecoverable state.
// Supervisor.Kill kills only the child's own pid; the process-group kill
// happens only in the watcher below, which best-effort mirrors the Linux
// guarantee without the kernel-level hook Linux provides.
func bindLifetime(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func afterStart(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	childPID := cmd.Process.Pid
	selfPID := unix.Getpid()

	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}

	event := unix.Kevent_t{
		Ident:  uint64(selfPID),
		Filter: unix.EVFILT_PROC,
		Flags:  unix.EV_ADD | unix.EV_ENABLE | unix.EV_ONESHOT,
		Fflags: unix.NOTE_EXIT,
	}
	if _, err := unix.Kevent(kq, []unix.Kevent_t{event}, nil, nil); err != nil {
		_ = unix.Close(kq)
		return err
	}

	go func() {
		defer unix.Close(kq)
		events := make([]unix.Kevent_t, 1)
		for {
			n, err := unix.Kevent(kq, nil, events, nil)
			if err != nil {
				if err == unix.EINTR {
					continue
				}
				return
			}
			if n > 0 {
				// Our own process is exiting: kill the child's process
				// group before our scheduler stops running.
				_ = syscall.Kill(-childPID, syscall.SIGKILL)
				return
			}
		}
	}()

	return nil
}

//go:build windows

package supervisor

import (
	"os/exec"
	"unsafe"

	"golang.org/x/sys/windows"
)

// On Windows, parent-death binding is implemented with a Job Object carrying
// JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE: the child process is assigned to the
// job right after it starts, and when the job handle closes (our process
// exiting, however it exits) the kernel tears down every process still
// assigned to it.
var jobHandle windows.Handle

func bindLifetime(cmd *exec.Cmd) {
	// No pre-exec hook equivalent is needed here: job assignment happens
	// after Start, once we have a process handle.
}

func afterStart(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}

	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return err
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		_ = windows.CloseHandle(job)
		return err
	}

	handle, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(cmd.Process.Pid))
	if err != nil {
		_ = windows.CloseHandle(job)
		return err
	}
	defer windows.CloseHandle(handle)

	if err := windows.AssignProcessToJobObject(job, handle); err != nil {
		_ = windows.CloseHandle(job)
		return err
	}

	jobHandle = job
	return nil
}

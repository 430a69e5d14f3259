package cgroup

import (
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessSnapshot is one row of a ps_table: a best-effort snapshot of a
// single pid living in the cgroup at the moment it was captured. Fields
// mirror what the restart engine and the activity log need — nothing more.
type ProcessSnapshot struct {
	PID     int32
	PPID    int32
	RSS     uint64 // resident set size, bytes
	VMS     uint64 // virtual memory size, bytes
	Cmdline []string
	Status  string // raw gopsutil status, e.g. process.Running
}

// snapshotProcess builds a ProcessSnapshot for pid. It returns
// (ProcessSnapshot{}, false, nil) when the process has already exited —
// callers should skip the pid rather than treat that as an error, since
// cgroup members exit concurrently with enumeration.
func snapshotProcess(pid int32) (ProcessSnapshot, bool, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		if err == process.ErrorProcessNotRunning {
			return ProcessSnapshot{}, false, nil
		}
		return ProcessSnapshot{}, false, err
	}

	ppid, err := proc.Ppid()
	if err != nil {
		return ProcessSnapshot{}, false, nil
	}

	meminfo, err := proc.MemoryInfo()
	if err != nil {
		return ProcessSnapshot{}, false, nil
	}

	cmdline, err := proc.CmdlineSlice()
	if err != nil {
		return ProcessSnapshot{}, false, nil
	}

	statuses, err := proc.Status()
	if err != nil || len(statuses) == 0 {
		return ProcessSnapshot{}, false, nil
	}

	return ProcessSnapshot{
		PID:     pid,
		PPID:    ppid,
		RSS:     meminfo.RSS,
		VMS:     meminfo.VMS,
		Cmdline: cmdline,
		Status:  statuses[0],
	}, true, nil
}

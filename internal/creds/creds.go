// Package creds resolves the kernel-attested identity of the peer on the
// other end of a local socket, and maps that identity onto the logical
// "unit" a log message should be attributed to.
package creds

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// Cred is the kernel-attested (pid, uid, gid) triple of a socket peer.
type Cred struct {
	PID int32
	UID uint32
	GID uint32
}

// cgroupUnitPattern extracts the systemd unit name from a process's cgroup
// membership, including the jvm: prefix some JVM supervisors add to the
// slice path.
var cgroupUnitPattern = regexp.MustCompile(`name=systemd:/system\.slice/(?:jvm:)?(.+?)\.service`)

// PeerCred retrieves the pid, uid and gid of the process on the other end
// of the socket fd via SO_PEERCRED. The caller must have already enabled SO_PASSCRED
// (EnablePassCred) for ancillary credentials to arrive on subsequent reads;
// PeerCred itself works independently of that via getsockopt.
func PeerCred(fd int) (Cred, error) {
	ucred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return Cred{}, fmt.Errorf("getsockopt(SO_PEERCRED): %w", err)
	}
	return Cred{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}, nil
}

// EnablePassCred turns on SCM_CREDENTIALS delivery on fd so that ancillary
// data accompanying future recvmsg calls includes the sender's credentials.
func EnablePassCred(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1)
}

// CommForPID returns the short command name of pid, or "" if it cannot be
// determined (the process has exited, or is otherwise unreadable).
func CommForPID(pid int32) string {
	if pid <= 0 {
		return ""
	}
	proc, err := process.NewProcess(pid)
	if err != nil {
		return ""
	}
	name, err := proc.Name()
	if err != nil {
		return ""
	}
	return name
}

// UnitForPID infers the systemd unit owning pid by reading its cgroup
// membership from procfs. gopsutil has no equivalent accessor for the raw
// cgroup path string, so this reads /proc directly.
func UnitForPID(pid int32) string {
	if pid <= 0 {
		return ""
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cgroup", pid))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if m := cgroupUnitPattern.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}

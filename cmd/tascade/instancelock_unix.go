//go:build unix

package main

import "golang.org/x/sys/unix"

// pidAlive probes whether pid exists via signal 0. EPERM still means the
// process is there, just owned by someone else.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

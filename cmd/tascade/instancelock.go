package main

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// instanceLock is the single-coordinator guard: an exclusive flock on
// <db>.lock with the holder's PID written inside for diagnostics.
type instanceLock struct {
	flock *flock.Flock
	path  string
}

// acquireInstanceLock takes the coordinator lock for dbPath or returns an
// error naming the current holder.
func acquireInstanceLock(dbPath string) (*instanceLock, error) {
	path := dbPath + ".lock"
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire coordinator lock: %w", err)
	}
	if !locked {
		pid := 0
		if body, err := os.ReadFile(path); err == nil { // nolint:gosec // path derived from db config
			pid = trimPID(body)
		}
		return nil, fmt.Errorf("%s (%s)", describeHolder(pid, pidAlive(pid)), path)
	}
	// Best effort: the PID note is diagnostics, not the exclusion mechanism.
	_ = os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
	return &instanceLock{flock: fl, path: path}, nil
}

// Release drops the lock and removes the lock file.
func (l *instanceLock) Release() {
	_ = l.flock.Unlock()
	_ = os.Remove(l.path)
}

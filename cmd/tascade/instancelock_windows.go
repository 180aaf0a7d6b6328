//go:build windows

package main

// pidAlive always reports unknown on Windows; the flock itself is still the
// exclusion mechanism.
func pidAlive(int) bool { return false }

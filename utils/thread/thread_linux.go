package thread

import "golang.org/x/sys/unix"

// SetCPUAffinity binds the calling OS thread to coreID. Callers must hold
// runtime.LockOSThread for the binding to stay with their goroutine.
func SetCPUAffinity(coreID int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(coreID)
	return unix.SchedSetaffinity(0, &set)
}

//go:build linux

package affinity

import "golang.org/x/sys/unix"

// setAffinity binds the calling thread (pid 0) to a single CPU.
func setAffinity(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}

//go:build linux

package parsched

import (
	"golang.org/x/sys/unix"
)

// PinToCPU restricts the calling thread to the given CPU. Callers
// must hold runtime.LockOSThread for the pin to stick to this worker.
func PinToCPU(cpu int) error {
	var mask unix.CPUSet
	mask.Zero()
	mask.Set(cpu)
	return unix.SchedSetaffinity(0, &mask)
}

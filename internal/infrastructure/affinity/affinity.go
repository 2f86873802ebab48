// ABOUTME: CPU pinning for real-time goroutines
// ABOUTME: Locks the goroutine to its OS thread and binds that thread to one core
package affinity

import (
	"runtime"

	"github.com/pkg/errors"
)

var ErrUnsupported = errors.New("cpu affinity not supported on this platform")

// Pin locks the calling goroutine to its OS thread and binds the thread to
// cpu. A negative cpu only locks the thread.
//
// The lock is never released: a goroutine that exits while locked takes
// its thread with it, so a bound thread never returns to the scheduler.
func Pin(cpu int) error {
	runtime.LockOSThread()
	if cpu < 0 {
		return nil
	}
	return errors.Wrapf(setAffinity(cpu), "pin to cpu %d", cpu)
}

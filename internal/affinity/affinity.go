// File: internal/affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// CPU pinning for long-lived event loops. Pin locks the calling goroutine to
// its OS thread and binds that thread to one logical CPU.

package affinity

import (
	"runtime"

	"github.com/momentics/hioload-http/api"
)

// CPUIndex maps requested onto the allowed CPU list. Values past the end
// wrap, so a config written for a larger host still pins somewhere valid.
func CPUIndex(requested int, allowed []int) (int, error) {
	if requested < 0 {
		return 0, api.Errorf(api.KindInvalidArgument, "affinity", "cpu %d is negative", requested)
	}
	if len(allowed) == 0 {
		return 0, api.Errorf(api.KindInvalidArgument, "affinity", "no CPUs allowed")
	}
	return allowed[requested%len(allowed)], nil
}

// Pin binds the calling goroutine's thread to the cpu-th allowed CPU. The
// goroutine stays locked to that thread for the rest of its life, so the
// runtime discards the pinned thread when the goroutine exits.
func Pin(cpu int) error {
	runtime.LockOSThread()
	allowed, err := Current()
	if err != nil {
		return err
	}
	idx, err := CPUIndex(cpu, allowed)
	if err != nil {
		return err
	}
	return setAffinity(idx)
}

//go:build !linux

// File: internal/affinity/affinity_other.go
// Author: momentics <momentics@gmail.com>

package affinity

import "github.com/momentics/hioload-http/api"

func setAffinity(cpu int) error {
	return api.Errorf(api.KindIO, "affinity", "not supported on this platform")
}

// Current is not supported off linux.
func Current() ([]int, error) {
	return nil, api.Errorf(api.KindIO, "affinity", "not supported on this platform")
}

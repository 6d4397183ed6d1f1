//go:build linux || darwin

package resourcelimiter

import (
	"golang.org/x/sys/unix"
)

// platformApplyCPURlimit sets a soft RLIMIT_CPU for the current
// process and returns a function that restores the prior limit.
// seconds <= 0 disables the check (no rlimit is applied).
func platformApplyCPURlimit(seconds float64) (restore func(), err error) {
	if seconds <= 0 {
		return func() {}, nil
	}

	var prev unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_CPU, &prev); err != nil {
		return nil, err
	}

	next := prev
	next.Cur = uint64(seconds)
	if next.Max != unix.RLIM_INFINITY && next.Cur > next.Max {
		next.Cur = next.Max
	}
	if err := unix.Setrlimit(unix.RLIMIT_CPU, &next); err != nil {
		return nil, err
	}

	return func() {
		_ = unix.Setrlimit(unix.RLIMIT_CPU, &prev)
	}, nil
}

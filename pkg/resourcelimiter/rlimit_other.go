//go:build !linux && !darwin

package resourcelimiter

// platformApplyCPURlimit is a no-op on platforms without POSIX rlimits;
// the wall-clock timeout and memory poll in Run still apply.
func platformApplyCPURlimit(seconds float64) (restore func(), err error) {
	return func() {}, nil
}

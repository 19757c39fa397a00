//go:build !darwin

package transport

import "syscall"

// setAppleP2P is a no-op off Darwin: AWDL only exists on Apple platforms,
// so the apple_p2p flag is accepted and ignored elsewhere.
func setAppleP2P(_ syscall.RawConn) error {
	return nil
}

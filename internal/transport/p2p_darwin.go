//go:build darwin

package transport

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// soRecvAnyIF is Darwin's SO_RECV_ANYIF socket option, required for the
// socket to carry AWDL (peer-to-peer Wi-Fi) traffic. Not exported by
// x/sys/unix, value from the XNU sources.
const soRecvAnyIF = 0x1104

// setAppleP2P marks the socket for AWDL interface traffic.
func setAppleP2P(c syscall.RawConn) error {
	var sockoptErr error
	err := c.Control(func(fd uintptr) {
		sockoptErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, soRecvAnyIF, 1)
	})
	if err != nil {
		return fmt.Errorf("raw conn control failed: %w", err)
	}
	if sockoptErr != nil {
		return fmt.Errorf("failed to set SO_RECV_ANYIF: %w", sockoptErr)
	}
	return nil
}

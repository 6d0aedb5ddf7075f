//go:build linux

package rtprelay

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func applySocketOptions(fd int, opts socketOptions) error {
	if opts.BufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, opts.BufferSize); err != nil {
			return fmt.Errorf("SO_RCVBUF (%d): %w", opts.BufferSize, err)
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, opts.BufferSize); err != nil {
			return fmt.Errorf("SO_SNDBUF (%d): %w", opts.BufferSize, err)
		}
	}

	if opts.DSCP > 0 {
		// DSCP находится в старших 6 битах TOS
		tos := opts.DSCP << 2
		// в контейнерах IP_TOS может быть запрещен, это не критично
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, tos)
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, 6)
	}
	return nil
}

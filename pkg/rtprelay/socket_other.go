//go:build !linux

package rtprelay

func applySocketOptions(fd int, opts socketOptions) error {
	return nil
}

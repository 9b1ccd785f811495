//go:build unix

package usbbridge

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// checkAccess reports whether the process may read and write the device
// node.
func checkAccess(path string) error {
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, path, err)
	}
	return nil
}

package usbbridge

import (
	"fmt"
	"path/filepath"
	"strings"
)

// validateNodePath rejects handles that cannot name a serial device node.
func validateNodePath(handle string) error {
	if strings.Contains(handle, "..") {
		return fmt.Errorf("invalid device handle %q: contains path traversal", handle)
	}
	if !isSerialNodeName(filepath.Base(handle)) {
		return fmt.Errorf("device handle doesn't match expected pattern: %s", handle)
	}
	return nil
}

// isSerialNodeName matches tty nodes (ttyACM0, cu.usbmodem1) and Windows
// COM names.
func isSerialNodeName(name string) bool {
	// Windows: COM1-COM999 (must have at least one digit after COM)
	if strings.HasPrefix(name, "COM") && len(name) >= 4 && len(name) <= 6 {
		return true
	}
	return strings.HasPrefix(name, "tty") || strings.HasPrefix(name, "cu.")
}

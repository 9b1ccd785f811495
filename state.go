package usbbridge

// ConnectionState is the lifecycle state of the single bridged connection.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateActive
	StateClosing
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// Status texts pushed to the content layer.
const (
	StatusAttached           = "Attached"
	StatusDetached           = "Detached"
	StatusActive             = "Active"
	StatusDisconnected       = "Disconnected"
	StatusPermissionRequired = "Permission requested"
	StatusPermissionDenied   = "Permission denied"
	StatusNotConnected       = "Not connected"
)

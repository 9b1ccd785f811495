package usbbridge

import "errors"

// Connection attempt outcomes. None of them are fatal to the process; the
// Service reports them as status text and returns to Disconnected.
var (
	ErrDeviceNotFound        = errors.New("usbbridge: device not found")
	ErrNoCompatibleDriver    = errors.New("usbbridge: no compatible driver")
	ErrNoPortsAvailable      = errors.New("usbbridge: no serial ports available on device")
	ErrPermissionPending     = errors.New("usbbridge: permission requested")
	ErrPermissionDenied      = errors.New("usbbridge: permission denied")
	ErrConnectionOpenFailure = errors.New("usbbridge: cannot open device connection")
	ErrPortOpenFailure       = errors.New("usbbridge: cannot open serial port")
)

// I/O and lifecycle errors.
var (
	ErrNotConnected   = errors.New("usbbridge: not connected")
	ErrWriteTimeout   = errors.New("usbbridge: write timed out")
	ErrWriteQueueFull = errors.New("usbbridge: write queue full")
	ErrClosed         = errors.New("usbbridge: service closed")
	ErrNotSupported   = errors.New("usbbridge: operation not supported by port")
	ErrInvalidPayload = errors.New("usbbridge: invalid payload encoding")
)

const (
	errMsgNilHost    = "host is nil"
	errMsgNilContent = "content layer is nil"
)

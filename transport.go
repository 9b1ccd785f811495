package usbbridge

import "time"

// Host is the operating-system capability provider: device enumeration,
// driver lookup, permission and raw connection handling. The Service never
// talks to the OS directly.
type Host interface {
	EnumerateDevices() ([]DeviceDescriptor, error)
	Driver(kind DriverKind, dev DeviceDescriptor) (Driver, error)
	HasPermission(dev DeviceDescriptor) bool
	// RequestPermission must not block. reply is called exactly once, from
	// any goroutine, when the outcome is known.
	RequestPermission(dev DeviceDescriptor, reply func(granted bool)) error
	OpenConnection(dev DeviceDescriptor) (Connection, error)
}

// Connection is an opened device, ready for one of its ports to be opened.
type Connection interface {
	Device() DeviceDescriptor
	Close() error
}

// Driver exposes the serial ports of a probed device.
type Driver interface {
	Kind() DriverKind
	Ports() []Port
}

// Port abstracts the serial port of a driver. Write and Read never block
// longer than the given timeout; a Read that times out returns 0, nil.
// Write must not retain p after it returns: callers hand p back to a pool.
type Port interface {
	Open(conn Connection) error
	Close() error
	IsOpen() bool
	SetLineParameters(lp LineParameters) error
	SetDTR(bool) error
	SetRTS(bool) error
	Write(p []byte, timeout time.Duration) (int, error)
	Read(buf []byte, timeout time.Duration) (int, error)
}

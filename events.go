package usbbridge

// Event is an inbound notification consumed by the Service dispatcher.
type Event interface {
	isEvent()
}

// DeviceAttached is raised when a USB device appears.
type DeviceAttached struct {
	Device DeviceDescriptor
}

// DeviceDetached is raised when a USB device disappears.
type DeviceDetached struct {
	Device DeviceDescriptor
}

// PermissionResult carries the asynchronous answer to a permission request.
type PermissionResult struct {
	Device  DeviceDescriptor
	Granted bool
}

// commands issued by Connect/Disconnect; result receives the outcome.
type connectCommand struct {
	result chan error
}

type disconnectCommand struct {
	result chan error
}

func (DeviceAttached) isEvent()    {}
func (DeviceDetached) isEvent()    {}
func (PermissionResult) isEvent()  {}
func (connectCommand) isEvent()    {}
func (disconnectCommand) isEvent() {}

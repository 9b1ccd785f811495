package usbbridge

import (
	"errors"
)

// handleOpenError closes whatever was opened during a failed connect and
// joins any close error with the original one.
func handleOpenError(err error, port Port, conn Connection) error {
	if port != nil {
		if e := port.Close(); e != nil {
			err = errors.Join(err, e)
		}
	}
	if conn != nil {
		if e := conn.Close(); e != nil {
			err = errors.Join(err, e)
		}
	}
	return err
}

// setPort publishes a freshly opened port as the active one.
func (s *Service) setPort(port Port, conn Connection, dev DeviceDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.port = port
	s.conn = conn
	s.device = dev
}

// closePort unpublishes the active port and closes it outside the lock so a
// blocked read or write can return.
func (s *Service) closePort() error {
	s.mu.Lock()
	port, conn := s.port, s.conn
	s.port = nil
	s.conn = nil
	s.device = DeviceDescriptor{}
	s.mu.Unlock()

	if port == nil && conn == nil {
		return nil
	}
	return handleOpenError(nil, port, conn)
}

// activePort borrows the current port, or nil.
func (s *Service) activePort() Port {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// isCurrent reports whether p is still the active port.
func (s *Service) isCurrent(p Port) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port != nil && s.port == p
}

// statusText maps a connect failure to the text shown in the content layer.
func statusText(err error) string {
	switch {
	case err == nil:
		return StatusActive
	case errors.Is(err, ErrPermissionDenied):
		return StatusPermissionDenied
	case errors.Is(err, ErrPermissionPending):
		return StatusPermissionRequired
	case errors.Is(err, ErrDeviceNotFound):
		return "No device found"
	case errors.Is(err, ErrNoCompatibleDriver):
		return "No driver found"
	case errors.Is(err, ErrNoPortsAvailable):
		return "No ports available"
	case errors.Is(err, ErrConnectionOpenFailure):
		return "Failed to open device connection"
	case errors.Is(err, ErrPortOpenFailure):
		return "Failed to open port"
	default:
		return "Error: " + err.Error()
	}
}

package usbbridge

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobug "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Prompter asks a human to approve access to a device. reply must be
// called exactly once.
type Prompter interface {
	PromptPermission(dev DeviceDescriptor, reply func(granted bool)) error
}

// SerialHost implements Host on top of the operating system's CDC-ACM
// driver: devices are tty nodes enumerated through go.bug.st/serial.
type SerialHost struct {
	logger   zerolog.Logger
	mode     string
	prompter Prompter

	mu       sync.Mutex
	approved map[DeviceKey]bool

	list   func() ([]*enumerator.PortDetails, error)
	open   func(name string, mode *gobug.Mode) (gobug.Port, error)
	access func(path string) error
}

// NewSerialHost returns a host. In PermissionModePrompt every device must
// also be approved through prompter.
func NewSerialHost(mode string, prompter Prompter, logger zerolog.Logger) (*SerialHost, error) {
	switch mode {
	case PermissionModeAuto:
	case PermissionModePrompt:
		if prompter == nil {
			return nil, errors.New("usbbridge: prompt permission mode requires a prompter")
		}
	default:
		return nil, fmt.Errorf("usbbridge: unknown permission mode %q", mode)
	}
	return &SerialHost{
		logger:   logger.With().Str("component", "host").Logger(),
		mode:     mode,
		prompter: prompter,
		approved: make(map[DeviceKey]bool),
		list:     enumerator.GetDetailedPortsList,
		open:     gobug.Open,
		access:   checkAccess,
	}, nil
}

// EnumerateDevices lists the USB serial devices currently attached.
func (h *SerialHost) EnumerateDevices() ([]DeviceDescriptor, error) {
	ports, err := h.list()
	if err != nil {
		return nil, fmt.Errorf("enumerating serial ports: %w", err)
	}
	devices := make([]DeviceDescriptor, 0, len(ports))
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		vid, err := ParseUSBID(p.VID)
		if err != nil {
			h.logger.Debug().Err(err).Str("port", p.Name).Msg("skipping port with bad vendor id")
			continue
		}
		pid, err := ParseUSBID(p.PID)
		if err != nil {
			h.logger.Debug().Err(err).Str("port", p.Name).Msg("skipping port with bad product id")
			continue
		}
		devices = append(devices, DeviceDescriptor{
			VendorID:     vid,
			ProductID:    pid,
			Handle:       p.Name,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return devices, nil
}

// Driver returns the CDC-ACM driver for dev. The OS exposes exactly one
// port per tty node.
func (h *SerialHost) Driver(kind DriverKind, dev DeviceDescriptor) (Driver, error) {
	if kind != DriverCDCACM {
		return nil, fmt.Errorf("unsupported driver kind %q", kind)
	}
	return &cdcDriver{port: newSerialPort(dev.Handle, h.open)}, nil
}

// HasPermission reports whether the process may open dev now.
func (h *SerialHost) HasPermission(dev DeviceDescriptor) bool {
	if err := h.access(dev.Handle); err != nil {
		return false
	}
	if h.mode != PermissionModePrompt {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.approved[dev.Key()]
}

// RequestPermission never blocks; reply runs on another goroutine.
func (h *SerialHost) RequestPermission(dev DeviceDescriptor, reply func(granted bool)) error {
	if h.mode != PermissionModePrompt {
		go func() {
			err := h.access(dev.Handle)
			if err != nil {
				h.logger.Warn().Err(err).Stringer("device", dev).Msg("no access to device node")
			}
			reply(err == nil)
		}()
		return nil
	}

	return h.prompter.PromptPermission(dev, func(granted bool) {
		h.mu.Lock()
		if granted {
			h.approved[dev.Key()] = true
		} else {
			delete(h.approved, dev.Key())
		}
		h.mu.Unlock()
		reply(granted)
	})
}

// OpenConnection checks that the device node is still present and
// accessible.
func (h *SerialHost) OpenConnection(dev DeviceDescriptor) (Connection, error) {
	if err := validateNodePath(dev.Handle); err != nil {
		return nil, err
	}
	if _, err := os.Stat(dev.Handle); err != nil {
		return nil, err
	}
	if err := h.access(dev.Handle); err != nil {
		return nil, err
	}
	return &deviceConnection{dev: dev}, nil
}

type deviceConnection struct {
	dev DeviceDescriptor
}

func (c *deviceConnection) Device() DeviceDescriptor { return c.dev }
func (c *deviceConnection) Close() error             { return nil }

type cdcDriver struct {
	port *serialPort
}

func (d *cdcDriver) Kind() DriverKind { return DriverCDCACM }
func (d *cdcDriver) Ports() []Port    { return []Port{d.port} }

// serialPort adapts a go.bug.st/serial port to Port.
type serialPort struct {
	name string
	open func(name string, mode *gobug.Mode) (gobug.Port, error)

	mu          sync.Mutex
	port        gobug.Port
	readTimeout time.Duration

	// writeSem serialises writes, including one abandoned after a timeout.
	writeSem chan struct{}
}

func newSerialPort(name string, open func(string, *gobug.Mode) (gobug.Port, error)) *serialPort {
	return &serialPort{
		name:     name,
		open:     open,
		writeSem: make(chan struct{}, 1),
	}
}

func (p *serialPort) Open(conn Connection) error {
	if conn == nil || conn.Device().Handle != p.name {
		return fmt.Errorf("connection does not belong to %s", p.name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port != nil {
		return nil
	}
	port, err := p.open(p.name, DefaultLineParameters().Mode())
	if err != nil {
		return err
	}
	p.port = port
	p.readTimeout = 0
	return nil
}

func (p *serialPort) Close() error {
	p.mu.Lock()
	port := p.port
	p.port = nil
	p.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}

func (p *serialPort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port != nil
}

func (p *serialPort) handle() (gobug.Port, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil, ErrNotConnected
	}
	return p.port, nil
}

func (p *serialPort) SetLineParameters(lp LineParameters) error {
	port, err := p.handle()
	if err != nil {
		return err
	}
	return port.SetMode(lp.Mode())
}

func (p *serialPort) SetDTR(on bool) error {
	port, err := p.handle()
	if err != nil {
		return err
	}
	return mapPortError(port.SetDTR(on))
}

func (p *serialPort) SetRTS(on bool) error {
	port, err := p.handle()
	if err != nil {
		return err
	}
	return mapPortError(port.SetRTS(on))
}

// Read returns 0, nil when nothing arrived within timeout.
func (p *serialPort) Read(buf []byte, timeout time.Duration) (int, error) {
	p.mu.Lock()
	port := p.port
	if port == nil {
		p.mu.Unlock()
		return 0, ErrNotConnected
	}
	if p.readTimeout != timeout {
		if err := port.SetReadTimeout(timeout); err != nil {
			p.mu.Unlock()
			return 0, mapPortError(err)
		}
		p.readTimeout = timeout
	}
	p.mu.Unlock()

	n, err := port.Read(buf)
	return n, mapPortError(err)
}

// Write gives up after timeout. The abandoned write keeps the port busy
// until the OS returns, so a following Write waits on it within its own
// timeout. The write goroutine works on a private copy; data may be reused
// as soon as Write returns.
func (p *serialPort) Write(data []byte, timeout time.Duration) (int, error) {
	port, err := p.handle()
	if err != nil {
		return 0, err
	}
	data = bytes.Clone(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p.writeSem <- struct{}{}:
	case <-timer.C:
		return 0, ErrWriteTimeout
	}

	done := make(chan writeResult, 1)
	go func() {
		defer func() { <-p.writeSem }()
		var total int
		for total < len(data) {
			n, err := port.Write(data[total:])
			total += n
			if err != nil {
				done <- writeResult{total, mapPortError(err)}
				return
			}
			if n == 0 {
				done <- writeResult{total, errors.New("write returned no progress")}
				return
			}
		}
		done <- writeResult{total, nil}
	}()

	select {
	case res := <-done:
		return res.n, res.err
	case <-timer.C:
		return 0, ErrWriteTimeout
	}
}

func mapPortError(err error) error {
	if err == nil {
		return nil
	}
	var pe *gobug.PortError
	if errors.As(err, &pe) {
		switch pe.Code() {
		case gobug.FunctionNotImplemented:
			return fmt.Errorf("%w: %v", ErrNotSupported, err)
		case gobug.PortClosed:
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
	}
	return err
}

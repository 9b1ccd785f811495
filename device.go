package usbbridge

import (
	"fmt"
	"strconv"
	"strings"
)

// PicoVendorID is the Raspberry Pi RP2040 USB vendor id.
const PicoVendorID uint16 = 0x2E8A

// DeviceDescriptor describes an attached USB device. Handle is the opaque
// OS reference, the tty node path on the bundled host.
type DeviceDescriptor struct {
	VendorID     uint16 `json:"vendorId"`
	ProductID    uint16 `json:"productId"`
	Handle       string `json:"handle"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
}

// DeviceKey identifies a device for matching and permission bookkeeping.
type DeviceKey struct {
	VendorID  uint16
	ProductID uint16
	Handle    string
}

func (d DeviceDescriptor) Key() DeviceKey {
	return DeviceKey{VendorID: d.VendorID, ProductID: d.ProductID, Handle: d.Handle}
}

func (d DeviceDescriptor) String() string {
	return fmt.Sprintf("%04X:%04X@%s", d.VendorID, d.ProductID, d.Handle)
}

// ParseUSBID parses a hexadecimal USB id as reported by enumerators
// ("2E8A", "0x2e8a").
func ParseUSBID(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("empty USB id")
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid USB id %q: %w", s, err)
	}
	return uint16(v), nil
}

// Matcher selects the candidate device and probes it for a driver.
type Matcher struct {
	VendorID uint16
	Table    *ProbeTable
	host     Host
}

// NewMatcher returns a matcher for vendorID backed by table.
func NewMatcher(vendorID uint16, table *ProbeTable, host Host) *Matcher {
	return &Matcher{VendorID: vendorID, Table: table, host: host}
}

// Matches reports whether dev belongs to the known vendor.
func (m *Matcher) Matches(dev DeviceDescriptor) bool {
	return dev.VendorID == m.VendorID
}

// Select returns the last device of the known vendor in enumeration order.
// Enumeration order is platform-defined, so with several boards attached
// the choice is not stable across hosts.
func (m *Matcher) Select(devices []DeviceDescriptor) (DeviceDescriptor, error) {
	var (
		found DeviceDescriptor
		ok    bool
	)
	for _, d := range devices {
		if m.Matches(d) {
			found, ok = d, true
		}
	}
	if !ok {
		return DeviceDescriptor{}, ErrDeviceNotFound
	}
	return found, nil
}

// Probe resolves a driver for dev and returns its first port.
func (m *Matcher) Probe(dev DeviceDescriptor) (Driver, Port, error) {
	kind, ok := m.Table.Lookup(dev.VendorID, dev.ProductID)
	if !ok {
		return nil, nil, fmt.Errorf("%w for %s", ErrNoCompatibleDriver, dev)
	}
	drv, err := m.host.Driver(kind, dev)
	if err != nil {
		return nil, nil, fmt.Errorf("%w for %s: %v", ErrNoCompatibleDriver, dev, err)
	}
	if drv == nil {
		return nil, nil, fmt.Errorf("%w for %s", ErrNoCompatibleDriver, dev)
	}
	ports := drv.Ports()
	if len(ports) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoPortsAvailable, dev)
	}
	return drv, ports[0], nil
}

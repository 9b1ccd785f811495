package usbbridge

import "sync"

// DriverKind names a serial protocol driver.
type DriverKind string

const (
	DriverCDCACM DriverKind = "cdc-acm"
)

// Known RP2040 product ids: the stock MicroPython/SDK CDC firmware and the
// TinyUSB/Pico SDK stdio variant.
const (
	PicoProductCDC   uint16 = 0x0005
	PicoProductStdio uint16 = 0x000A
)

type probeKey struct {
	vendor  uint16
	product uint16
}

// ProbeTable maps (vendor, product) pairs to driver kinds. A vendor-wide
// entry matches every product of that vendor without an exact entry.
type ProbeTable struct {
	mu       sync.RWMutex
	products map[probeKey]DriverKind
	vendors  map[uint16]DriverKind
}

func NewProbeTable() *ProbeTable {
	return &ProbeTable{
		products: make(map[probeKey]DriverKind),
		vendors:  make(map[uint16]DriverKind),
	}
}

// DefaultProbeTable knows the two Pico CDC-ACM products.
func DefaultProbeTable() *ProbeTable {
	t := NewProbeTable()
	t.AddProduct(PicoVendorID, PicoProductCDC, DriverCDCACM)
	t.AddProduct(PicoVendorID, PicoProductStdio, DriverCDCACM)
	return t
}

func (t *ProbeTable) AddProduct(vendor, product uint16, kind DriverKind) *ProbeTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.products[probeKey{vendor, product}] = kind
	return t
}

func (t *ProbeTable) AddVendor(vendor uint16, kind DriverKind) *ProbeTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vendors[vendor] = kind
	return t
}

// Lookup returns the driver kind for the pair, exact entries first.
func (t *ProbeTable) Lookup(vendor, product uint16) (DriverKind, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if k, ok := t.products[probeKey{vendor, product}]; ok {
		return k, true
	}
	k, ok := t.vendors[vendor]
	return k, ok
}

// Len returns the number of exact entries.
func (t *ProbeTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.products)
}

package usbbridge

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// --- fake host ---

type fakeHost struct {
	mu          sync.Mutex
	devices     []DeviceDescriptor
	enumErr     error
	permitted   map[DeviceKey]bool
	replies     []func(bool)
	requestErr  error
	openConnErr error
	driver      *fakeDriver
	driverErr   error

	requests  atomic.Int32
	openConns atomic.Int32
	conns     []*fakeConn
}

func newFakeHost(devs ...DeviceDescriptor) *fakeHost {
	return &fakeHost{
		devices:   devs,
		permitted: make(map[DeviceKey]bool),
		driver:    &fakeDriver{ports: []Port{newFakePort()}},
	}
}

func (h *fakeHost) EnumerateDevices() ([]DeviceDescriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.enumErr != nil {
		return nil, h.enumErr
	}
	return append([]DeviceDescriptor(nil), h.devices...), nil
}

func (h *fakeHost) Driver(kind DriverKind, dev DeviceDescriptor) (Driver, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.driverErr != nil {
		return nil, h.driverErr
	}
	return h.driver, nil
}

func (h *fakeHost) HasPermission(dev DeviceDescriptor) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.permitted[dev.Key()]
}

func (h *fakeHost) RequestPermission(dev DeviceDescriptor, reply func(bool)) error {
	h.requests.Add(1)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.requestErr != nil {
		return h.requestErr
	}
	h.replies = append(h.replies, func(granted bool) {
		h.mu.Lock()
		h.permitted[dev.Key()] = granted
		h.mu.Unlock()
		reply(granted)
	})
	return nil
}

func (h *fakeHost) OpenConnection(dev DeviceDescriptor) (Connection, error) {
	h.openConns.Add(1)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.openConnErr != nil {
		return nil, h.openConnErr
	}
	c := &fakeConn{dev: dev}
	h.conns = append(h.conns, c)
	return c, nil
}

func (h *fakeHost) grant(dev DeviceDescriptor) {
	h.mu.Lock()
	h.permitted[dev.Key()] = true
	h.mu.Unlock()
}

func (h *fakeHost) setDevices(devs ...DeviceDescriptor) {
	h.mu.Lock()
	h.devices = devs
	h.mu.Unlock()
}

// answer replies to the oldest outstanding permission request.
func (h *fakeHost) answer(t *testing.T, granted bool) {
	t.Helper()
	h.mu.Lock()
	if len(h.replies) == 0 {
		h.mu.Unlock()
		t.Fatal("no outstanding permission request")
	}
	reply := h.replies[0]
	h.replies = h.replies[1:]
	h.mu.Unlock()
	reply(granted)
}

func (h *fakeHost) conn(i int) *fakeConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[i]
}

func (h *fakeHost) port() *fakePort {
	return h.driver.ports[0].(*fakePort)
}

type fakeConn struct {
	dev    DeviceDescriptor
	closed atomic.Int32
}

func (c *fakeConn) Device() DeviceDescriptor { return c.dev }
func (c *fakeConn) Close() error {
	c.closed.Add(1)
	return nil
}

type fakeDriver struct {
	ports []Port
}

func (d *fakeDriver) Kind() DriverKind { return DriverCDCACM }
func (d *fakeDriver) Ports() []Port    { return d.ports }

// --- fake port ---

type readResult struct {
	data []byte
	err  error
}

type fakePort struct {
	mu      sync.Mutex
	open    bool
	closeCh chan struct{}
	line    LineParameters
	dtr     bool
	rts     bool

	openErr error
	dtrErr  error
	lineErr error

	reads      chan readResult
	writeErr   error
	writeBlock chan struct{}
	writes     [][]byte

	opens      atomic.Int32
	closes     atomic.Int32
	writeCalls atomic.Int32
}

func newFakePort() *fakePort {
	return &fakePort{
		reads:   make(chan readResult, 16),
		closeCh: make(chan struct{}),
	}
}

func (p *fakePort) Open(conn Connection) error {
	p.opens.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return p.openErr
	}
	p.open = true
	p.closeCh = make(chan struct{})
	return nil
}

func (p *fakePort) Close() error {
	p.closes.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		p.open = false
		close(p.closeCh)
	}
	return nil
}

func (p *fakePort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *fakePort) SetLineParameters(lp LineParameters) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lineErr != nil {
		return p.lineErr
	}
	p.line = lp
	return nil
}

func (p *fakePort) SetDTR(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dtrErr != nil {
		return p.dtrErr
	}
	p.dtr = on
	return nil
}

func (p *fakePort) SetRTS(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rts = on
	return nil
}

func (p *fakePort) Write(data []byte, timeout time.Duration) (int, error) {
	p.writeCalls.Add(1)
	p.mu.Lock()
	block, err := p.writeBlock, p.writeErr
	p.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	p.writes = append(p.writes, append([]byte(nil), data...))
	p.mu.Unlock()
	return len(data), nil
}

func (p *fakePort) Read(buf []byte, timeout time.Duration) (int, error) {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return 0, ErrNotConnected
	}
	closeCh := p.closeCh
	p.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case r := <-p.reads:
		if r.err != nil {
			return 0, r.err
		}
		return copy(buf, r.data), nil
	case <-t.C:
		return 0, nil
	case <-closeCh:
		return 0, errors.New("port closed")
	}
}

func (p *fakePort) written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes...)
}

func (p *fakePort) lineParameters() LineParameters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.line
}

// --- fake content layer ---

type fakeContent struct {
	mu       sync.Mutex
	data     []string
	statuses []string
	assets   []string
}

func (c *fakeContent) OnNewData(encoded string) {
	c.mu.Lock()
	c.data = append(c.data, encoded)
	c.mu.Unlock()
}

func (c *fakeContent) UpdateUsbStatusText(status string) {
	c.mu.Lock()
	c.statuses = append(c.statuses, status)
	c.mu.Unlock()
}

func (c *fakeContent) LoadAsset(path string) {
	c.mu.Lock()
	c.assets = append(c.assets, path)
	c.mu.Unlock()
}

func (c *fakeContent) dataFrames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.data...)
}

func (c *fakeContent) hasStatus(s string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (c *fakeContent) lastStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.statuses) == 0 {
		return ""
	}
	return c.statuses[len(c.statuses)-1]
}

// plainContent cannot navigate.
type plainContent struct{}

func (plainContent) OnNewData(string)           {}
func (plainContent) UpdateUsbStatusText(string) {}

// --- helpers ---

var testDevice = DeviceDescriptor{
	VendorID:  PicoVendorID,
	ProductID: PicoProductStdio,
	Handle:    "/dev/ttyACM0",
	Product:   "Pico",
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.ReadTimeout = 20 * time.Millisecond
	cfg.IdlePoll = 5 * time.Millisecond
	cfg.WriteTimeout = 50 * time.Millisecond
	return cfg
}

func startService(t *testing.T, cfg *Config, host Host, content ContentLayer, opts ...Option) *Service {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	svc, err := New(cfg, host, content, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := svc.Start(testContext(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// connected starts a service with a permitted device and connects it.
func connected(t *testing.T, opts ...Option) (*Service, *fakeHost, *fakeContent) {
	t.Helper()
	host := newFakeHost(testDevice)
	host.grant(testDevice)
	content := &fakeContent{}
	svc := startService(t, nil, host, content, opts...)
	if err := svc.Connect(testContext(t)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return svc, host, content
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

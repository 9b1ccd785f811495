package usbbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

const eventQueueSize = 64

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the diagnostic logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithStateHook registers fn to observe every state transition. fn runs on
// the dispatcher goroutine and must not call back into the Service.
func WithStateHook(fn func(from, to ConnectionState)) Option {
	return func(s *Service) {
		s.stateHook = fn
	}
}

// Service is the connection manager. It owns the connection state and the
// single open port, and runs the dispatcher, the write worker and the read
// loop.
type Service struct {
	cfg     *Config
	host    Host
	matcher *Matcher
	gate    *PermissionGate
	bridge  *Bridge
	logger  zerolog.Logger
	metrics *Metrics
	frames  *BufferPool

	state     atomic.Int32
	stateHook func(from, to ConnectionState)

	// mu guards publication of the owned handles. I/O runs on a borrowed
	// Port outside the lock.
	mu     sync.RWMutex
	port   Port
	conn   Connection
	device DeviceDescriptor

	events     chan Event
	writeQueue chan *writeOperation

	readErrLimiter *rate.Limiter

	started   atomic.Bool
	shutdown  atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Service. Start must be called before notifications are
// processed.
func New(cfg *Config, host Host, content ContentLayer, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if host == nil {
		return nil, errors.New(errMsgNilHost)
	}
	if content == nil {
		return nil, errors.New(errMsgNilContent)
	}

	s := &Service{
		cfg:            cfg,
		host:           host,
		logger:         zerolog.Nop(),
		metrics:        &Metrics{},
		frames:         NewBufferPool(cfg.MaxFrameSize),
		events:         make(chan Event, eventQueueSize),
		writeQueue:     make(chan *writeOperation, cfg.WriteQueueSize),
		readErrLimiter: rate.NewLimiter(rate.Every(cfg.ReadTimeout*2), 1),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	base := s.logger
	s.logger = base.With().Str("component", "usbbridge").Logger()

	s.matcher = NewMatcher(cfg.VendorID, cfg.ProbeTable(), host)
	s.gate = NewPermissionGate(host, func(ev Event) { s.Notify(ev) }, base)
	s.gate.onRequest = func() { s.metrics.PermissionRequests.Add(1) }
	s.bridge = newBridge(s, content, cfg.DeliveryQueue, cfg.DeliveryWait, base)

	return s, nil
}

// Start launches the dispatcher, write worker, read loop and bridge
// delivery. Cancelling ctx closes the Service.
func (s *Service) Start(ctx context.Context) error {
	if s.shutdown.Load() {
		return ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("usbbridge: already started")
	}

	s.wg.Add(4)
	go s.run()
	go s.processWrites()
	go s.readLoop()
	go s.bridge.run()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	s.logger.Info().
		Str("vendor", fmt.Sprintf("%04X", s.cfg.VendorID)).
		Stringer("line", s.cfg.Line).
		Dur("write_timeout", s.cfg.WriteTimeout).
		Dur("read_timeout", s.cfg.ReadTimeout).
		Msg("bridge started")
	return nil
}

// Close stops every worker and closes the port. It is safe to call more
// than once.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.shutdown.Store(true)
		close(s.done)

		// Unblocks an in-flight read before waiting on the workers.
		err = s.closePort()
		s.wg.Wait()
		if e := s.closePort(); e != nil {
			err = errors.Join(err, e)
		}
		s.transition(StateDisconnected)
		s.logger.Info().Msg("bridge stopped")
	})
	return err
}

// Notify queues an inbound notification for the dispatcher. It returns
// false once the Service is closed.
func (s *Service) Notify(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// DeviceAttached, DeviceDetached and PermissionResult are shorthands for
// Notify.
func (s *Service) DeviceAttached(dev DeviceDescriptor) { s.Notify(DeviceAttached{Device: dev}) }

func (s *Service) DeviceDetached(dev DeviceDescriptor) { s.Notify(DeviceDetached{Device: dev}) }

func (s *Service) PermissionResult(dev DeviceDescriptor, granted bool) {
	s.Notify(PermissionResult{Device: dev, Granted: granted})
}

// Connect runs one connect attempt on the dispatcher and returns its
// outcome.
func (s *Service) Connect(ctx context.Context) error {
	cmd := connectCommand{result: make(chan error, 1)}
	return s.command(ctx, cmd, cmd.result)
}

// Disconnect closes the active port, if any.
func (s *Service) Disconnect(ctx context.Context) error {
	cmd := disconnectCommand{result: make(chan error, 1)}
	return s.command(ctx, cmd, cmd.result)
}

func (s *Service) command(ctx context.Context, ev Event, result <-chan error) error {
	if !s.started.Load() {
		return errors.New("usbbridge: not started")
	}
	select {
	case s.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// State returns the current connection state.
func (s *Service) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// IsConnected reports whether a port is currently open.
func (s *Service) IsConnected() bool {
	p := s.activePort()
	return p != nil && p.IsOpen()
}

// Device returns the device of the active connection.
func (s *Service) Device() (DeviceDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device, s.port != nil
}

// Bridge returns the content-layer boundary.
func (s *Service) Bridge() *Bridge {
	return s.bridge
}

// Permission returns the permission state recorded for dev.
func (s *Service) Permission(dev DeviceDescriptor) PermissionState {
	return s.gate.State(dev)
}

// run is the dispatcher: the only goroutine that mutates the connection
// state.
func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Service) handle(ev Event) {
	switch e := ev.(type) {
	case DeviceAttached:
		s.onAttached(e.Device)
	case DeviceDetached:
		s.onDetached(e.Device)
	case PermissionResult:
		s.onPermissionResult(e.Device, e.Granted)
	case connectCommand:
		e.result <- s.connect()
	case disconnectCommand:
		e.result <- s.disconnect(StatusDisconnected)
	default:
		s.logger.Warn().Str("event", fmt.Sprintf("%T", ev)).Msg("unknown event")
	}
}

func (s *Service) onAttached(dev DeviceDescriptor) {
	if !s.matcher.Matches(dev) {
		s.logger.Debug().Stringer("device", dev).Msg("ignoring attach of foreign device")
		return
	}
	s.logger.Info().Stringer("device", dev).Msg("device attached")
	s.bridge.PushStatus(StatusAttached)
	s.gate.Reset(dev)
	_ = s.connect()
}

func (s *Service) onDetached(dev DeviceDescriptor) {
	if !s.matcher.Matches(dev) {
		return
	}
	s.logger.Info().Stringer("device", dev).Msg("device detached")
	s.gate.Forget(dev)

	s.mu.RLock()
	owned := s.port != nil
	active := owned && s.device.Key() == dev.Key()
	s.mu.RUnlock()

	switch {
	case active:
		_ = s.disconnect(StatusDetached)
	case !owned:
		s.bridge.PushStatus(StatusDetached)
	default:
		s.logger.Debug().Stringer("device", dev).Msg("detached device is not the active one")
	}
}

func (s *Service) onPermissionResult(dev DeviceDescriptor, granted bool) {
	if !s.gate.Resolve(dev, granted) {
		return
	}
	if !granted {
		s.logger.Warn().Stringer("device", dev).Msg("permission denied")
		s.bridge.PushStatus(StatusPermissionDenied)
		return
	}
	s.logger.Info().Stringer("device", dev).Msg("permission granted")
	_ = s.connect()
}

// connect runs matcher, gate and open. Any existing port is closed first so
// a repeated attach re-runs the sequence instead of stacking connections.
func (s *Service) connect() error {
	if s.shutdown.Load() {
		return ErrClosed
	}
	s.metrics.ConnectionAttempts.Add(1)

	if s.activePort() != nil {
		s.transition(StateClosing)
		if err := s.closePort(); err != nil {
			s.logger.Warn().Err(err).Msg("closing previous port")
		}
		s.recordDisconnect()
		s.transition(StateDisconnected)
	}

	s.transition(StateConnecting)
	if err := s.open(); err != nil {
		s.metrics.ConnectionFailures.Add(1)
		s.transition(StateDisconnected)
		s.reportConnectError(err)
		return err
	}

	if s.shutdown.Load() {
		_ = s.closePort()
		s.transition(StateDisconnected)
		return ErrClosed
	}

	dev, _ := s.Device()
	s.recordConnect()
	s.transition(StateActive)
	s.logger.Info().Stringer("device", dev).Stringer("line", s.cfg.Line).Msg("USB connection established")
	s.bridge.PushStatus(StatusActive)
	return nil
}

func (s *Service) open() error {
	devices, err := s.host.EnumerateDevices()
	if err != nil {
		return fmt.Errorf("%w: enumerating devices: %v", ErrDeviceNotFound, err)
	}
	dev, err := s.matcher.Select(devices)
	if err != nil {
		return err
	}
	_, port, err := s.matcher.Probe(dev)
	if err != nil {
		return err
	}
	if err := s.gate.Check(dev); err != nil {
		return err
	}

	conn, err := s.host.OpenConnection(dev)
	if err != nil || conn == nil {
		openErr := fmt.Errorf("%w: %s", ErrConnectionOpenFailure, dev)
		if err != nil {
			openErr = fmt.Errorf("%w: %s: %v", ErrConnectionOpenFailure, dev, err)
		}
		// Access may have been revoked between the check and the open.
		if !s.host.HasPermission(dev) {
			return errors.Join(openErr, s.gate.Check(dev))
		}
		return openErr
	}

	if err := port.Open(conn); err != nil {
		return handleOpenError(fmt.Errorf("%w: %v", ErrPortOpenFailure, err), nil, conn)
	}
	if s.cfg.AssertDTR {
		if err := port.SetDTR(true); err != nil && !errors.Is(err, ErrNotSupported) {
			return handleOpenError(fmt.Errorf("%w: setting DTR: %v", ErrPortOpenFailure, err), port, conn)
		}
	}
	if s.cfg.AssertRTS {
		if err := port.SetRTS(true); err != nil && !errors.Is(err, ErrNotSupported) {
			return handleOpenError(fmt.Errorf("%w: setting RTS: %v", ErrPortOpenFailure, err), port, conn)
		}
	}
	if err := port.SetLineParameters(s.cfg.Line); err != nil {
		return handleOpenError(fmt.Errorf("%w: setting line parameters: %v", ErrPortOpenFailure, err), port, conn)
	}

	s.setPort(port, conn, dev)
	return nil
}

func (s *Service) disconnect(status string) error {
	if s.activePort() == nil {
		s.transition(StateDisconnected)
		s.bridge.PushStatus(status)
		return nil
	}

	s.transition(StateClosing)
	err := s.closePort()
	s.recordDisconnect()
	s.transition(StateDisconnected)
	if err != nil {
		s.logger.Warn().Err(err).Msg("error closing USB connection")
	} else {
		s.logger.Info().Msg("USB connection closed")
	}
	s.bridge.PushStatus(status)
	return err
}

func (s *Service) transition(to ConnectionState) {
	from := ConnectionState(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("state transition")
	if s.stateHook != nil {
		s.stateHook(from, to)
	}
}

func (s *Service) reportConnectError(err error) {
	evt := s.logger.Warn()
	if errors.Is(err, ErrDeviceNotFound) || errors.Is(err, ErrPermissionPending) {
		evt = s.logger.Info()
	}
	evt.Err(err).Msg("connect attempt ended")
	s.bridge.PushStatus(statusText(err))
}

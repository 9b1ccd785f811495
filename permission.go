package usbbridge

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// PermissionState tracks the access negotiation for one device.
type PermissionState int

const (
	PermissionUnknown PermissionState = iota
	PermissionRequested
	PermissionGranted
	PermissionDenied
)

func (p PermissionState) String() string {
	switch p {
	case PermissionRequested:
		return "Requested"
	case PermissionGranted:
		return "Granted"
	case PermissionDenied:
		return "Denied"
	default:
		return "Unknown"
	}
}

// PermissionGate decides whether a connect attempt may open a device and
// issues at most one outstanding request per device.
type PermissionGate struct {
	host   Host
	notify func(Event)
	logger zerolog.Logger

	mu     sync.Mutex
	states map[DeviceKey]PermissionState

	onRequest func()
}

// NewPermissionGate returns a gate whose results are delivered to notify.
func NewPermissionGate(host Host, notify func(Event), logger zerolog.Logger) *PermissionGate {
	return &PermissionGate{
		host:   host,
		notify: notify,
		logger: logger.With().Str("component", "permission").Logger(),
		states: make(map[DeviceKey]PermissionState),
	}
}

// Check returns nil when dev may be opened now. Otherwise it returns
// ErrPermissionPending, having issued a request unless one is already
// outstanding. It never blocks on the user or the OS.
func (g *PermissionGate) Check(dev DeviceDescriptor) error {
	if g.host.HasPermission(dev) {
		return nil
	}

	g.mu.Lock()
	if g.states[dev.Key()] == PermissionRequested {
		g.mu.Unlock()
		g.logger.Debug().Stringer("device", dev).Msg("permission request already outstanding")
		return ErrPermissionPending
	}
	g.states[dev.Key()] = PermissionRequested
	g.mu.Unlock()

	if g.onRequest != nil {
		g.onRequest()
	}
	g.logger.Info().Stringer("device", dev).Msg("requesting permission")
	err := g.host.RequestPermission(dev, func(granted bool) {
		// The reply may arrive on the caller's goroutine.
		go g.notify(PermissionResult{Device: dev, Granted: granted})
	})
	if err != nil {
		g.mu.Lock()
		g.states[dev.Key()] = PermissionUnknown
		g.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrPermissionPending, err)
	}
	return ErrPermissionPending
}

// Resolve applies an asynchronous result. It reports false when no request
// was outstanding for dev, in which case the result is ignored.
func (g *PermissionGate) Resolve(dev DeviceDescriptor, granted bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.states[dev.Key()] != PermissionRequested {
		g.logger.Warn().Stringer("device", dev).Bool("granted", granted).Msg("unsolicited permission result")
		return false
	}
	if granted {
		g.states[dev.Key()] = PermissionGranted
	} else {
		g.states[dev.Key()] = PermissionDenied
	}
	return true
}

// Reset returns dev to Unknown unless a request is outstanding.
func (g *PermissionGate) Reset(dev DeviceDescriptor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.states[dev.Key()] != PermissionRequested {
		delete(g.states, dev.Key())
	}
}

// Forget drops any bookkeeping for dev.
func (g *PermissionGate) Forget(dev DeviceDescriptor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.states, dev.Key())
}

// State returns the current permission state of dev.
func (g *PermissionGate) State(dev DeviceDescriptor) PermissionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[dev.Key()]
}

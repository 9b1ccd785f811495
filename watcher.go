package usbbridge

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Notifier accepts inbound notifications. *Service implements it.
type Notifier interface {
	Notify(ev Event) bool
}

// Watcher turns enumeration changes into attach and detach notifications.
// The first scan reports every device already present.
type Watcher struct {
	host     Host
	sink     Notifier
	interval time.Duration
	logger   zerolog.Logger

	// Dir, when set, is watched for tty nodes appearing or disappearing so a
	// rescan happens without waiting for the next poll.
	Dir string

	known map[DeviceKey]DeviceDescriptor
	scans atomic.Int64
}

// NewWatcher returns a watcher polling host every interval. A zero
// interval disables polling; only directory events trigger scans then.
func NewWatcher(host Host, sink Notifier, interval time.Duration, logger zerolog.Logger) *Watcher {
	return &Watcher{
		host:     host,
		sink:     sink,
		interval: interval,
		logger:   logger.With().Str("component", "watcher").Logger(),
		known:    make(map[DeviceKey]DeviceDescriptor),
	}
}

// Scans returns the number of completed scans.
func (w *Watcher) Scans() int64 {
	return w.scans.Load()
}

// Run scans until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.Dir != "" {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			w.logger.Warn().Err(err).Msg("directory watch unavailable, polling only")
		} else {
			defer func() { _ = fw.Close() }()
			if err := fw.Add(w.Dir); err != nil {
				w.logger.Warn().Err(err).Str("dir", w.Dir).Msg("cannot watch directory, polling only")
			} else {
				events, errs = fw.Events, fw.Errors
			}
		}
	}

	w.Scan()

	var tick <-chan time.Time
	if w.interval > 0 {
		t := time.NewTicker(w.interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			w.Scan()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !isSerialNodeName(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			w.Scan()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn().Err(err).Msg("directory watch error")
		}
	}
}

// Scan enumerates once and notifies the differences from the previous
// scan. Detaches are reported before attaches.
func (w *Watcher) Scan() {
	defer w.scans.Add(1)

	devices, err := w.host.EnumerateDevices()
	if err != nil {
		w.logger.Warn().Err(err).Msg("enumeration failed")
		return
	}

	current := make(map[DeviceKey]DeviceDescriptor, len(devices))
	for _, d := range devices {
		current[d.Key()] = d
	}

	for k, d := range w.known {
		if _, ok := current[k]; !ok {
			w.logger.Debug().Stringer("device", d).Msg("device gone")
			w.sink.Notify(DeviceDetached{Device: d})
		}
	}
	for _, d := range devices {
		if _, ok := w.known[d.Key()]; !ok {
			w.logger.Debug().Stringer("device", d).Msg("device appeared")
			w.sink.Notify(DeviceAttached{Device: d})
		}
	}
	w.known = current
}

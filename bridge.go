package usbbridge

import (
	"time"

	"github.com/rs/zerolog"
)

// ContentLayer receives notifications from the bridge. Calls arrive in
// order from a single goroutine.
type ContentLayer interface {
	// OnNewData receives one inbound frame, base64 encoded.
	OnNewData(encoded string)
	UpdateUsbStatusText(status string)
}

// Navigator is implemented by content layers that can load a local asset.
type Navigator interface {
	LoadAsset(path string)
}

// Bridge is the narrow call/notification boundary between the Service and
// the content layer.
type Bridge struct {
	svc     *Service
	content ContentLayer
	logger  zerolog.Logger
	queue   chan func(ContentLayer)
	wait    time.Duration
	jsLog   zerolog.Logger
}

func newBridge(svc *Service, content ContentLayer, size int, wait time.Duration, logger zerolog.Logger) *Bridge {
	return &Bridge{
		svc:     svc,
		content: content,
		wait:    wait,
		logger:  logger.With().Str("component", "bridge").Logger(),
		jsLog:   logger.With().Str("component", "content").Logger(),
		queue:   make(chan func(ContentLayer), size),
	}
}

// run delivers queued notifications until the Service shuts down.
func (b *Bridge) run() {
	defer b.svc.wg.Done()
	for {
		select {
		case <-b.svc.done:
			return
		case fn := <-b.queue:
			if b.svc.shutdown.Load() {
				return
			}
			fn(b.content)
		}
	}
}

func (b *Bridge) deliver(fn func(ContentLayer)) {
	select {
	case b.queue <- fn:
	default:
		b.drop("status")
	}
}

// deliverData waits up to the delivery wait for queue space, holding back
// the read loop instead of losing the frame.
func (b *Bridge) deliverData(fn func(ContentLayer)) {
	select {
	case b.queue <- fn:
		return
	default:
	}
	if b.wait <= 0 {
		b.drop("data")
		return
	}

	t := time.NewTimer(b.wait)
	defer t.Stop()
	select {
	case b.queue <- fn:
	case <-b.svc.done:
	case <-t.C:
		b.drop("data")
	}
}

func (b *Bridge) drop(kind string) {
	b.svc.metrics.NotificationsDropped.Add(1)
	b.logger.Warn().Str("kind", kind).Msg("content layer is not keeping up, notification dropped")
}

// PushData forwards one inbound frame. p may be reused once PushData
// returns.
func (b *Bridge) PushData(p []byte) {
	encoded := EncodePayload(p)
	b.deliverData(func(c ContentLayer) { c.OnNewData(encoded) })
}

// PushStatus updates the status text shown by the content layer.
func (b *Bridge) PushStatus(status string) {
	b.deliver(func(c ContentLayer) { c.UpdateUsbStatusText(status) })
}

// IsConnected reports whether a port is currently open.
func (b *Bridge) IsConnected() bool {
	return b.svc.IsConnected()
}

// UsbWrite decodes a base64 payload from the content layer and queues it
// for the device.
func (b *Bridge) UsbWrite(encoded string) {
	payload, err := DecodePayload(encoded)
	if err != nil {
		b.logger.Warn().Err(err).Msg("rejecting write from content layer")
		b.PushStatus("Invalid payload")
		return
	}
	b.svc.Write(payload)
}

// LoadAssetToWebView asks the content layer to load a local asset.
func (b *Bridge) LoadAssetToWebView(path string) {
	nav, ok := b.content.(Navigator)
	if !ok {
		b.logger.Warn().Str("path", path).Msg("content layer cannot navigate")
		return
	}
	b.logger.Debug().Str("path", path).Msg("loading asset")
	b.deliver(func(ContentLayer) { nav.LoadAsset(path) })
}

// InternalLog records a diagnostic message emitted by the content layer.
func (b *Bridge) InternalLog(message string) {
	b.jsLog.Info().Msg(message)
}

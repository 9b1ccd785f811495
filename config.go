package usbbridge

import "time"

const (
	// MaxFrameSize bounds every frame crossing the bridge.
	MaxFrameSize = 256

	DefaultWriteTimeout    = 200 * time.Millisecond
	DefaultReadTimeout     = 500 * time.Millisecond
	DefaultIdlePoll        = 50 * time.Millisecond
	DefaultHotplugInterval = time.Second
	DefaultWriteQueueSize  = 50
	DefaultDeliveryQueue   = 256
	DefaultDeliveryWait    = 100 * time.Millisecond
)

// Permission modes for the bundled host.
const (
	PermissionModeAuto   = "auto"
	PermissionModePrompt = "prompt"
)

// Config holds the bridge configuration. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	VendorID        uint16         `mapstructure:"vendor_id" validate:"required"`
	ProductIDs      []uint16       `mapstructure:"product_ids" validate:"dive,required"`
	ProbeAnyProduct bool           `mapstructure:"probe_any_product"`
	Line            LineParameters `mapstructure:"line"`
	AssertDTR       bool           `mapstructure:"assert_dtr"`
	AssertRTS       bool           `mapstructure:"assert_rts"`

	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0,max=10s"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0,max=10s"`
	IdlePoll        time.Duration `mapstructure:"idle_poll" validate:"gt=0,max=1s"`
	HotplugInterval time.Duration `mapstructure:"hotplug_interval" validate:"gte=0"`
	MaxFrameSize    int           `mapstructure:"max_frame_size" validate:"min=1,max=4096"`
	WriteQueueSize  int           `mapstructure:"write_queue_size" validate:"min=1,max=10000"`
	DeliveryQueue   int           `mapstructure:"delivery_queue" validate:"min=1,max=10000"`
	// DeliveryWait bounds how long an inbound frame waits for queue space
	// before it is dropped. Status updates never wait.
	DeliveryWait    time.Duration `mapstructure:"delivery_wait" validate:"gte=0,max=10s"`

	PermissionMode string `mapstructure:"permission_mode" validate:"oneof=auto prompt"`
}

// DefaultConfig returns the fixed protocol parameters of the Pico bridge.
func DefaultConfig() *Config {
	return &Config{
		VendorID:        PicoVendorID,
		ProductIDs:      []uint16{PicoProductCDC, PicoProductStdio},
		Line:            DefaultLineParameters(),
		AssertDTR:       true,
		AssertRTS:       true,
		WriteTimeout:    DefaultWriteTimeout,
		ReadTimeout:     DefaultReadTimeout,
		IdlePoll:        DefaultIdlePoll,
		HotplugInterval: DefaultHotplugInterval,
		MaxFrameSize:    MaxFrameSize,
		WriteQueueSize:  DefaultWriteQueueSize,
		DeliveryQueue:   DefaultDeliveryQueue,
		DeliveryWait:    DefaultDeliveryWait,
		PermissionMode:  PermissionModeAuto,
	}
}

// ProbeTable builds the driver table described by the config.
func (c *Config) ProbeTable() *ProbeTable {
	t := NewProbeTable()
	for _, pid := range c.ProductIDs {
		t.AddProduct(c.VendorID, pid, DriverCDCACM)
	}
	if c.ProbeAnyProduct {
		t.AddVendor(c.VendorID, DriverCDCACM)
	}
	return t
}

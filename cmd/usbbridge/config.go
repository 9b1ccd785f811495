package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Station-Manager/usbbridge"
	"github.com/Station-Manager/usbbridge/logging"
)

// appConfig is the whole configuration document.
type appConfig struct {
	Bridge   usbbridge.Config `mapstructure:"bridge" validate:"-"`
	Log      logging.Config   `mapstructure:"log"`
	Listen   string           `mapstructure:"listen" validate:"required,hostname_port"`
	Assets   string           `mapstructure:"assets"`
	WatchDir string           `mapstructure:"watch_dir"`
}

func setDefaults(v *viper.Viper) {
	b := usbbridge.DefaultConfig()
	l := logging.DefaultConfig()

	v.SetDefault("bridge.vendor_id", b.VendorID)
	v.SetDefault("bridge.product_ids", b.ProductIDs)
	v.SetDefault("bridge.probe_any_product", b.ProbeAnyProduct)
	v.SetDefault("bridge.line.baud_rate", b.Line.BaudRate)
	v.SetDefault("bridge.line.data_bits", b.Line.DataBits)
	v.SetDefault("bridge.line.stop_bits", b.Line.StopBits)
	v.SetDefault("bridge.line.parity", b.Line.Parity)
	v.SetDefault("bridge.assert_dtr", b.AssertDTR)
	v.SetDefault("bridge.assert_rts", b.AssertRTS)
	v.SetDefault("bridge.write_timeout", b.WriteTimeout)
	v.SetDefault("bridge.read_timeout", b.ReadTimeout)
	v.SetDefault("bridge.idle_poll", b.IdlePoll)
	v.SetDefault("bridge.hotplug_interval", b.HotplugInterval)
	v.SetDefault("bridge.max_frame_size", b.MaxFrameSize)
	v.SetDefault("bridge.write_queue_size", b.WriteQueueSize)
	v.SetDefault("bridge.delivery_queue", b.DeliveryQueue)
	v.SetDefault("bridge.delivery_wait", b.DeliveryWait)
	v.SetDefault("bridge.permission_mode", b.PermissionMode)

	v.SetDefault("log.level", l.Level)
	v.SetDefault("log.format", l.Format)
	v.SetDefault("log.output", l.Output)
	v.SetDefault("log.max_size_mb", l.MaxSizeMB)
	v.SetDefault("log.max_backups", l.MaxBackups)
	v.SetDefault("log.max_age_days", l.MaxAgeDays)

	v.SetDefault("listen", "127.0.0.1:8080")
	v.SetDefault("assets", "")
	v.SetDefault("watch_dir", "/dev")

	v.SetEnvPrefix("usbbridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// readConfig merges the config file, if any.
func readConfig(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	return nil
}

// loadConfig decodes and validates the merged configuration.
func loadConfig(v *viper.Viper) (*appConfig, error) {
	cfg := &appConfig{
		Bridge: *usbbridge.DefaultConfig(),
		Log:    logging.DefaultConfig(),
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := usbbridge.ValidateConfig(&cfg.Bridge); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", strings.TrimPrefix(fe.Namespace(), "appConfig."), fe.Tag()))
			}
			return nil, fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return nil, err
	}
	return cfg, nil
}

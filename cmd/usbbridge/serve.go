package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Station-Manager/usbbridge"
	"github.com/Station-Manager/usbbridge/webview"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the page and bridge it to the board",
	Long: `Serve the page and its bridge socket, watch for the board and keep a
connection to it open while it is attached.

The page talks to the board through window.Android, provided by /bridge.js:
  Android.isConnected()
  Android.usbWrite(base64)
  Android.loadAssetToWebView(path)
  Android.internalLogJS(message)

Example usage:
  usbbridge serve
  usbbridge serve --listen 127.0.0.1:9000 --assets ./web
  usbbridge serve --permission-mode prompt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = closer() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, err := webview.NewServer(cfg.Listen, cfg.Assets, logger)
		if err != nil {
			return err
		}

		host, err := usbbridge.NewSerialHost(cfg.Bridge.PermissionMode, srv, logger)
		if err != nil {
			return err
		}

		svc, err := usbbridge.New(&cfg.Bridge, host, srv, usbbridge.WithLogger(logger))
		if err != nil {
			return err
		}
		srv.SetBackend(svc.Bridge())
		srv.SetMetrics(func() any { return svc.MetricsSnapshot() })

		if err := svc.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()

		watcher := usbbridge.NewWatcher(host, svc, cfg.Bridge.HotplugInterval, logger)
		watcher.Dir = cfg.WatchDir
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("watcher stopped")
			}
		}()

		return srv.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "127.0.0.1:8080", "HTTP listen address")
	serveCmd.Flags().String("assets", "", "directory of page assets (default: built-in page)")
	serveCmd.Flags().String("permission-mode", usbbridge.PermissionModeAuto, "device permission mode: auto, prompt")

	_ = v.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	_ = v.BindPFlag("assets", serveCmd.Flags().Lookup("assets"))
	_ = v.BindPFlag("bridge.permission_mode", serveCmd.Flags().Lookup("permission-mode"))
}

package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Station-Manager/usbbridge"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Relay the board to this terminal",
	Long: `Connect to the board and relay it to the terminal: inbound bytes are
printed to stdout, status changes to stderr, and every line typed on stdin
is sent to the board.

Example usage:
  usbbridge monitor
  usbbridge monitor --hex
  echo "reset" | usbbridge monitor --eol "\r\n"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = closer() }()

		hexMode, _ := cmd.Flags().GetBool("hex")
		eol, _ := cmd.Flags().GetString("eol")
		eol = strings.NewReplacer(`\r`, "\r", `\n`, "\n").Replace(eol)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Permission prompts need a page; the terminal relies on OS access.
		host, err := usbbridge.NewSerialHost(usbbridge.PermissionModeAuto, nil, logger)
		if err != nil {
			return err
		}

		out := &consoleContent{out: cmd.OutOrStdout(), status: cmd.ErrOrStderr(), hex: hexMode}
		svc, err := usbbridge.New(&cfg.Bridge, host, out, usbbridge.WithLogger(logger))
		if err != nil {
			return err
		}
		if err := svc.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()

		watcher := usbbridge.NewWatcher(host, svc, cfg.Bridge.HotplugInterval, logger)
		watcher.Dir = cfg.WatchDir
		go func() { _ = watcher.Run(ctx) }()

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					// stdin closed: keep relaying until interrupted
					lines = nil
					continue
				}
				sendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				_, err := svc.Send(sendCtx, []byte(line+eol))
				cancel()
				if err != nil && !errors.Is(err, usbbridge.ErrNotConnected) {
					fmt.Fprintf(cmd.ErrOrStderr(), "send: %v\n", err)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().Bool("hex", false, "print inbound bytes as hex dump")
	monitorCmd.Flags().String("eol", `\n`, "line ending appended to every stdin line")
}

// consoleContent is a ContentLayer writing to the terminal.
type consoleContent struct {
	mu     sync.Mutex
	out    io.Writer
	status io.Writer
	hex    bool
}

func (c *consoleContent) OnNewData(encoded string) {
	data, err := usbbridge.DecodePayload(encoded)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hex {
		_, _ = io.WriteString(c.out, hex.Dump(data))
		return
	}
	_, _ = c.out.Write(data)
}

func (c *consoleContent) UpdateUsbStatusText(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.status, "[%s] %s\n", time.Now().Format("15:04:05"), status)
}

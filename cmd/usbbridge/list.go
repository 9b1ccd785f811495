package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Station-Manager/usbbridge"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List attached USB serial devices",
	Long: `List the USB serial devices currently attached and show which one the
bridge would select, and whether a driver and access are available for it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = closer() }()

		all, _ := cmd.Flags().GetBool("all")

		host, err := usbbridge.NewSerialHost(usbbridge.PermissionModeAuto, nil, logger)
		if err != nil {
			return err
		}
		devices, err := host.EnumerateDevices()
		if err != nil {
			return err
		}

		matcher := usbbridge.NewMatcher(cfg.Bridge.VendorID, cfg.Bridge.ProbeTable(), host)
		selected, selErr := matcher.Select(devices)

		var rows []deviceRow
		for _, d := range devices {
			if !all && !matcher.Matches(d) {
				continue
			}
			rows = append(rows, describe(matcher, host, d, selErr == nil && d.Key() == selected.Key()))
		}

		if len(rows) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No matching USB serial devices found")
			return nil
		}
		renderTable(cmd, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolP("all", "a", false, "include devices of other vendors")
}

type deviceRow struct {
	device   usbbridge.DeviceDescriptor
	driver   string
	access   string
	selected bool
}

func describe(m *usbbridge.Matcher, host usbbridge.Host, d usbbridge.DeviceDescriptor, selected bool) deviceRow {
	row := deviceRow{device: d, selected: selected, driver: "-", access: "-"}
	if !m.Matches(d) {
		return row
	}
	drv, _, err := m.Probe(d)
	switch {
	case errors.Is(err, usbbridge.ErrNoCompatibleDriver):
		row.driver = "none"
	case err != nil:
		row.driver = "error"
	default:
		row.driver = string(drv.Kind())
	}
	if host.HasPermission(d) {
		row.access = "yes"
	} else {
		row.access = "no"
	}
	return row
}

// renderTable renders the device list in a styled static table format
func renderTable(cmd *cobra.Command, rows []deviceRow) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Found %d device(s):\n\n", len(rows))

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("240"))
	cellStyle := lipgloss.NewStyle().PaddingRight(2)
	selectedStyle := cellStyle.Foreground(lipgloss.Color("42"))

	const format = "%-1s %-20s %-10s %-8s %-7s %-20s"
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf(format, "", "Port", "ID", "Driver", "Access", "Product")))
	for _, r := range rows {
		mark, style := "", cellStyle
		if r.selected {
			mark, style = "*", selectedStyle
		}
		id := fmt.Sprintf("%04X:%04X", r.device.VendorID, r.device.ProductID)
		fmt.Fprintln(out, style.Render(fmt.Sprintf(format, mark, r.device.Handle, id, r.driver, r.access, r.device.Product)))
	}
}

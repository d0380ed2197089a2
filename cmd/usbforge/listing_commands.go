package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"usbforge/internal/ipc"
	"usbforge/internal/orders"
	"usbforge/internal/usb"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List detected removable devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Devices()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp.Devices)
				}
				out := cmd.OutOrStdout()
				if len(resp.Devices.Devices) == 0 {
					fmt.Fprintln(out, "No removable devices detected")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"Device", "Label", "Mount", "Size", "Free", "FS", "Empty", "Ready"},
					buildDeviceRows(resp.Devices.Devices),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
				))
				fmt.Fprintf(out, "%d connected, %d empty\n", resp.Devices.Connected, resp.Devices.Empty)
				return nil
			})
		},
	}
}

func buildDeviceRows(devices []usb.Device) [][]string {
	rows := make([][]string, 0, len(devices))
	for _, dev := range devices {
		ready := yesNo(dev.Ready)
		if dev.Claimed {
			ready = "claimed"
		}
		rows = append(rows, []string{
			dev.Path,
			dev.Label,
			dev.MountPoint,
			formatBytes(dev.SizeBytes),
			formatBytes(dev.FreeBytes),
			dev.FSType,
			yesNo(dev.Empty),
			ready,
		})
	}
	return rows
}

func newOrdersCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List persisted orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, value := range statuses {
				if _, ok := orders.ParseStatus(value); !ok {
					return fmt.Errorf("unknown status %q (valid: %s)", value, strings.Join(statusNames(), ", "))
				}
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.OrderList(statuses)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp.Orders)
				}
				out := cmd.OutOrStdout()
				if len(resp.Orders) == 0 {
					fmt.Fprintln(out, "No orders found")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"Order", "Number", "Customer", "Type", "Status", "Price", "Created", "Error"},
					buildOrderRows(resp.Orders),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	return cmd
}

func buildOrderRows(list []orders.Order) [][]string {
	rows := make([][]string, 0, len(list))
	for _, order := range list {
		rows = append(rows, []string{
			order.ID,
			order.OrderNumber,
			order.CustomerName,
			string(order.ContentType),
			string(order.Status),
			formatCents(order.PriceCents),
			formatAge(order.CreatedAt),
			truncate(order.ErrorMessage, 40),
		})
	}
	return rows
}

func statusNames() []string {
	all := orders.AllStatuses()
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = string(s)
	}
	return names
}

func truncate(value string, limit int) string {
	runes := []rune(strings.TrimSpace(value))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit-1]) + "…"
}

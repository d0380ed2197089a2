package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"usbforge/internal/daemon"
	"usbforge/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, and device status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp.Status)
				}
				out := cmd.OutOrStdout()
				for _, line := range renderDaemonStatus(resp.Status, shouldColorize(out)) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
}

func renderDaemonStatus(status daemon.Status, colorize bool) []string {
	lines := make([]string, 0, 8)

	if status.Running {
		lines = append(lines, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusError, "stopped", colorize))
	}

	queue := status.Queue
	if queue.Paused {
		lines = append(lines, renderStatusLine("Dispatch", statusWarn, "paused", colorize))
	} else {
		lines = append(lines, renderStatusLine("Dispatch", statusOK, "active", colorize))
	}

	waiting := fmt.Sprintf("%d waiting", queue.Length)
	if queue.HeadOrderID != "" {
		waiting += ", next " + queue.HeadOrderID
	}
	lines = append(lines, renderStatusLine("Queue", statusInfo, waiting, colorize))

	if active := queue.Active; active != nil {
		msg := fmt.Sprintf("order %s", active.OrderID)
		if active.Device != "" {
			msg += " on " + active.Device
		}
		if p := active.Progress; p != nil {
			msg += fmt.Sprintf(" %.1f%% (%s of %s)", p.Percentage, formatBytes(p.CopiedBytes), formatBytes(p.TotalBytes))
		}
		lines = append(lines, renderStatusLine("Active", statusInfo, msg, colorize))
	}

	devKind := statusOK
	if status.Devices.Empty == 0 {
		devKind = statusWarn
	}
	lines = append(lines, renderStatusLine("Devices", devKind,
		fmt.Sprintf("%d connected, %d empty", status.Devices.Connected, status.Devices.Empty), colorize))

	lines = append(lines, renderStatusLine("Orders", statusInfo,
		fmt.Sprintf("%d total, %d completed today, revenue %s",
			status.Orders.Total, status.Orders.CompletedToday, formatCents(status.Orders.RevenueCents)), colorize))

	api := strings.TrimSpace(status.OrderAPI)
	if api == "" {
		api = "local store only"
	}
	lines = append(lines, renderStatusLine("Order API", statusInfo, api, colorize))
	if status.MetricsAddr != "" {
		lines = append(lines, renderStatusLine("Metrics", statusInfo, "http://"+status.MetricsAddr+"/metrics", colorize))
	}
	lines = append(lines, renderStatusLine("Udev watch", statusInfo, yesNo(status.WatchingUdev), colorize))
	return lines
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"usbforge/internal/ipc"
)

func newPauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Stop dispatching new orders; the in-flight order finishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Pause()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Dispatch paused")
				return nil
			})
		},
	}
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume dispatching orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Resume()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Dispatch resumed")
				return nil
			})
		},
	}
}

func newRefreshCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reload waiting orders from the order store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Refresh()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queue refreshed: %d waiting\n", resp.Length)
				return nil
			})
		},
	}
}

func newProgressCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <order-id>",
		Short: "Show live copy progress for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.CopyProgress(args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if !resp.Found {
					fmt.Fprintf(out, "No copy running for order %s\n", args[0])
					return nil
				}
				p := resp.Progress
				fmt.Fprintf(out, "Order %s: %.1f%%\n", p.JobID, p.Percentage)
				fmt.Fprintf(out, "  Files:   %d of %d\n", p.CopiedFiles, p.TotalFiles)
				fmt.Fprintf(out, "  Bytes:   %s of %s\n", formatBytes(p.CopiedBytes), formatBytes(p.TotalBytes))
				fmt.Fprintf(out, "  Started: %s\n", formatAge(p.StartedAt))
				if current := strings.TrimSpace(p.CurrentFile); current != "" {
					fmt.Fprintf(out, "  Current: %s\n", current)
				}
				return nil
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel the running copy for an order; the order fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.CancelCopy(args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				if resp.Cancelled {
					fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for order %s\n", args[0])
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "No copy running for order %s\n", args[0])
				}
				return nil
			})
		},
	}
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run a health check and write today's report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Health()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp.Report)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				report := resp.Report
				fmt.Fprintln(out, renderStatusLine("Devices", statusInfo,
					fmt.Sprintf("%d connected, %d empty", report.Devices.Connected, report.Devices.Empty), colorize))
				fmt.Fprintln(out, renderStatusLine("Queue", statusInfo, fmt.Sprintf("%d waiting", report.QueueLength), colorize))
				if len(report.Alerts) == 0 {
					fmt.Fprintln(out, renderStatusLine("Alerts", statusOK, "none", colorize))
				}
				for _, alert := range report.Alerts {
					fmt.Fprintln(out, renderStatusLine("Alert", statusWarn, alert, colorize))
				}
				if report.ReportPath != "" {
					fmt.Fprintln(out, renderStatusLine("Report", statusInfo, report.ReportPath, colorize))
				}
				return nil
			})
		},
	}
}

package main

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"usbforge/internal/ipc"
	"usbforge/internal/orders"
	"usbforge/internal/scheduler"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the dispatch queue",
	}
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueForceCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued orders in dispatch order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueStatus()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp.Queue)
				}
				out := cmd.OutOrStdout()
				if resp.Queue.Active != nil {
					fmt.Fprintf(out, "In flight: %s\n", resp.Queue.Active.OrderID)
				}
				if len(resp.Queue.Queue) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"#", "Order", "Number", "Customer", "Type", "Status", "Waiting", "Forced"},
					buildQueueRows(resp.Queue.Queue),
					[]columnAlignment{alignRight},
				))
				return nil
			})
		},
	}
}

func buildQueueRows(entries []scheduler.QueueEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for i, entry := range entries {
		forced := ""
		if entry.Forced {
			forced = "yes"
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			entry.OrderID,
			entry.OrderNumber,
			entry.CustomerName,
			string(entry.ContentType),
			string(entry.Status),
			formatAge(entry.CreatedAt),
			forced,
		})
	}
	return rows
}

type orderFlags struct {
	id       string
	number   string
	customer string
	phone    string
	content  string
	capacity string
	genres   []string
	artists  []string
	videos   []string
	movies   []string
	series   []string
	price    float64
	notes    string
}

func (f orderFlags) build() (orders.Order, error) {
	contentType, ok := orders.ParseContentType(f.content)
	if !ok {
		return orders.Order{}, fmt.Errorf("unknown content type %q (music, videos, movies, series, mixed)", f.content)
	}
	if f.price < 0 {
		return orders.Order{}, errors.New("price must not be negative")
	}
	id := strings.TrimSpace(f.id)
	if id == "" {
		id = uuid.NewString()
	}
	return orders.Order{
		ID:            id,
		OrderNumber:   strings.TrimSpace(f.number),
		CustomerName:  strings.TrimSpace(f.customer),
		CustomerPhone: strings.TrimSpace(f.phone),
		ContentType:   contentType,
		Capacity:      strings.TrimSpace(f.capacity),
		Genres:        f.genres,
		Artists:       f.artists,
		Videos:        f.videos,
		Movies:        f.movies,
		Series:        f.series,
		PriceCents:    int64(math.Round(f.price * 100)),
		Notes:         strings.TrimSpace(f.notes),
		Status:        orders.StatusPending,
	}, nil
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var flags orderFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Submit an order for fulfilment",
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := flags.build()
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.AddOrder(order)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				if resp.Added {
					fmt.Fprintf(cmd.OutOrStdout(), "Order %s queued\n", resp.OrderID)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Order %s saved; already queued or not eligible\n", resp.OrderID)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&flags.id, "id", "", "Order id (generated when omitted)")
	cmd.Flags().StringVar(&flags.number, "number", "", "Customer-facing order number")
	cmd.Flags().StringVar(&flags.customer, "customer", "", "Customer name")
	cmd.Flags().StringVar(&flags.phone, "phone", "", "Customer phone")
	cmd.Flags().StringVarP(&flags.content, "type", "t", "mixed", "Content type: music, videos, movies, series, mixed")
	cmd.Flags().StringVar(&flags.capacity, "capacity", "", "Device capacity, e.g. 32GB")
	cmd.Flags().StringSliceVar(&flags.genres, "genre", nil, "Music genre (repeatable)")
	cmd.Flags().StringSliceVar(&flags.artists, "artist", nil, "Artist (repeatable)")
	cmd.Flags().StringSliceVar(&flags.videos, "video", nil, "Video keyword (repeatable)")
	cmd.Flags().StringSliceVar(&flags.movies, "movie", nil, "Movie title keyword (repeatable)")
	cmd.Flags().StringSliceVar(&flags.series, "series", nil, "Series title keyword (repeatable)")
	cmd.Flags().Float64Var(&flags.price, "price", 0, "Order price")
	cmd.Flags().StringVar(&flags.notes, "notes", "", "Free-form notes")
	return cmd
}

func newQueueForceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "force <order-id>",
		Short: "Move an order to the head of the queue, reopening it if finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ForceProcess(args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				if !resp.Queued {
					return fmt.Errorf("order %s was not queued", args[0])
				}
				return nil
			})
		},
	}
}

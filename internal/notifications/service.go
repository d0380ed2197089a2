package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"usbforge/internal/config"
	"usbforge/internal/orders"
)

const userAgent = "usbforge/0.1.0"

const alertCacheSize = 256

// Service defines the notification surface exposed to the scheduler.
type Service interface {
	NotifyOrderProcessing(ctx context.Context, order orders.Order) error
	NotifyOrderCompleted(ctx context.Context, order orders.Order, summary CopySummary) error
	NotifyOrderError(ctx context.Context, order orders.Order, err error) error
	NotifyAdminAlert(ctx context.Context, key, message string) error
	TestNotification(ctx context.Context) error
}

// CopySummary describes a finished device for the completion message.
type CopySummary struct {
	Files    int
	Bytes    int64
	Duration time.Duration
	Device   string
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	settings := cfg.Notifications
	topic := strings.TrimSpace(settings.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	admin := strings.TrimSpace(settings.AdminTopic)
	if admin == "" {
		admin = topic
	}

	timeout := time.Duration(settings.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	svc := &ntfyService{
		endpoint: topic,
		admin:    admin,
		client:   &http.Client{Timeout: timeout},
		customer: settings.Customer,
		alerts:   settings.Alerts,
	}
	if window := time.Duration(settings.DedupWindowSeconds) * time.Second; window > 0 {
		svc.recent = expirable.NewLRU[string, time.Time](alertCacheSize, nil, window)
	}
	return svc
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	admin    string
	client   *http.Client
	customer bool
	alerts   bool
	recent   *expirable.LRU[string, time.Time]
}

func (n *ntfyService) NotifyOrderProcessing(ctx context.Context, order orders.Order) error {
	if !n.customer {
		return nil
	}
	message := fmt.Sprintf("Preparing USB for order %s", order.DisplayNumber())
	if name := strings.TrimSpace(order.CustomerName); name != "" {
		message = fmt.Sprintf("%s (%s)", message, name)
	}
	if capacity := strings.TrimSpace(order.Capacity); capacity != "" {
		message = fmt.Sprintf("%s\nCapacity: %s", message, capacity)
	}
	data := payload{
		title:   "USB Forge - Processing",
		message: "⚙️ " + message,
		tags:    []string{"usbforge", "order", "processing"},
	}
	return n.send(ctx, n.endpoint, data)
}

func (n *ntfyService) NotifyOrderCompleted(ctx context.Context, order orders.Order, summary CopySummary) error {
	if !n.customer {
		return nil
	}
	duration := summary.Duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	message := fmt.Sprintf("✅ Order %s ready: %d files (%s) in %s",
		order.DisplayNumber(), summary.Files, humanize.Bytes(uint64(max(summary.Bytes, 0))), duration)
	if device := strings.TrimSpace(summary.Device); device != "" {
		message = fmt.Sprintf("%s\nDevice: %s", message, device)
	}
	data := payload{
		title:    "USB Forge - Complete",
		message:  message,
		tags:     []string{"usbforge", "order", "completed"},
		priority: "high",
	}
	return n.send(ctx, n.endpoint, data)
}

func (n *ntfyService) NotifyOrderError(ctx context.Context, order orders.Order, err error) error {
	if !n.customer {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Order ")
	builder.WriteString(order.DisplayNumber())
	builder.WriteString(" failed: ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	data := payload{
		title:    "USB Forge - Error",
		message:  builder.String(),
		tags:     []string{"usbforge", "order", "error"},
		priority: "high",
	}
	return n.send(ctx, n.endpoint, data)
}

// NotifyAdminAlert publishes an operator alert. Alerts sharing a key are
// suppressed until the dedup window expires.
func (n *ntfyService) NotifyAdminAlert(ctx context.Context, key, message string) error {
	if !n.alerts {
		return nil
	}
	key = strings.TrimSpace(key)
	if n.recent != nil && key != "" {
		if _, seen := n.recent.Get(key); seen {
			return nil
		}
	}
	data := payload{
		title:    "USB Forge - Alert",
		message:  "🚨 " + strings.TrimSpace(message),
		tags:     []string{"usbforge", "alert", key},
		priority: "urgent",
	}
	if err := n.send(ctx, n.admin, data); err != nil {
		return err
	}
	if n.recent != nil && key != "" {
		n.recent.Add(key, time.Now())
	}
	return nil
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "USB Forge - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"usbforge", "test"},
		priority: "low",
	}
	return n.send(ctx, n.endpoint, data)
}

func (n *ntfyService) send(ctx context.Context, endpoint string, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if tags := compactTags(data.tags); len(tags) > 0 {
		req.Header.Set("Tags", strings.Join(tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func compactTags(tags []string) []string {
	out := tags[:0:0]
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

type noopService struct{}

func (noopService) NotifyOrderProcessing(context.Context, orders.Order) error             { return nil }
func (noopService) NotifyOrderCompleted(context.Context, orders.Order, CopySummary) error { return nil }
func (noopService) NotifyOrderError(context.Context, orders.Order, error) error           { return nil }
func (noopService) NotifyAdminAlert(context.Context, string, string) error                { return nil }
func (noopService) TestNotification(context.Context) error                                { return nil }

package scheduler

import (
	"context"
	"fmt"

	"usbforge/internal/logging"
	"usbforge/internal/report"
)

// CheckHealth inspects devices and the backlog, raises operator alerts, and
// writes the daily report.
func (s *Scheduler) CheckHealth(ctx context.Context) HealthReport {
	devices := s.devices.Status(ctx)
	status := s.QueueStatus()

	health := HealthReport{
		CheckedAt:   s.now(),
		Devices:     devices,
		QueueLength: status.Length,
	}
	if devices.Empty == 0 && status.Length > 0 {
		msg := fmt.Sprintf("No empty USB devices connected (%d connected) while %d orders wait", devices.Connected, status.Length)
		health.Alerts = append(health.Alerts, msg)
		s.alert(ctx, s.logger, "no_empty_devices", msg)
	}
	if status.Length > s.opts.QueueAlertThreshold {
		msg := fmt.Sprintf("Queue backlog: %d orders waiting (threshold %d)", status.Length, s.opts.QueueAlertThreshold)
		health.Alerts = append(health.Alerts, msg)
		s.alert(ctx, s.logger, "queue_backlog", msg)
	}

	if len(health.Alerts) > 0 {
		logging.WarnWithContext(s.logger, "health check raised alerts", "health_alert",
			logging.Strings("alerts", health.Alerts),
			logging.Int("queue_length", status.Length),
			logging.Int("devices_empty", devices.Empty),
			logging.String(logging.FieldImpact, "orders wait longer than usual"),
			logging.String(logging.FieldErrorHint, "connect empty USB devices"),
		)
	} else {
		s.logger.Debug("health check ok",
			logging.Int("queue_length", status.Length),
			logging.Int("devices_connected", devices.Connected),
			logging.Int("devices_empty", devices.Empty),
		)
	}

	if s.reports != nil {
		stats, err := s.store.Stats(ctx)
		if err != nil {
			s.logger.Debug("order stats unavailable for report", logging.Error(err))
		}
		path, err := s.reports.Write(report.Report{
			GeneratedAt: health.CheckedAt,
			Orders:      stats,
			Devices:     devices,
			Queue: report.QueueState{
				Length:     status.Length,
				Paused:     status.Paused,
				Processing: status.Processing,
				ActiveID:   activeID(status),
			},
			Alerts: health.Alerts,
		})
		if err != nil {
			logging.WarnWithContext(s.logger, "daily report not written", "report_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "daily report is stale"),
				logging.String(logging.FieldErrorHint, "check paths.report_dir permissions"),
			)
		} else {
			health.ReportPath = path
		}
	}
	return health
}

func activeID(status Status) string {
	if status.Active == nil {
		return ""
	}
	return status.Active.OrderID
}

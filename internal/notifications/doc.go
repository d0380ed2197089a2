// Package notifications delivers order lifecycle events and operator alerts
// via ntfy.
//
// Customer-facing events (processing, completed, error) publish to the
// configured topic; operator alerts publish to the admin topic and are
// deduplicated per alert key within a configurable window so a persistent
// condition (no empty devices, backlog) does not page on every health check.
// When no topic is configured a no-op implementation is returned, so callers
// never need to branch on whether notifications are enabled.
package notifications

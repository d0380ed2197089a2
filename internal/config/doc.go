// Package config loads, normalizes, and validates usbforge configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and overlays USBFORGE_* environment variables
// for credentials and endpoints. The Config type centralizes every knob the
// daemon and CLI need, from content library roots to device formatting and
// the remote order backend.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical extensions, and clear validation errors.
package config

// Package daemon hosts the long-running usbforge process.
//
// It wires configuration, the order store (optionally mirrored to the remote
// order API), device discovery, the copy engine, notifications, and the
// scheduler into a single lifecycle guarded by a flock-based instance lock.
// The daemon also serves the Prometheus metrics and health endpoint and
// forwards udev hotplug events to the scheduler as dispatch wake-ups.
//
// Keep orchestration here; fulfilment logic belongs to the scheduler and the
// packages it drives.
package daemon

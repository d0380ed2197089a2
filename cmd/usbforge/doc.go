// Command usbforge is the operator CLI for the usbforged daemon.
//
// Most commands talk to the daemon over its IPC socket: queue inspection
// and overrides, pause/resume, copy progress and cancellation, device and
// order listings, and notification tests. `config` and `check` work
// locally without a daemon. Pass --json for machine-readable output.
package main

// Package daemonrun hosts the usbforged process lifecycle: logger setup,
// PID file, IPC server, and signal-driven shutdown around a built daemon.
package daemonrun

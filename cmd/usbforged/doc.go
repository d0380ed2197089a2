// Command usbforged runs the order fulfilment daemon: it owns the order
// store, dispatches orders onto removable devices, and serves the IPC
// socket used by the usbforge CLI.
package main

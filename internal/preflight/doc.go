// Package preflight provides readiness checks for the filesystem paths,
// host tools, and remote services usbforge depends on.
//
// The daemon runs RunAll at startup and logs each failure as a warning;
// the CLI "usbforge check" command renders the same results locally,
// without a running daemon. Checks for disabled features are skipped.
package preflight

// Package usb discovers removable storage, classifies it, and prepares one
// device per order.
//
// Discovery runs a fallback chain: lsblk first, then /proc/mounts entries
// under the configured mount roots, then a conservative probe of the mount
// roots themselves. A failing or empty strategy falls through to the next;
// no devices yields an empty slice, never an error. Devices are re-discovered
// on every allocation attempt and claimed by path until the order releases
// them.
//
// Format is destructive. Callers only format a device they already claimed.
package usb

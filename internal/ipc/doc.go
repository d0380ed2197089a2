// Package ipc exposes the daemon over JSON-RPC on a Unix domain socket and
// ships the matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs for the
// operator surface: queue inspection, pause/resume, force processing, copy
// progress and cancellation, device and order listings, queue refresh, and
// notification tests. Reuse these types when adding endpoints so the CLI
// and daemon stay compatible.
package ipc

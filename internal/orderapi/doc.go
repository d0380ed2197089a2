// Package orderapi talks to the remote order backend.
//
// Client wraps the REST endpoints used during fulfilment: health, paginated
// pending orders, and the burning lifecycle callbacks (start, complete,
// report-error). Failures surface as *APIError values carrying the backend
// error code and a retryable flag; retryable failures are retried with
// exponential backoff inside the client.
//
// Mirror layers the client over the local SQLite store so the scheduler
// keeps a single persistence interface: remote pending orders are pulled
// into the local store on every refresh and local status transitions are
// mirrored back. The local store stays authoritative; remote failures are
// logged and never block fulfilment.
package orderapi

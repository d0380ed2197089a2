// Package orders persists customer orders in SQLite and enforces their
// status state machine.
//
// An order moves pending → processing → completed | error, and may detour
// through awaiting_usb when no device is free. Terminal orders re-enter
// processing only through ReopenOrder, which backs the operator's force
// command. Every other transition is rejected with ErrInvalidTransition so a
// stale writer cannot move an order backwards.
//
// The database is the durable half of the scheduler queue: orders are saved
// before they are enqueued, and status changes are written before the
// in-memory queue moves. Schema changes bump the version in schema.go.
package orders

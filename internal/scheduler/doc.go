// Package scheduler owns the in-memory order queue and the single-flight
// fulfilment loop.
//
// A Scheduler pulls waiting orders from persistence, dispatches them one at a
// time (one physical staging device is prepared at once), allocates a device
// through the resource manager, drives the copy engine, and records the
// terminal status. Orders that find no empty device are deferred to the tail
// of the queue as awaiting_usb rather than failed. Independent loops
// reconcile the queue with persistence and run periodic health checks that
// raise operator alerts and write the daily report; neither loop ever
// dispatches.
package scheduler

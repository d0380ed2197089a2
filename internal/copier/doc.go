// Package copier copies located content onto a prepared device.
//
// A Plan lists the facets of one order. The engine resolves each facet through
// a Finder, lays matches out under MUSICA, VIDEOS, PELICULAS and SERIES,
// skips a basename already placed in the same category, retries failing
// files a bounded number of times, and verifies every written file before
// reporting. One bad file never fails the job; it is recorded in the Result.
//
// Progress is tracked per job and delivered to the plan's Observer. Cancel
// stops a job before its next file and aborts the copy in flight.
package copier

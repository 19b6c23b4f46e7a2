// Package scheduler drives polling of the fleet: one cycle immediately, one
// per poll interval, and a coalesced full-fleet recheck after the probation
// interval whenever a server starts to look down.
package scheduler

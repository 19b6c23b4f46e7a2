// Package tracker turns raw samples into a damped up/down signal per server.
//
// Each server moves through UNKNOWN, UP, PROBATION and DOWN:
//
//   - the first sample only records a baseline and never notifies
//   - an UP server that looks down enters PROBATION and a fleet recheck is
//     requested
//   - still down at the next sample means DOWN, and a down event is sent with
//     the time it first went down
//   - recovery sends an up event only if the down event was sent
//
// Every sample is stored in history whatever the outcome. Per-server state is
// guarded by a per-server lock held only for the read-modify-write; storage
// and notification happen outside it.
package tracker

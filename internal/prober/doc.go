// Package prober takes single observations of the fleet: an ICMP echo to a
// host and a GET of a server's status document. Probes never fail; every
// error is folded into the returned sample.
package prober

package models

import (
	"net/http"
	"time"
)

// SampleKind distinguishes the two kinds of stored observations.
type SampleKind string

const (
	KindStatus SampleKind = "status"
	KindPing   SampleKind = "ping"
)

// StatusSample is the outcome of fetching one server's status document.
type StatusSample struct {
	ServerID       string     `json:"server"`
	When           time.Time  `json:"when"`
	LatencyNs      int64      `json:"ns"`
	HTTPStatusCode int        `json:"statusCode"`
	IsSetup        bool       `json:"isSetup"`
	IsBusted       bool       `json:"isBusted"`
	BustedReason   string     `json:"busted,omitempty"`
	Users          *int       `json:"users,omitempty"`
	Guests         *int       `json:"guests,omitempty"`
	Load           string     `json:"load,omitempty"`
	Uptime         string     `json:"uptime,omitempty"`
	Stamp          *time.Time `json:"stamp,omitempty"`
	MemFree        *float64   `json:"memFree,omitempty"`
	MemTotal       *float64   `json:"memTotal,omitempty"`
	DBUsed         *int       `json:"dbUsed,omitempty"`
	Version        string     `json:"version,omitempty"`
	Environment    string     `json:"environment,omitempty"`
}

// Up reports whether the sample counts as a healthy observation.
func (s StatusSample) Up() bool {
	return s.HTTPStatusCode == http.StatusOK && !s.IsBusted
}

// PingSample is the outcome of one reachability probe of a host.
type PingSample struct {
	HostID    string    `json:"host"`
	When      time.Time `json:"when"`
	Alive     bool      `json:"alive"`
	LatencyNs int64     `json:"ns"`
}

// Record is one stored history entry. Exactly one of Status and Ping is set,
// matching Kind.
type Record struct {
	ID       string        `json:"id"`
	EntityID string        `json:"entity"`
	Kind     SampleKind    `json:"kind"`
	When     time.Time     `json:"when"`
	Status   *StatusSample `json:"status,omitempty"`
	Ping     *PingSample   `json:"ping,omitempty"`
}

// StatusRecord wraps a status sample as a history record.
func StatusRecord(s StatusSample) Record {
	return Record{EntityID: s.ServerID, Kind: KindStatus, When: s.When, Status: &s}
}

// PingRecord wraps a ping sample as a history record.
func PingRecord(p PingSample) Record {
	return Record{EntityID: p.HostID, Kind: KindPing, When: p.When, Ping: &p}
}

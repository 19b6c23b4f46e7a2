package models

// Host is a network endpoint that runs one or more servers.
// Stealth hosts are never pinged; their servers are still status-checked.
type Host struct {
	ID        string   `json:"id"`
	Stealth   bool     `json:"stealth"`
	ServerIDs []string `json:"serverIds"`
}

// Server is a logical service instance bound to exactly one host.
type Server struct {
	ID        string `json:"id"`
	HostID    string `json:"hostId"`
	StatusURL string `json:"-"`
}

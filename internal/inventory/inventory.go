package inventory

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/angeloszaimis/fleet-watcher/config"
	"github.com/angeloszaimis/fleet-watcher/internal/models"
)

var ErrDuplicateServer = errors.New("inventory: duplicate server id")

// Inventory is the read-only fleet description.
type Inventory struct {
	hosts   map[string]models.Host
	servers map[string]models.Server
}

// New builds an inventory from configured hosts. Servers without an explicit
// status_url get url resolved against statusPath.
func New(hosts []config.HostConfig, statusPath string) (*Inventory, error) {
	inv := &Inventory{
		hosts:   make(map[string]models.Host, len(hosts)),
		servers: make(map[string]models.Server),
	}

	for _, hc := range hosts {
		for _, ep := range hc.Servers {
			statusURL, err := ResolveStatusURL(ep, statusPath)
			if err != nil {
				return nil, fmt.Errorf("server %s: %w", ep.ID, err)
			}
			if err := inv.add(hc.ID, hc.Stealth, ep.ID, statusURL); err != nil {
				return nil, err
			}
		}
		if _, ok := inv.hosts[hc.ID]; !ok {
			inv.hosts[hc.ID] = models.Host{ID: hc.ID, Stealth: hc.Stealth}
		}
	}

	return inv, nil
}

func (inv *Inventory) add(hostID string, stealth bool, serverID, statusURL string) error {
	if _, exists := inv.servers[serverID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateServer, serverID)
	}

	host, ok := inv.hosts[hostID]
	if !ok {
		host = models.Host{ID: hostID}
	}
	host.Stealth = host.Stealth || stealth
	host.ServerIDs = append(host.ServerIDs, serverID)
	sort.Strings(host.ServerIDs)
	inv.hosts[hostID] = host

	inv.servers[serverID] = models.Server{ID: serverID, HostID: hostID, StatusURL: statusURL}
	return nil
}

// ResolveStatusURL returns the explicit status URL of ep, or its base URL
// resolved against statusPath.
func ResolveStatusURL(ep config.EndpointConfig, statusPath string) (string, error) {
	if ep.StatusURL != "" {
		return ep.StatusURL, nil
	}
	if ep.URL == "" {
		return "", errors.New("no url or status_url")
	}

	base, err := url.Parse(ep.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	ref, err := url.Parse(statusPath)
	if err != nil {
		return "", fmt.Errorf("parse status path: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// Hosts returns every host sorted by id.
func (inv *Inventory) Hosts() []models.Host {
	out := make([]models.Host, 0, len(inv.hosts))
	for _, h := range inv.hosts {
		out = append(out, cloneHost(h))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Servers returns every server sorted by id.
func (inv *Inventory) Servers() []models.Server {
	out := make([]models.Server, 0, len(inv.servers))
	for _, s := range inv.servers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (inv *Inventory) Host(id string) (models.Host, bool) {
	h, ok := inv.hosts[id]
	return cloneHost(h), ok
}

func (inv *Inventory) Server(id string) (models.Server, bool) {
	s, ok := inv.servers[id]
	return s, ok
}

// HostOf returns the host a server is bound to.
func (inv *Inventory) HostOf(serverID string) (models.Host, bool) {
	s, ok := inv.servers[serverID]
	if !ok {
		return models.Host{}, false
	}
	return inv.Host(s.HostID)
}

func cloneHost(h models.Host) models.Host {
	h.ServerIDs = append([]string(nil), h.ServerIDs...)
	return h
}

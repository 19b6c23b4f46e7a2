package inventory

import (
	"context"
	"fmt"
	"net"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"

	"github.com/angeloszaimis/fleet-watcher/config"
)

// CatalogReader is the subset of the Consul catalog the inventory needs.
type CatalogReader interface {
	Services(q *consulapi.QueryOptions) (map[string][]string, *consulapi.QueryMeta, error)
	Service(service, tag string, q *consulapi.QueryOptions) ([]*consulapi.CatalogService, *consulapi.QueryMeta, error)
}

// NewConsulCatalog connects to the Consul agent at addr.
func NewConsulCatalog(addr string) (CatalogReader, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr

	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return client.Catalog(), nil
}

// FromCatalog builds the inventory from every service instance carrying tag.
// Each instance becomes a server named <service>@<node>, bound to its node as
// host; nodes with meta stealth=true are stealth hosts.
func FromCatalog(ctx context.Context, catalog CatalogReader, tag, statusPath string) (*Inventory, error) {
	q := (&consulapi.QueryOptions{}).WithContext(ctx)

	services, _, err := catalog.Services(q)
	if err != nil {
		return nil, fmt.Errorf("list consul services: %w", err)
	}

	byHost := make(map[string]*config.HostConfig)
	var order []string

	for name, tags := range services {
		if !hasTag(tags, tag) {
			continue
		}
		instances, _, err := catalog.Service(name, tag, q)
		if err != nil {
			return nil, fmt.Errorf("list consul service %s: %w", name, err)
		}
		for _, inst := range instances {
			hc, ok := byHost[inst.Node]
			if !ok {
				hc = &config.HostConfig{ID: inst.Node}
				byHost[inst.Node] = hc
				order = append(order, inst.Node)
			}
			if inst.NodeMeta["stealth"] == "true" {
				hc.Stealth = true
			}

			addr := inst.ServiceAddress
			if addr == "" {
				addr = inst.Address
			}
			hc.Servers = append(hc.Servers, config.EndpointConfig{
				ID:  name + "@" + inst.Node,
				URL: "http://" + net.JoinHostPort(addr, strconv.Itoa(inst.ServicePort)) + "/",
			})
		}
	}

	hosts := make([]config.HostConfig, 0, len(order))
	for _, id := range order {
		hosts = append(hosts, *byHost[id])
	}
	return New(hosts, statusPath)
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

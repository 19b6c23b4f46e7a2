package prober

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// Pinger sends one echo request to addr and reports whether a reply came
// back within timeout.
type Pinger interface {
	Ping(ctx context.Context, addr string, timeout time.Duration) (bool, error)
}

// ICMPPinger pings with raw or unprivileged UDP ICMP sockets.
type ICMPPinger struct {
	Privileged bool
}

func (p ICMPPinger) Ping(ctx context.Context, addr string, timeout time.Duration) (bool, error) {
	pinger, err := probing.NewPinger(addr)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", addr, err)
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(p.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return false, err
	}
	return pinger.Statistics().PacketsRecv > 0, nil
}

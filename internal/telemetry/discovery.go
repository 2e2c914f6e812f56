package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
)

const (
	healthPath       = "/system/health"
	healthyStatus    = "HEALTHY"
	hqPort           = "3000"
	discoveryTimeout = time.Second
)

// ErrHQNotFound is returned by Discover when no candidate answered healthy.
var ErrHQNotFound = errors.New("no healthy HQ found")

// Health checks GET /system/health and fails unless HQ reports HEALTHY.
func (c *Client) Health(ctx context.Context) error {
	body, err := c.do(ctx, http.MethodGet, healthPath, nil)
	if err != nil {
		return err
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := decode(body, &health); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	if health.Status != healthyStatus {
		return fmt.Errorf("health: HQ reports %q", health.Status)
	}
	return nil
}

// Candidates lists the HQ API bases tried by Discover: the configured one,
// the usual local and container-host addresses, and the .1 address of the
// first non-loopback IPv4 subnet.
func Candidates(configured string) []string {
	out := []string{}
	add := func(base string) {
		base = strings.TrimRight(base, "/")
		if base != "" && !slices.Contains(out, base) {
			out = append(out, base)
		}
	}
	add(configured)
	for _, host := range []string{"localhost", "127.0.0.1", "host.docker.internal"} {
		add(apiBase(host))
	}
	if gw := guessGateway(); gw != "" {
		add(apiBase(gw))
	}
	return out
}

func apiBase(host string) string {
	return "http://" + net.JoinHostPort(host, hqPort) + "/api"
}

func guessGateway() string {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return ""
	}
	return gatewayFrom(ifaces)
}

func gatewayFrom(ifaces psnet.InterfaceStatList) string {
	for _, iface := range ifaces {
		if slices.Contains(iface.Flags, "loopback") {
			continue
		}
		for _, a := range iface.Addrs {
			ip, _, err := net.ParseCIDR(a.Addr)
			if err != nil {
				ip = net.ParseIP(a.Addr)
			}
			v4 := ip.To4()
			if v4 == nil || v4.IsLoopback() || v4.IsLinkLocalUnicast() {
				continue
			}
			gw := slices.Clone(v4)
			gw[3] = 1
			return gw.String()
		}
	}
	return ""
}

// Discover returns the first candidate whose health check passes. Each
// candidate gets at most perCandidate (one second when zero).
func Discover(ctx context.Context, httpClient *http.Client, candidates []string, perCandidate time.Duration, logger *slog.Logger) (string, error) {
	if perCandidate <= 0 {
		perCandidate = discoveryTimeout
	}
	for _, base := range candidates {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		cctx, cancel := context.WithTimeout(ctx, perCandidate)
		err := NewClient(base, httpClient).Health(cctx)
		cancel()
		if err == nil {
			return base, nil
		}
		if logger != nil {
			logger.Debug("HQ candidate not healthy", "base", base, "error", err)
		}
	}
	return "", ErrHQNotFound
}

package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service type of the backend
const ServiceType = "_mrzorro-api._tcp"

// ErrNotFound is returned when no backend answered before the timeout
var ErrNotFound = errors.New("no backend discovered")

// Backend describes a discovered backend
type Backend struct {
	Name string
	Host string
	Port int
}

// Address returns host:port
func (b Backend) Address() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// Advertise announces a backend listening on port until ctx ends
func Advertise(ctx context.Context, name string, port int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		name,
		ServiceType,
		"",
		"",
		port,
		ips,
		[]string{"path=/audio"},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	logger.Info("Advertising backend over mDNS",
		slog.String("name", name),
		slog.String("service", ServiceType),
		slog.Int("port", port))

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse queries for backends and returns the first one that answers
func Browse(ctx context.Context, timeout time.Duration, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries := make(chan *mdns.ServiceEntry, 8)
	found := make(chan *Backend, 1)

	go func() {
		for entry := range entries {
			backend, ok := backendFromEntry(entry)
			if !ok {
				continue
			}
			select {
			case found <- backend:
			default:
			}
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	queryErr := make(chan error, 1)
	go func() {
		queryErr <- mdns.Query(params)
		close(entries)
	}()

	select {
	case backend := <-found:
		logger.Info("Discovered backend",
			slog.String("name", backend.Name),
			slog.String("address", backend.Address()))
		return backend, nil
	case err := <-queryErr:
		// Query returned; an answer may still be in flight
		select {
		case backend := <-found:
			return backend, nil
		case <-time.After(50 * time.Millisecond):
		}
		if err != nil {
			return nil, fmt.Errorf("mdns query failed: %w", err)
		}
		return nil, ErrNotFound
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// backendFromEntry converts an mDNS answer, skipping other services
func backendFromEntry(entry *mdns.ServiceEntry) (*Backend, bool) {
	if entry == nil || entry.Port == 0 {
		return nil, false
	}
	if !strings.Contains(entry.Name, ServiceType) {
		return nil, false
	}

	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	default:
		return nil, false
	}

	return &Backend{Name: entry.Name, Host: host, Port: entry.Port}, true
}

// getLocalIPs returns local IPv4 addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}

	return ips, nil
}

package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
)

func TestBackendFromEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry *mdns.ServiceEntry
		want  *Backend
	}{
		{
			name: "ipv4 backend",
			entry: &mdns.ServiceEntry{
				Name:   "studio._mrzorro-api._tcp.local.",
				AddrV4: net.ParseIP("192.168.1.20"),
				Port:   8000,
			},
			want: &Backend{Name: "studio._mrzorro-api._tcp.local.", Host: "192.168.1.20", Port: 8000},
		},
		{
			name: "other service",
			entry: &mdns.ServiceEntry{
				Name:   "printer._ipp._tcp.local.",
				AddrV4: net.ParseIP("192.168.1.30"),
				Port:   631,
			},
		},
		{
			name: "no address",
			entry: &mdns.ServiceEntry{
				Name: "studio._mrzorro-api._tcp.local.",
				Port: 8000,
			},
		},
		{
			name: "nil entry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := backendFromEntry(tt.entry)
			if tt.want == nil {
				if ok {
					t.Errorf("Expected entry skipped, got %+v", got)
				}
				return
			}
			if !ok || *got != *tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestBackendAddress(t *testing.T) {
	b := Backend{Host: "10.0.0.5", Port: 8000}
	if b.Address() != "10.0.0.5:8000" {
		t.Errorf("Expected 10.0.0.5:8000, got %s", b.Address())
	}
}

func TestLocalIPsAreIPv4(t *testing.T) {
	ips, err := getLocalIPs()
	if err != nil {
		t.Skipf("Skipping, interfaces unavailable: %v", err)
	}
	for _, ip := range ips {
		if ip.To4() == nil || ip.IsLoopback() {
			t.Errorf("Unexpected address %s", ip)
		}
	}
}

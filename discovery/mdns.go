// Package discovery advertises the server on the local network over mDNS so
// clients on the same LAN can find it without a URL.
package discovery

import (
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/mdns"
)

const ServiceType = "_drawsync._tcp"

// Service builds the mDNS records for one server instance. An empty host uses
// the OS hostname and nil ips the first usable IPv4 address.
func Service(instance, host string, port int, ips []net.IP) (*mdns.MDNSService, error) {
	if instance == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = h
	}
	if ips == nil {
		ips = []net.IP{firstIPv4()}
	}

	service, err := mdns.NewMDNSService(instance, ServiceType, "", host, port, ips, []string{"drawsync"})
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	return service, nil
}

// Advertise starts answering mDNS queries. Shut the returned server down on
// exit.
func Advertise(instance string, port int) (*mdns.Server, error) {
	service, err := Service(instance, "", port, nil)
	if err != nil {
		return nil, err
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}

func firstIPv4() net.IP {
	ifaces, _ := net.Interfaces()
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.To4()
			}
		}
	}
	return net.IPv4(127, 0, 0, 1)
}

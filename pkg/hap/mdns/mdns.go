// Package mdns announces the accessory as _hap._tcp and finds accessories
// by device ID.
package mdns

import (
	"fmt"
	"net"
	"strings"

	"github.com/hashicorp/mdns"
)

const Service = "_hap._tcp"

func NewServer(name string, port int, ips []net.IP, txt []string) (*mdns.Server, error) {
	ips = fallbackIPs(ips)

	// important to set hostName manually with any value and `.local.` tail
	// important to set ips manually
	service, _ := mdns.NewMDNSService(
		name, Service, "", name+".local.", port, ips, txt,
	)

	return mdns.NewServer(&mdns.Config{Zone: service})
}

func GetAll() chan *mdns.ServiceEntry {
	entries := make(chan *mdns.ServiceEntry)
	params := &mdns.QueryParam{
		Service: Service, Entries: entries, DisableIPv6: true,
	}

	go func() {
		_ = mdns.Query(params)
		close(entries)
	}()

	return entries
}

func GetAddress(deviceID string) string {
	for entry := range GetAll() {
		if strings.Contains(entry.Info, deviceID) {
			return fmt.Sprintf("%s:%d", entry.AddrV4.String(), entry.Port)
		}
	}

	return ""
}

func fallbackIPs(ips []net.IP) []net.IP {
	if len(ips) == 0 || ips[0] == nil {
		return LocalIPs()
	}
	return ips
}

func LocalIPs() []net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue // interface down
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue // loopback interface
		}

		var addrs []net.Addr
		if addrs, err = iface.Addrs(); err != nil {
			continue
		}
		for _, addr := range addrs {
			switch addr := addr.(type) {
			case *net.IPNet:
				ips = append(ips, addr.IP)
			case *net.IPAddr:
				ips = append(ips, addr.IP)
			}
		}
	}
	return ips
}

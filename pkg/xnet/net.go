package xnet

import (
	"net"
)

// IPNets returns IPv4 networks of all up, non loopback interfaces
func IPNets(ipFilter func(ip net.IP) bool) ([]*net.IPNet, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var nets []*net.IPNet

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, _ := iface.Addrs() // range on nil slice is OK
		for _, addr := range addrs {
			switch v := addr.(type) {
			case *net.IPNet:
				ip := v.IP.To4()
				if ip == nil {
					continue
				}
				if ipFilter != nil && !ipFilter(ip) {
					continue
				}
				nets = append(nets, v)
			}
		}
	}

	return nets, nil
}

// LocalIPs - IPv4 addresses for mDNS answers and self-signed certificate
func LocalIPs() []net.IP {
	nets, err := IPNets(nil)
	if err != nil {
		return nil
	}

	ips := make([]net.IP, 0, len(nets))
	for _, n := range nets {
		ips = append(ips, n.IP.To4())
	}
	return ips
}

package engine

import (
	"net"
	"strings"
)

// cgnat covers carrier-grade NAT and overlay networks such as WARP and
// Tailscale. Direct paths from there rarely work.
var cgnat = mustCIDR("100.64.0.0/10")

var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp"}

type iface struct {
	Name  string
	Flags net.Flags
	IPs   []net.IP
}

func mustCIDR(s string) *net.IPNet {
	_, block, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return block
}

// ShouldForceRelay reports whether this host looks like it sits behind a
// VPN or CGNAT, where only TURN relays get through.
func ShouldForceRelay() bool {
	list, err := net.Interfaces()
	if err != nil {
		return false
	}
	ifaces := make([]iface, 0, len(list))
	for _, it := range list {
		info := iface{Name: it.Name, Flags: it.Flags}
		addrs, err := it.Addrs()
		if err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					info.IPs = append(info.IPs, v.IP)
				case *net.IPAddr:
					info.IPs = append(info.IPs, v.IP)
				}
			}
		}
		ifaces = append(ifaces, info)
	}
	return relayHint(ifaces)
}

func relayHint(ifaces []iface) bool {
	for _, it := range ifaces {
		if it.Flags&net.FlagUp == 0 || it.Flags&net.FlagLoopback != 0 {
			continue
		}
		name := strings.ToLower(it.Name)
		for _, t := range tunnelNames {
			if strings.Contains(name, t) {
				return true
			}
		}
		for _, ip := range it.IPs {
			if cgnat.Contains(ip) {
				return true
			}
		}
	}
	return false
}

package call

import (
	"net"
	"strings"
)

var cgnatBlock = mustCIDR("100.64.0.0/10")

var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// ShouldForceRelay reports whether this host looks like it sits behind a VPN
// or carrier-grade NAT, where direct candidates rarely connect.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			addrs = nil
		}
		if looksTunneled(iface.Name, addrs) {
			return true
		}
	}
	return false
}

func looksTunneled(name string, addrs []net.Addr) bool {
	name = strings.ToLower(name)
	for _, n := range tunnelNames {
		if strings.Contains(name, n) {
			return true
		}
	}
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil && cgnatBlock.Contains(ip) {
			return true
		}
	}
	return false
}

func mustCIDR(s string) *net.IPNet {
	_, block, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return block
}

package util

import (
	"fmt"
	"net"
	"sort"
)

// DiscoverURLs returns a loopback URL plus one URL per active LAN
// interface, for the startup banner. When bound to a single address only
// that address is reported.
func DiscoverURLs(bind string, port int) []string {
	seen := map[string]struct{}{}
	urls := make([]string, 0, 8)
	appendURL := func(host string) {
		u := fmt.Sprintf("http://%s:%d/", host, port)
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	appendURL("127.0.0.1")
	appendURL("localhost")

	if bind != "" && bind != "0.0.0.0" && bind != "::" {
		appendURL(bind)
		sort.Strings(urls)
		return urls
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		sort.Strings(urls)
		return urls
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ip, _, err := net.ParseCIDR(a.String())
			if err != nil {
				continue
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				appendURL(v4.String())
			}
		}
	}
	sort.Strings(urls)
	return urls
}

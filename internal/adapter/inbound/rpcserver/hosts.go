package rpcserver

import (
	"net"
	"net/http"
	"strings"
)

// allowedHosts builds the Host header allow-list for the given bound ports.
// Every port contributes "localhost:<port>" and "127.0.0.1:<port>". Browsers
// resolving an attacker-controlled name to 127.0.0.1 still send the
// attacker's Host header, so anything outside this list is rejected.
func allowedHosts(ports []string) []string {
	hosts := make([]string, 0, 2*len(ports))
	for _, port := range ports {
		hosts = append(hosts, "localhost:"+port, "127.0.0.1:"+port)
	}
	return hosts
}

// boundPorts extracts the port of each listener address.
func boundPorts(addrs []net.Addr) []string {
	ports := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if _, port, err := net.SplitHostPort(addr.String()); err == nil {
			ports = append(ports, port)
		}
	}
	return ports
}

// HostFilter validates the Host header against an allow-list. This defends
// against DNS rebinding: a browser rebinding a public name to 127.0.0.1
// carries the public name in Host, which will not be on the list.
func HostFilter(hosts []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		allowed[strings.ToLower(h)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := allowed[strings.ToLower(r.Host)]; !ok {
				http.Error(w, "Forbidden: host not allowed", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

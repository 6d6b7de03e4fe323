package websocket

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
)

var defaultPorts = map[string]string{"http": "80", "https": "443"}

// NewCheckOrigin returns the upgrader's origin check. Requests without an Origin
// header come from non-browser clients and are accepted. With an empty appURL
// every origin is accepted; otherwise only the origin of appURL is, plus loopback
// origins when isDevelopment is set.
func NewCheckOrigin(appURL string, isDevelopment bool) func(r *http.Request) bool {
	allowed := normalizeOrigin(appURL)

	return func(r *http.Request) bool {
		raw := r.Header.Get("Origin")
		if raw == "" || allowed == "" {
			return true
		}

		origin := normalizeOrigin(raw)
		if origin != "" && origin == allowed {
			return true
		}
		if isDevelopment && isLoopbackOrigin(raw) {
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", raw, "remote_addr", r.RemoteAddr)
		return false
	}
}

// normalizeOrigin reduces a URL to scheme://host[:port] in lower case, dropping
// the scheme's default port. It returns "" for values without a host.
func normalizeOrigin(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == defaultPorts[scheme] {
		port = ""
	}

	if port == "" {
		if strings.Contains(host, ":") {
			return scheme + "://[" + host + "]"
		}
		return scheme + "://" + host
	}
	return scheme + "://" + net.JoinHostPort(host, port)
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

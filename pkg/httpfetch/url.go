// Package httpfetch implements the URL grammar and wire protocol spec
// §4.3/§6 specify literally: a cooperative HTTP(S) client that never
// reads more than one caller-supplied chunk per call, built directly on
// net.Conn/tls.Conn rather than net/http, whose synchronous Client.Do
// cannot be interrupted after a bounded number of bytes.
package httpfetch

import (
	"fmt"
	"strconv"
	"strings"
)

// URL is the parsed form of "scheme://host[:port][path]" (spec §4.3).
type URL struct {
	Scheme string
	Host   string
	Port   int
	Path   string
}

// ParseURL implements spec §4.3's grammar exactly: scheme must be http
// or https; port defaults to 80/443; path defaults to "/". Any other
// scheme, or an empty host, is BadUrl territory — callers translate the
// returned error into that error kind.
func ParseURL(raw string) (URL, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return URL{}, fmt.Errorf("missing scheme separator")
	}
	scheme = strings.ToLower(scheme)

	var defaultPort int
	switch scheme {
	case "http":
		defaultPort = 80
	case "https":
		defaultPort = 443
	default:
		return URL{}, fmt.Errorf("unsupported scheme %q", scheme)
	}

	hostPort := rest
	path := "/"
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		hostPort = rest[:idx]
		path = rest[idx:]
	}
	if hostPort == "" {
		return URL{}, fmt.Errorf("empty host")
	}

	host := hostPort
	port := defaultPort
	if idx := strings.LastIndexByte(hostPort, ':'); idx >= 0 {
		host = hostPort[:idx]
		p, err := strconv.Atoi(hostPort[idx+1:])
		if err != nil || p <= 0 || p > 65535 {
			return URL{}, fmt.Errorf("invalid port in %q", hostPort)
		}
		port = p
	}
	if host == "" {
		return URL{}, fmt.Errorf("empty host")
	}

	return URL{Scheme: scheme, Host: host, Port: port, Path: path}, nil
}

// UseTLS reports whether the scheme requires TLS.
func (u URL) UseTLS() bool {
	return u.Scheme == "https"
}

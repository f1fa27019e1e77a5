// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// SelfURL returns a URL clients can use to reach a server bound to
// host and port. Wildcard bind addresses are replaced by the loopback
// address and the port is left out when it is the scheme default.
func SelfURL(scheme, host string, port int) string {
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "127.0.0.1"
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	hostport := host
	if strings.Contains(host, ":") {
		hostport = "[" + host + "]"
	}
	if !defaultPort(scheme, port) {
		hostport = net.JoinHostPort(host, strconv.Itoa(port))
	}

	u := url.URL{
		Scheme: scheme,
		Host:   hostport,
	}
	return u.String()
}

func defaultPort(scheme string, port int) bool {
	return (scheme == "http" && port == 80) || (scheme == "https" && port == 443)
}

// URL returns the URL the server is reachable at. It is empty until
// [Server.Run] has bound a listener, unless a self URL is configured.
func (s *Server) URL() string {
	s.urlMu.RLock()
	defer s.urlMu.RUnlock()
	if s.cfg.SelfURL != "" {
		return strings.TrimSuffix(s.cfg.SelfURL, "/")
	}
	return s.url
}

func (s *Server) setURL(u string) {
	s.urlMu.Lock()
	defer s.urlMu.Unlock()
	s.url = u
}

/*
Copyright 2024 NSL Labs

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package services

import (
	"fmt"
	"net"

	"github.com/gravitational/trace"

	"github.com/nsl-labs/router/lib/defaults"
)

const (
	// RouteTypeIP is a route whose endpoint is an IP literal.
	RouteTypeIP = "ip"
	// RouteTypeDomain is a route whose endpoint is a hostname.
	RouteTypeDomain = "domain"

	// SchemeHTTP and SchemeHTTPS are the allowed route schemes.
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// HealthCheck describes how an edge proxy may probe a route. The
// control plane stores it verbatim and never probes anything itself.
type HealthCheck struct {
	Path string `json:"path"`
	Host string `json:"host,omitempty"`
}

// Route is one reachable endpoint within a lease. The wire shape is
// flat JSON for backward compatibility; Type drives which endpoint
// fields are meaningful.
type Route struct {
	// IP is the endpoint address, a valid IPv4 or IPv6 literal.
	IP string `json:"ip"`
	// Port is the endpoint port, [1, 65535].
	Port int `json:"port"`
	// Priority orders routes, lower is preferred.
	Priority int `json:"priority"`
	// Scheme is http or https, default https.
	Scheme string `json:"scheme,omitempty"`
	// Source tags the agent that advertised this route. Routes sharing
	// a (user, source) pair form one replaceable lease.
	Source string `json:"source"`
	// HealthCheck is optional probe metadata, stored verbatim.
	HealthCheck *HealthCheck `json:"healthCheck,omitempty"`
	// Type is ip (default) or domain.
	Type string `json:"type,omitempty"`
	// Domain is the endpoint hostname, required when Type is domain.
	Domain string `json:"domain,omitempty"`
}

// CheckAndSetDefaults validates the route and fills in defaults.
func (r *Route) CheckAndSetDefaults() error {
	if r.Source == "" {
		return trace.BadParameter("route is missing source")
	}
	if r.IP == "" {
		return trace.BadParameter("route is missing ip")
	}
	if net.ParseIP(r.IP) == nil {
		return trace.BadParameter("route has invalid ip %q", r.IP)
	}
	if r.Port < defaults.MinPort || r.Port > defaults.MaxPort {
		return trace.BadParameter("route has invalid port %v", r.Port)
	}
	if r.Scheme == "" {
		r.Scheme = SchemeHTTPS
	}
	if r.Scheme != SchemeHTTP && r.Scheme != SchemeHTTPS {
		return trace.BadParameter("route has invalid scheme %q", r.Scheme)
	}
	if r.Type == "" {
		r.Type = RouteTypeIP
	}
	switch r.Type {
	case RouteTypeIP:
	case RouteTypeDomain:
		if r.Domain == "" {
			return trace.BadParameter("domain route is missing domain")
		}
	default:
		return trace.BadParameter("route has invalid type %q", r.Type)
	}
	return nil
}

// LeaseKey is the composite identity of a route within one lease. Two
// routes with the same key are duplicates and the later one wins.
func (r *Route) LeaseKey() string {
	return fmt.Sprintf("%v|%v|%v|%v|%v", r.IP, r.Port, r.Scheme, r.Type, r.Domain)
}

// DedupRoutes collapses duplicate routes by lease key, keeping the
// last occurrence of each key at its first position.
func DedupRoutes(routes []Route) []Route {
	out := make([]Route, 0, len(routes))
	index := make(map[string]int, len(routes))
	for _, route := range routes {
		key := route.LeaseKey()
		if i, ok := index[key]; ok {
			out[i] = route
			continue
		}
		index[key] = len(out)
		out = append(out, route)
	}
	return out
}

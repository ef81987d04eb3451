// Package origin implements the browser Origin checks applied to HTTP
// requests and WebSocket upgrades.
package origin

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Policy decides which browser origins may reach the matchmaker.
//
// With an empty allow-list only same-host origins are accepted. Entries are
// normalized on construction; "*" accepts every origin.
type Policy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// NewPolicy builds a Policy from configured origins. Entries that do not
// normalize are ignored; config validation rejects them earlier.
func NewPolicy(allowedOrigins []string) *Policy {
	p := &Policy{allowed: make(map[string]struct{})}
	for _, raw := range allowedOrigins {
		if strings.TrimSpace(raw) == "*" {
			p.allowAll = true
			continue
		}
		if normalized, _, ok := NormalizeHeader(raw); ok {
			p.allowed[normalized] = struct{}{}
		}
	}
	return p
}

// AllowsAny reports whether the policy accepts every origin.
func (p *Policy) AllowsAny() bool { return p.allowAll }

// Check evaluates r's Origin header. Requests without one (non-browser
// clients) are allowed and return an empty origin.
func (p *Policy) Check(r *http.Request) (normalizedOrigin string, ok bool) {
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if header == "" {
		return "", true
	}
	normalized, host, ok := NormalizeHeader(header)
	if !ok {
		return "", false
	}
	return normalized, p.allows(normalized, host, r.Host)
}

func (p *Policy) allows(normalizedOrigin, originHost, requestHost string) bool {
	if p.allowAll {
		return true
	}
	if len(p.allowed) > 0 {
		_, ok := p.allowed[normalizedOrigin]
		return ok
	}

	// Same host:port only. The scheme is not compared since TLS may be
	// terminated by a proxy in front of the matchmaker.
	scheme, _, found := strings.Cut(normalizedOrigin, "://")
	if !found {
		return false
	}
	reqHost, ok := normalizeAuthority(strings.TrimSpace(requestHost), scheme)
	return ok && reqHost == originHost
}

// NormalizeHeader validates a browser Origin header and returns
// scheme://host[:port] plus the host[:port] part. Default ports are dropped
// and hostnames are lower-cased. The opaque origin "null" is returned as-is.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	switch trimmed {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeAuthority(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

func normalizeAuthority(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(authority)
	if !ok {
		return "", false
	}
	hostname = strings.ToLower(hostname)
	if hostname == "" || strings.Contains(hostname, "%") {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	out := hostname
	if strings.Contains(hostname, ":") {
		out = "[" + hostname + "]"
	}
	if port != 0 {
		out += ":" + strconv.FormatUint(port, 10)
	}
	return out, true
}

// splitHostPort splits host[:port]. IPv6 literals must be bracketed and are
// returned without brackets.
func splitHostPort(authority string) (hostname, port string, ok bool) {
	if rest, found := strings.CutPrefix(authority, "["); found {
		hostname, rest, found = strings.Cut(rest, "]")
		if !found {
			return "", "", false
		}
		if rest == "" {
			return hostname, "", true
		}
		port, found = strings.CutPrefix(rest, ":")
		if !found || port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	switch strings.Count(authority, ":") {
	case 0:
		return authority, "", authority != ""
	case 1:
		hostname, port, _ = strings.Cut(authority, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		return "", "", false
	}
}

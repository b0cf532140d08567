// Package exemption decides whether tamper checks should be skipped for a
// page or component where dynamic content is expected.
package exemption

import (
	"net/url"
	"regexp"
	"strings"
)

// Config lists the exemption rules.
type Config struct {
	TrustedOrigins   []string
	Keywords         []string
	ComponentMarkers []string
}

// Context is what the policy looks at.
type Context struct {
	URL     string
	Path    string
	Title   string
	Markers []string // element ids and data-* attribute names present on the page
}

// Policy is a compiled exemption table.
type Policy struct {
	origins map[string]struct{}
	keyword *regexp.Regexp // nil when no keywords are configured
	markers map[string]struct{}
}

// New compiles cfg. Origins that do not parse are ignored.
func New(cfg Config) *Policy {
	p := &Policy{
		origins: make(map[string]struct{}, len(cfg.TrustedOrigins)),
		markers: make(map[string]struct{}, len(cfg.ComponentMarkers)),
	}
	for _, o := range cfg.TrustedOrigins {
		if norm, ok := origin(o); ok {
			p.origins[norm] = struct{}{}
		}
	}
	var quoted []string
	for _, k := range cfg.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			quoted = append(quoted, regexp.QuoteMeta(k))
		}
	}
	if len(quoted) > 0 {
		p.keyword = regexp.MustCompile(`(?i)(` + strings.Join(quoted, "|") + `)`)
	}
	for _, m := range cfg.ComponentMarkers {
		p.markers[strings.ToLower(m)] = struct{}{}
	}
	return p
}

// IsExempt reports whether checks should be skipped for c. Any malformed
// input resolves to not exempt.
func (p *Policy) IsExempt(c Context) bool {
	if p == nil {
		return false
	}
	if c.URL != "" && len(p.origins) > 0 {
		if o, ok := origin(c.URL); ok {
			if _, hit := p.origins[o]; hit {
				return true
			}
		}
	}
	if p.keyword != nil && (p.keyword.MatchString(c.Path) || p.keyword.MatchString(c.Title)) {
		return true
	}
	return p.HasMarker(c.Markers)
}

// HasMarker reports whether any of markers is a configured component marker.
func (p *Policy) HasMarker(markers []string) bool {
	if p == nil || len(p.markers) == 0 {
		return false
	}
	for _, m := range markers {
		if _, hit := p.markers[strings.ToLower(m)]; hit {
			return true
		}
	}
	return false
}

// origin normalises raw to scheme://host[:port], dropping default ports.
func origin(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host, true
}

package pipeline

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/hakim/scriptwatch/internal/models"
)

// ScopeConfig defines which sites a batch may visit.
// An empty ScopeConfig (no rules) allows any target.
type ScopeConfig struct {
	// AllowedDomains is a list of host patterns the target must match.
	// Wildcard prefix ("*.example.com") matches any single-label subdomain.
	// Exact entry ("example.com") matches that host and its www. form.
	AllowedDomains []string

	// AllowedCIDRs is a list of CIDR ranges an IP-literal host must fall within.
	AllowedCIDRs []string
}

// Empty reports whether the scope allows everything.
func (s *ScopeConfig) Empty() bool {
	return s == nil || (len(s.AllowedDomains) == 0 && len(s.AllowedCIDRs) == 0)
}

// ValidateURL checks whether a target URL is within scope.
// Returns nil if allowed, error if out of scope.
func (s *ScopeConfig) ValidateURL(rawURL string) error {
	if s.Empty() {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("scope: %q has no host", rawURL)
	}
	host := strings.ToLower(u.Hostname())

	if ip := net.ParseIP(host); ip != nil {
		for _, cidr := range s.AllowedCIDRs {
			_, network, err := net.ParseCIDR(cidr)
			if err != nil {
				continue
			}
			if network.Contains(ip) {
				return nil
			}
		}
		return fmt.Errorf("IP %q is outside allowed CIDR scope (%s)",
			host, strings.Join(s.AllowedCIDRs, ", "))
	}

	for _, pattern := range s.AllowedDomains {
		if domainMatches(host, pattern) {
			return nil
		}
	}
	return fmt.Errorf("target %q is outside allowed scope (domains: %s)",
		host, strings.Join(s.AllowedDomains, ", "))
}

// FilterJobs splits jobs into those inside and outside the scope.
func (s *ScopeConfig) FilterJobs(jobs []models.ScanJob) (in, out []models.ScanJob) {
	for _, j := range jobs {
		if err := s.ValidateURL(j.TargetURL); err != nil {
			out = append(out, j)
			continue
		}
		in = append(in, j)
	}
	return in, out
}

// domainMatches returns true when host satisfies the scope pattern.
//
//   - "*.example.com" matches "foo.example.com" but not "example.com" or
//     "foo.bar.example.com".
//   - "example.com" matches "example.com" and "www.example.com".
func domainMatches(host, pattern string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))

	if !strings.HasPrefix(pattern, "*.") {
		return host == pattern || host == "www."+pattern
	}

	suffix := pattern[2:]
	if !strings.HasSuffix(host, "."+suffix) {
		return false
	}
	label := host[:len(host)-len(suffix)-1]
	return len(label) > 0 && !strings.Contains(label, ".")
}

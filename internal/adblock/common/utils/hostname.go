package utils

import (
	"net"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/publicsuffix"
)

// registrableCacheSize bounds the memo of host → registrable domain lookups.
const registrableCacheSize = 8192

var registrable, _ = lru.New[string, string](registrableCacheSize)

// CanonicalHost returns a hostname in canonical form:
// - Lowercased
// - Trimmed of surrounding whitespace
// - No trailing dot
func CanonicalHost(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".")
	}
	return name
}

// RegistrableDomain returns the eTLD+1 of host, or host itself when the public
// suffix list cannot produce one (IP literals, single labels, bare suffixes).
// Results are memoized.
func RegistrableDomain(host string) string {
	host = CanonicalHost(host)
	if host == "" {
		return ""
	}
	if v, ok := registrable.Get(host); ok {
		return v
	}
	if net.ParseIP(host) != nil {
		return host
	}
	apex, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		apex = host
	}
	registrable.Add(host, apex)
	return apex
}

// IsThirdParty reports whether host and sourceHost belong to different
// registrable domains.
func IsThirdParty(host, sourceHost string) bool {
	return RegistrableDomain(host) != RegistrableDomain(sourceHost)
}

// MatchesDomain reports whether host equals pattern or is a subdomain of it.
// A pattern ending in ".*" is an entity: it matches any public suffix, so
// "google.*" matches "www.google.co.uk".
func MatchesDomain(host, pattern string) bool {
	if host == "" || pattern == "" {
		return false
	}
	if base, ok := strings.CutSuffix(pattern, ".*"); ok {
		return isSubdomainOrEqual(StripPublicSuffix(host), base)
	}
	return isSubdomainOrEqual(host, pattern)
}

func isSubdomainOrEqual(host, parent string) bool {
	if host == parent {
		return true
	}
	return len(host) > len(parent) &&
		strings.HasSuffix(host, parent) &&
		host[len(host)-len(parent)-1] == '.'
}

// StripPublicSuffix removes the public suffix of host, "www.google.co.uk"
// becoming "www.google". A host that is only a suffix is returned unchanged.
func StripPublicSuffix(host string) string {
	suffix, _ := publicsuffix.PublicSuffix(host)
	if suffix == "" || suffix == host {
		return host
	}
	return strings.TrimSuffix(host, "."+suffix)
}

// HostSuffixes returns host and each parent domain, most specific first:
// "a.b.com" yields ["a.b.com", "b.com", "com"].
func HostSuffixes(host string) []string {
	if host == "" {
		return nil
	}
	out := make([]string, 0, strings.Count(host, ".")+1)
	for {
		out = append(out, host)
		i := strings.IndexByte(host, '.')
		if i < 0 || i == len(host)-1 {
			return out
		}
		host = host[i+1:]
	}
}

// EntityKeys returns the "name.*" keys that an entity-scoped rule would be
// stored under for host: "www.google.co.uk" yields ["www.google.*", "google.*"].
func EntityKeys(host string) []string {
	base := StripPublicSuffix(host)
	if base == host {
		return nil
	}
	suffixes := HostSuffixes(base)
	out := make([]string, len(suffixes))
	for i, s := range suffixes {
		out[i] = s + ".*"
	}
	return out
}

// ReverseString reverses s byte-wise. Hostnames are ASCII (punycode), which
// keeps reversed keys aligned with label boundaries.
func ReverseString(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		b[len(s)-1-i] = s[i]
	}
	return string(b)
}

package utils

import "strings"

// ASCIILower lowercases ASCII letters only, so byte offsets in the result line
// up with the input.
func ASCIILower(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 'A' && c <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if b[j] >= 'A' && b[j] <= 'Z' {
					b[j] += 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return s
}

// HostBounds returns the byte range of the host inside an absolute URL.
// Userinfo and port are excluded, IPv6 literals keep their brackets. A URL
// without "://" yields an empty range.
func HostBounds(u string) (start, end int) {
	i := strings.Index(u, "://")
	if i < 0 {
		return 0, 0
	}
	start = i + 3
	end = start
	for end < len(u) && u[end] != '/' && u[end] != '?' && u[end] != '#' {
		end++
	}
	if at := strings.LastIndexByte(u[start:end], '@'); at >= 0 {
		start += at + 1
	}
	if start < end && u[start] == '[' {
		if rb := strings.IndexByte(u[start:end], ']'); rb >= 0 {
			return start, start + rb + 1
		}
		return start, end
	}
	if c := strings.LastIndexByte(u[start:end], ':'); c >= 0 {
		end = start + c
	}
	return start, end
}

// URLHost extracts the canonical host of rawURL, or "" when it has none.
func URLHost(rawURL string) string {
	u := ASCIILower(strings.TrimSpace(rawURL))
	start, end := HostBounds(u)
	host := strings.TrimSuffix(strings.TrimPrefix(u[start:end], "["), "]")
	return CanonicalHost(host)
}

// Scheme returns the lowercased scheme of rawURL including the trailing ':',
// or "" when rawURL does not start with one.
func Scheme(rawURL string) string {
	for i := 0; i < len(rawURL); i++ {
		c := rawURL[i]
		switch {
		case c == ':':
			if i == 0 {
				return ""
			}
			return ASCIILower(rawURL[:i+1])
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return ""
		}
	}
	return ""
}

package ruleset

import "strings"

// isSeparator reports whether c can stand in for the '^' placeholder: anything
// but a letter, a digit or one of "_-.%".
func isSeparator(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return false
	case c == '_', c == '-', c == '.', c == '%':
		return false
	}
	return true
}

// matchGlob reports whether p matches a prefix of s, or all of s when full is
// set. '*' matches any run of characters and '^' matches one separator or
// the end of s.
func matchGlob(p, s string, full bool) bool {
	pi, si := 0, 0
	starP, starS := -1, 0
	for {
		if pi == len(p) {
			if !full || si == len(s) {
				return true
			}
		} else {
			c := p[pi]
			switch {
			case c == '*':
				starP, starS = pi, si
				pi++
				continue
			case c == '^' && si == len(s):
				pi++
				continue
			case si < len(s) && (c == s[si] || c == '^' && isSeparator(s[si])):
				pi++
				si++
				continue
			}
		}
		if starP < 0 || starS >= len(s) {
			return false
		}
		starS++
		pi, si = starP+1, starS
	}
}

// matchAnywhere reports whether p matches s starting at any offset.
func matchAnywhere(p, s string, full bool) bool {
	if p == "" {
		return true
	}
	first := p[0]
	for i := 0; i <= len(s); i++ {
		if first != '*' && first != '^' {
			j := strings.IndexByte(s[i:], first)
			if j < 0 {
				return false
			}
			i += j
		}
		if matchGlob(p, s[i:], full) {
			return true
		}
	}
	return false
}

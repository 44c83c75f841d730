package parsers

import (
	"net/netip"
	"strings"
	"unicode"

	"github.com/AdguardTeam/golibs/errors"
)

const (
	// errUnsupported marks syntactically recognizable rules the engine does
	// not implement (procedural cosmetics, redirects, CSP ...).
	errUnsupported errors.Error = "unsupported rule"

	// errMalformed marks lines that cannot be parsed at all.
	errMalformed errors.Error = "malformed rule"
)

// lineKind is the outcome of classifying one input line.
type lineKind uint8

const (
	lineSkip lineKind = iota
	lineNetwork
	lineCosmetic
	lineHosts
)

// cosmeticMarkers lists every cosmetic separator, longest first so that
// "#@?#" wins over "#@#" when scanning.
var cosmeticMarkers = []string{"#@?#", "#@$#", "#@%#", "#@#", "#?#", "#$#", "#%#", "##"}

// classifyLine decides how a trimmed line should be parsed. For cosmetic lines
// it also returns the separator position and marker.
func classifyLine(line string) (kind lineKind, sepIdx int, marker string) {
	if line == "" {
		return lineSkip, -1, ""
	}
	switch line[0] {
	case '!', '[':
		return lineSkip, -1, ""
	}
	if strings.HasPrefix(line, "# ") || line == "#" {
		return lineSkip, -1, ""
	}
	if idx, m := findCosmeticMarker(line); idx >= 0 {
		return lineCosmetic, idx, m
	}
	if line[0] == '#' {
		// hosts-style comment
		return lineSkip, -1, ""
	}
	if isHostsLine(line) {
		return lineHosts, -1, ""
	}
	return lineNetwork, -1, ""
}

// findCosmeticMarker returns the earliest cosmetic separator in line.
func findCosmeticMarker(line string) (int, string) {
	for i := strings.IndexByte(line, '#'); i >= 0 && i < len(line); {
		for _, m := range cosmeticMarkers {
			if strings.HasPrefix(line[i:], m) {
				return i, m
			}
		}
		next := strings.IndexByte(line[i+1:], '#')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return -1, ""
}

// isHostsLine reports whether the first field of line is an IP address
// followed by at least one more field.
func isHostsLine(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return false
	}
	_, err := netip.ParseAddr(fields[0])
	return err == nil
}

// stripInlineComment removes a trailing " #..." comment from a hosts line.
func stripInlineComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return strings.TrimSpace(line[:i])
	}
	return line
}

// isValidHostname enforces the usual hostname limits:
//   - The total length must not exceed 253 characters.
//   - The name must contain at least two labels.
//   - Each label must be between 1 and 63 characters long.
//   - Labels contain only letters, digits, '-' and '_'.
func isValidHostname(name string) bool {
	if len(name) == 0 || len(name) > 253 {
		return false
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		for _, r := range label {
			if !isAlphaNumeric(r) && r != '-' && r != '_' {
				return false
			}
		}
	}
	return true
}

// splitDomainList splits a domain list on sep into included and excluded
// (leading '~') domains, lowercased. Empty entries are an error.
func splitDomainList(s string, sep byte) (include, exclude []string, err error) {
	for _, part := range strings.Split(s, string(sep)) {
		d := strings.ToLower(strings.TrimSpace(part))
		negated := strings.HasPrefix(d, "~")
		if negated {
			d = strings.TrimSpace(d[1:])
		}
		if d == "" {
			return nil, nil, errors.Annotate(errMalformed, "empty domain in %q: %w", s)
		}
		if strings.HasPrefix(d, "/") {
			return nil, nil, errors.Annotate(errUnsupported, "regex domain %q: %w", d)
		}
		if negated {
			exclude = append(exclude, d)
		} else {
			include = append(include, d)
		}
	}
	return include, exclude, nil
}

// balanced reports whether (), [] and quotes are balanced in s.
func balanced(s string) bool {
	var stack []rune
	var quote rune
	for _, r := range s {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '"', '\'':
			quote = r
		case '(', '[':
			stack = append(stack, r)
		case ')', ']':
			if len(stack) == 0 {
				return false
			}
			open := stack[len(stack)-1]
			if (r == ')' && open != '(') || (r == ']' && open != '[') {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0 && quote == 0
}

func isAlphaNumeric(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

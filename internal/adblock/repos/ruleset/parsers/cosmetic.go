package parsers

import (
	"strings"

	"github.com/AdguardTeam/golibs/errors"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// proceduralMarkers identify extended selectors that need a procedural
// engine in the page; plain CSS hiding cannot express them.
var proceduralMarkers = []string{
	":has-text(", ":-abp-", ":xpath(", ":matches-css", ":matches-attr(", ":matches-path(",
	":upward(", ":remove(", ":style(", ":watch-attr(", ":min-text-length(", ":others(",
	":matches-media(", ":remove-attr(", ":remove-class(", ":contains(",
}

// ParseCosmeticRule parses a cosmetic filter whose separator marker starts at
// sepIdx.
func ParseCosmeticRule(line string, sepIdx int, marker, source string) (domain.CosmeticRule, error) {
	r := domain.CosmeticRule{Raw: line, Source: source}

	switch marker {
	case "##":
	case "#@#":
		r.Exception = true
	default:
		return domain.CosmeticRule{}, errors.Annotate(errUnsupported, "cosmetic marker %q: %w", marker)
	}

	body := strings.TrimSpace(line[sepIdx+len(marker):])
	if body == "" {
		return domain.CosmeticRule{}, errors.Annotate(errMalformed, "empty cosmetic body: %w")
	}

	if head := strings.TrimSpace(line[:sepIdx]); head != "" {
		inc, exc, err := splitDomainList(head, ',')
		if err != nil {
			return domain.CosmeticRule{}, err
		}
		r.Domains, r.ExcludedDomains = inc, exc
	}

	switch {
	case strings.HasPrefix(body, "+js(") && strings.HasSuffix(body, ")"):
		r.Kind = domain.CosmeticScriptlet
		r.Body = CanonicalScriptlet(body[len("+js(") : len(body)-1])
		if r.Body == "" && !r.Exception {
			return domain.CosmeticRule{}, errors.Annotate(errMalformed, "empty scriptlet: %w")
		}
		return r, nil
	case strings.HasPrefix(body, "^"):
		return domain.CosmeticRule{}, errors.Annotate(errUnsupported, "html filter: %w")
	case strings.HasPrefix(body, "+"):
		return domain.CosmeticRule{}, errors.Annotate(errUnsupported, "cosmetic action %q: %w", body)
	}

	for _, m := range proceduralMarkers {
		if strings.Contains(body, m) {
			return domain.CosmeticRule{}, errors.Annotate(errUnsupported, "procedural selector: %w")
		}
	}
	if !balanced(body) || strings.ContainsAny(body, "{}") {
		return domain.CosmeticRule{}, errors.Annotate(errMalformed, "selector %q: %w", body)
	}

	r.Kind = domain.CosmeticHide
	r.Body = body
	return r, nil
}

// CanonicalScriptlet normalizes a scriptlet call so that rules and
// exceptions compare equal: arguments are trimmed and re-joined with ", ",
// and a trailing ".js" on the name is dropped.
func CanonicalScriptlet(call string) string {
	args := SplitScriptletArgs(call)
	if len(args) == 0 {
		return ""
	}
	args[0] = strings.TrimSuffix(args[0], ".js")
	return strings.Join(args, ", ")
}

// SplitScriptletArgs splits a scriptlet call on unescaped commas outside
// quotes, trimming each argument and removing surrounding quotes.
func SplitScriptletArgs(call string) []string {
	call = strings.TrimSpace(call)
	if call == "" {
		return nil
	}

	var (
		args  []string
		cur   strings.Builder
		quote byte
	)
	flush := func() {
		a := strings.TrimSpace(cur.String())
		if len(a) >= 2 && (a[0] == '"' || a[0] == '\'') && a[len(a)-1] == a[0] {
			a = a[1 : len(a)-1]
		}
		args = append(args, a)
		cur.Reset()
	}
	for i := 0; i < len(call); i++ {
		c := call[i]
		switch {
		case c == '\\' && i+1 < len(call) && call[i+1] == ',':
			cur.WriteByte(',')
			i++
		case quote != 0:
			if c == quote {
				quote = 0
			}
			cur.WriteByte(c)
		case c == '"' || c == '\'':
			if strings.TrimSpace(cur.String()) == "" {
				quote = c
			}
			cur.WriteByte(c)
		case c == ',':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return args
}

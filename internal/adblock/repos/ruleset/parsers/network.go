package parsers

import (
	"slices"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/dlclark/regexp2"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// parsedNetwork carries parse-time only facts alongside the rule.
type parsedNetwork struct {
	rule domain.NetworkRule
	// identity is the rule text with its options in canonical order and
	// without "badfilter", used to match $badfilter rules to their targets.
	identity  string
	badfilter bool
}

// unsupportedOptions are recognized modifiers whose behavior the engine does
// not implement. Rules carrying them are dropped rather than applied with
// different semantics.
var unsupportedOptions = map[string]struct{}{
	"popup": {}, "popunder": {}, "redirect": {}, "redirect-rule": {}, "removeparam": {},
	"queryprune": {}, "csp": {}, "rewrite": {}, "header": {}, "permissions": {},
	"denyallow": {}, "to": {}, "method": {}, "replace": {}, "urltransform": {},
	"specifichide": {}, "shide": {}, "inline-script": {}, "inline-font": {},
	"cname": {}, "empty": {}, "mp4": {}, "webrtc": {}, "genericblock": {},
	"content": {}, "jsinject": {}, "urlblock": {}, "stealth": {}, "cookie": {},
	"strict1p": {}, "strict3p": {}, "ipaddress": {}, "uritransform": {},
}

// ParseNetworkRule parses one ABP/uBO network filter line.
func ParseNetworkRule(line, source string) (domain.NetworkRule, error) {
	p, err := parseNetworkRule(line, source)
	if err != nil {
		return domain.NetworkRule{}, err
	}
	return p.rule, nil
}

func parseNetworkRule(line, source string) (p parsedNetwork, err error) {
	r := domain.NetworkRule{Raw: line, Source: source, Party: domain.PartyAny}

	s := line
	if rest, ok := strings.CutPrefix(s, "@@"); ok {
		r.Exception = true
		s = rest
	}

	pattern, opts := splitOptions(s)

	var o options
	if opts != "" {
		o, err = parseOptions(opts)
		if err != nil {
			return parsedNetwork{}, err
		}
	}

	if err = o.apply(&r); err != nil {
		return parsedNetwork{}, err
	}

	if err = setPattern(&r, pattern, opts != ""); err != nil {
		return parsedNetwork{}, err
	}

	p.rule = r
	p.badfilter = o.badfilter
	p.identity = identity(line, pattern, o.canonical)
	return p, nil
}

// splitOptions separates the pattern from the "$" options. A "$" inside a
// regex pattern or one not followed by an option name is part of the pattern.
func splitOptions(s string) (pattern, opts string) {
	idx := strings.LastIndexByte(s, '$')
	if idx < 0 {
		return s, ""
	}
	if strings.HasPrefix(s, "/") {
		if end := strings.LastIndexByte(s, '/'); end > idx {
			return s, ""
		}
	}
	rest := s[idx+1:]
	if rest == "" || !(isAlphaNumeric(rune(rest[0])) || rest[0] == '~') {
		return s, ""
	}
	return s[:idx], rest
}

// setPattern parses anchors, wildcards and regex syntax into r.
func setPattern(r *domain.NetworkRule, pattern string, hasOptions bool) error {
	if len(pattern) >= 2 && pattern[0] == '/' && pattern[len(pattern)-1] == '/' {
		expr := pattern[1 : len(pattern)-1]
		if expr == "" {
			return errors.Annotate(errMalformed, "empty regex: %w")
		}
		re := expr
		if !r.MatchCase {
			re = "(?i)" + re
		}
		if _, err := regexp2.Compile(re, regexp2.None); err != nil {
			return errors.Annotate(errMalformed, "regex %q: %w", expr)
		}
		r.Regex = true
		r.Pattern = expr
		return nil
	}

	switch {
	case strings.HasPrefix(pattern, "||"):
		r.HostAnchor = true
		pattern = pattern[2:]
	case strings.HasPrefix(pattern, "|"):
		r.LeftAnchor = true
		pattern = pattern[1:]
	}
	if strings.HasSuffix(pattern, "|") {
		r.RightAnchor = true
		pattern = pattern[:len(pattern)-1]
	}
	if strings.ContainsAny(pattern, " \t") {
		return errors.Annotate(errMalformed, "whitespace in pattern %q: %w", pattern)
	}

	pattern = collapseWildcards(pattern)
	if strings.HasSuffix(pattern, "*") {
		pattern = strings.TrimRight(pattern, "*")
		r.RightAnchor = false
	}
	if strings.HasPrefix(pattern, "*") {
		pattern = strings.TrimLeft(pattern, "*")
		r.LeftAnchor = false
		r.HostAnchor = false
	}
	if pattern == "" && !hasOptions && !r.HostAnchor && !r.LeftAnchor {
		return errors.Annotate(errMalformed, "empty pattern: %w")
	}
	if r.HostAnchor && pattern == "" {
		return errors.Annotate(errMalformed, "empty host anchor: %w")
	}

	if !r.MatchCase {
		pattern = strings.ToLower(pattern)
	}
	r.Pattern = pattern
	return nil
}

func collapseWildcards(s string) string {
	for strings.Contains(s, "**") {
		s = strings.ReplaceAll(s, "**", "*")
	}
	return s
}

// options is the parsed "$" option list before it is folded into a rule.
type options struct {
	canonical []string
	include   domain.TypeMask
	exclude   domain.TypeMask
	domains   []string
	excluded  []string
	party     domain.Party
	pageFlags domain.PageFlag
	matchCase bool
	important bool
	badfilter bool
	all       bool
}

func parseOptions(s string) (o options, err error) {
	for _, raw := range strings.Split(s, ",") {
		opt := strings.ToLower(strings.TrimSpace(raw))
		if opt == "" {
			return options{}, errors.Annotate(errMalformed, "empty option in %q: %w", s)
		}
		if err = o.add(opt); err != nil {
			return options{}, err
		}
		if opt != "badfilter" {
			o.canonical = append(o.canonical, opt)
		}
	}
	return o, nil
}

func (o *options) add(opt string) error {
	name, value, hasValue := strings.Cut(opt, "=")
	negated := strings.HasPrefix(name, "~")
	bare := strings.TrimPrefix(name, "~")

	switch bare {
	case "third-party", "3p":
		o.party = partyOf(negated, domain.PartyThird)
	case "first-party", "1p":
		o.party = partyOf(negated, domain.PartyFirst)
	case "match-case":
		o.matchCase = !negated
	case "important":
		o.important = true
	case "badfilter":
		o.badfilter = true
	case "all":
		o.all = true
	case "elemhide", "ehide":
		o.pageFlags |= domain.PageElemHide
	case "generichide", "ghide":
		o.pageFlags |= domain.PageGenericHide
	case "domain", "from":
		if !hasValue || negated {
			return errors.Annotate(errMalformed, "bad domain option %q: %w", opt)
		}
		inc, exc, err := splitDomainList(value, '|')
		if err != nil {
			return err
		}
		o.domains = append(o.domains, inc...)
		o.excluded = append(o.excluded, exc...)
	default:
		if _, ok := unsupportedOptions[bare]; ok {
			return errors.Annotate(errUnsupported, "option %q: %w", bare)
		}
		t, ok := domain.ParseOptionType(bare)
		if !ok {
			return errors.Annotate(errMalformed, "unknown option %q: %w", bare)
		}
		if t == domain.TypeDocument && !negated {
			o.pageFlags |= domain.PageDocument
		}
		if negated {
			o.exclude |= t.Mask()
		} else {
			o.include |= t.Mask()
		}
	}
	return nil
}

func partyOf(negated bool, p domain.Party) domain.Party {
	if !negated {
		return p
	}
	if p == domain.PartyThird {
		return domain.PartyFirst
	}
	return domain.PartyThird
}

// apply folds options into r and validates their combination.
func (o options) apply(r *domain.NetworkRule) error {
	r.Party = o.party
	r.MatchCase = o.matchCase
	r.Important = o.important
	r.Domains = o.domains
	r.ExcludedDomains = o.excluded

	hidingFlags := o.pageFlags & (domain.PageElemHide | domain.PageGenericHide)
	if hidingFlags != 0 && !r.Exception {
		return errors.Annotate(errMalformed, "elemhide/generichide on a blocking rule: %w")
	}

	switch {
	case o.all:
		r.Types = domain.MaskAll
	case o.include != 0:
		r.Types = o.include
	case hidingFlags != 0:
		// page-level only, never matches a network request
		r.Types = 0
	default:
		r.Types = domain.MaskDefault
	}
	r.Types &^= o.exclude

	if r.Exception {
		r.PageFlags = o.pageFlags
	}
	if r.Types == 0 && r.PageFlags == 0 {
		return errors.Annotate(errMalformed, "rule matches no resource type: %w")
	}
	return nil
}

// identity builds the badfilter comparison key.
func identity(line, pattern string, canonical []string) string {
	prefix := ""
	if strings.HasPrefix(line, "@@") {
		prefix = "@@"
	}
	if len(canonical) == 0 {
		return prefix + pattern
	}
	opts := slices.Clone(canonical)
	slices.Sort(opts)
	return prefix + pattern + "$" + strings.Join(opts, ",")
}

package ruleset

import (
	"fmt"
	"strings"
	"time"

	"github.com/armon/go-radix"
	"github.com/dlclark/regexp2"

	"github.com/haukened/rr-adblock/internal/adblock/common/utils"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// compiledRule is a network rule plus its compiled regex, if any.
type compiledRule struct {
	domain.NetworkRule
	re *regexp2.Regexp
}

func compileRule(r domain.NetworkRule, timeout time.Duration) (*compiledRule, error) {
	cr := &compiledRule{NetworkRule: r}
	if !r.Regex {
		return cr, nil
	}
	expr := r.Pattern
	if !r.MatchCase {
		expr = "(?i)" + expr
	}
	re, err := regexp2.Compile(expr, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("compile regex rule %q: %w", r.Raw, err)
	}
	re.MatchTimeout = timeout
	cr.re = re
	return cr, nil
}

// matches applies every constraint of the rule to q. Page-level lookups pass
// ignoreType because they match the page itself, not a typed request.
func (r *compiledRule) matches(q *query, ignoreType bool) bool {
	if !ignoreType && !r.Types.Has(q.typ) {
		return false
	}
	if r.Party != domain.PartyAny && r.Party != q.party {
		return false
	}
	if !r.sourceAllowed(q.sourceHost) {
		return false
	}
	return r.matchPattern(q)
}

func (r *compiledRule) sourceAllowed(src string) bool {
	if len(r.Domains) > 0 && (src == "" || !matchesAny(src, r.Domains)) {
		return false
	}
	return src == "" || !matchesAny(src, r.ExcludedDomains)
}

func matchesAny(host string, patterns []string) bool {
	for _, p := range patterns {
		if utils.MatchesDomain(host, p) {
			return true
		}
	}
	return false
}

func (r *compiledRule) matchPattern(q *query) bool {
	if r.re != nil {
		// a timeout surfaces as an error and counts as no match
		ok, err := r.re.MatchString(q.raw)
		return err == nil && ok
	}

	s := q.url
	if r.MatchCase {
		s = q.raw
	}
	switch {
	case r.HostAnchor:
		for i := q.hostStart; i < q.hostEnd; i++ {
			if i != q.hostStart && s[i-1] != '.' {
				continue
			}
			if matchGlob(r.Pattern, s[i:], r.RightAnchor) {
				return true
			}
		}
		return false
	case r.LeftAnchor:
		return matchGlob(r.Pattern, s, r.RightAnchor)
	default:
		return matchAnywhere(r.Pattern, s, r.RightAnchor)
	}
}

// networkIndex narrows the rules worth testing for a request. Each rule lives
// in exactly one of three places:
//   - hosts, a radix tree keyed by the reversed hostname of "||host^" rules
//   - tokens, keyed by the most selective literal token of the pattern
//   - generic, everything else (regex rules, wildcard-only patterns)
type networkIndex struct {
	rules   []*compiledRule
	hosts   *radix.Tree
	tokens  map[string][]int
	bloom   BloomFilter
	generic []int
}

func newNetworkIndex(rules []*compiledRule, opts Options) *networkIndex {
	ix := &networkIndex{
		rules:  rules,
		hosts:  radix.New(),
		tokens: make(map[string][]int),
	}
	for i, r := range rules {
		if host, ok := hostKey(r); ok {
			key := utils.ReverseString(host)
			var ids []int
			if v, found := ix.hosts.Get(key); found {
				ids = v.([]int)
			}
			ix.hosts.Insert(key, append(ids, i))
			continue
		}
		if tok, ok := ruleToken(r); ok {
			ix.tokens[tok] = append(ix.tokens[tok], i)
			continue
		}
		ix.generic = append(ix.generic, i)
	}

	if opts.Bloom != nil && len(ix.tokens) > 0 {
		ix.bloom = opts.Bloom.New(uint64(len(ix.tokens)), opts.FPRate)
		for tok := range ix.tokens {
			ix.bloom.Add([]byte(tok))
		}
	}
	return ix
}

// find calls visit for every rule matching q until visit returns true.
func (ix *networkIndex) find(q *query, ignoreType bool, visit func(*compiledRule) bool) {
	stop := false
	check := func(ids []int) {
		for _, id := range ids {
			if r := ix.rules[id]; r.matches(q, ignoreType) && visit(r) {
				stop = true
				return
			}
		}
	}

	if q.host != "" {
		rev := utils.ReverseString(q.host)
		ix.hosts.WalkPath(rev, func(key string, v interface{}) bool {
			// keys must end on a label boundary of the request host
			if len(key) < len(rev) && rev[len(key)] != '.' {
				return false
			}
			check(v.([]int))
			return stop
		})
		if stop {
			return
		}
	}

	for _, tok := range q.tokens {
		if ix.bloom != nil && !ix.bloom.MightContain([]byte(tok)) {
			continue
		}
		if ids, ok := ix.tokens[tok]; ok {
			check(ids)
			if stop {
				return
			}
		}
	}

	check(ix.generic)
}

// first returns the first rule matching q, or nil.
func (ix *networkIndex) first(q *query, ignoreType bool) *compiledRule {
	var found *compiledRule
	ix.find(q, ignoreType, func(r *compiledRule) bool {
		found = r
		return true
	})
	return found
}

// hostKey returns the hostname of a "||host^" or "||host/..." rule. Only those
// rules are guaranteed to match nothing but that host and its subdomains.
func hostKey(r *compiledRule) (string, bool) {
	if !r.HostAnchor || r.re != nil || r.MatchCase {
		return "", false
	}
	end := strings.IndexAny(r.Pattern, "^/*:?")
	if end <= 0 {
		return "", false
	}
	if c := r.Pattern[end]; c != '^' && c != '/' {
		return "", false
	}
	host := r.Pattern[:end]
	if host[0] == '.' || host[len(host)-1] == '.' {
		return "", false
	}
	for i := 0; i < len(host); i++ {
		c := host[i]
		if !isTokenChar(c) && c != '.' && c != '-' && c != '_' || c == '%' {
			return "", false
		}
	}
	return host, true
}

// ruleToken picks the longest literal token of the pattern that is bounded on
// both sides, so it appears as a whole token in every URL the rule matches.
func ruleToken(r *compiledRule) (string, bool) {
	if r.re != nil {
		return "", false
	}
	p := utils.ASCIILower(r.Pattern)
	best := ""
	for i := 0; i < len(p); {
		if !isTokenChar(p[i]) {
			i++
			continue
		}
		j := i
		for j < len(p) && isTokenChar(p[j]) {
			j++
		}
		tok := p[i:j]
		leftOK := i > 0 && p[i-1] != '*' || i == 0 && (r.LeftAnchor || r.HostAnchor)
		rightOK := j < len(p) && p[j] != '*' || j == len(p) && r.RightAnchor
		if _, stop := stopTokens[tok]; leftOK && rightOK && !stop && len(tok) > len(best) {
			best = tok
		}
		i = j
	}
	return best, best != ""
}

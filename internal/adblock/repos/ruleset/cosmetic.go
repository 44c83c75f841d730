package ruleset

import (
	"slices"

	"github.com/haukened/rr-adblock/internal/adblock/common/utils"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// cosmeticIndex groups cosmetic rules by how a page lookup reaches them. All
// slices hold indexes into the rule set's cosmetic rules.
//
// Host maps are keyed by every included domain of a rule, entity forms
// ("google.*") included. Generic exceptions without exclusions are applied at
// build time by dropping the hide rules they cancel.
type cosmeticIndex struct {
	rules []domain.CosmeticRule

	hostHide      map[string][]int
	hostHideExc   map[string][]int
	hostScript    map[string][]int
	hostScriptExc map[string][]int

	genericHide      []int
	classes          map[string][]int
	ids              map[string][]int
	excludedGeneric  map[string][]int
	scopedGenericExc []int

	genericScript    []int
	genericScriptExc []int
}

func newCosmeticIndex(rules []domain.CosmeticRule) *cosmeticIndex {
	ix := &cosmeticIndex{
		rules:           rules,
		hostHide:        make(map[string][]int),
		hostHideExc:     make(map[string][]int),
		hostScript:      make(map[string][]int),
		hostScriptExc:   make(map[string][]int),
		classes:         make(map[string][]int),
		ids:             make(map[string][]int),
		excludedGeneric: make(map[string][]int),
	}

	globalExc := make(map[string]struct{})
	for _, r := range rules {
		if r.Kind == domain.CosmeticHide && r.Exception && r.IsGeneric() && len(r.ExcludedDomains) == 0 {
			globalExc[r.Body] = struct{}{}
		}
	}

	for i, r := range rules {
		switch {
		case r.Kind == domain.CosmeticScriptlet:
			ix.addScriptlet(i, r)
		case r.Exception:
			if !r.IsGeneric() {
				addKeyed(ix.hostHideExc, r.Domains, i)
			} else if len(r.ExcludedDomains) > 0 {
				ix.scopedGenericExc = append(ix.scopedGenericExc, i)
			}
		default:
			if _, cancelled := globalExc[r.Body]; cancelled {
				continue
			}
			ix.addHide(i, r)
		}
	}
	return ix
}

func (ix *cosmeticIndex) addHide(i int, r domain.CosmeticRule) {
	if !r.IsGeneric() {
		addKeyed(ix.hostHide, r.Domains, i)
		return
	}
	// a generic rule with exclusions acts as an exception on the excluded hosts
	addKeyed(ix.excludedGeneric, r.ExcludedDomains, i)

	switch kind, name := classIDKey(r.Body); kind {
	case '.':
		ix.classes[name] = append(ix.classes[name], i)
	case '#':
		ix.ids[name] = append(ix.ids[name], i)
	default:
		ix.genericHide = append(ix.genericHide, i)
	}
}

func (ix *cosmeticIndex) addScriptlet(i int, r domain.CosmeticRule) {
	switch {
	case r.Exception && r.IsGeneric():
		ix.genericScriptExc = append(ix.genericScriptExc, i)
	case r.Exception:
		addKeyed(ix.hostScriptExc, r.Domains, i)
	case r.IsGeneric():
		ix.genericScript = append(ix.genericScript, i)
	default:
		addKeyed(ix.hostScript, r.Domains, i)
	}
}

func addKeyed(m map[string][]int, keys []string, i int) {
	for _, k := range keys {
		m[k] = append(m[k], i)
	}
}

// classIDKey reports whether sel is a simple class or id selector, or starts
// with one followed by a combinator or an attribute, and returns its marker
// ('.' or '#') and name. Other selectors yield kind 0.
func classIDKey(sel string) (kind byte, name string) {
	if len(sel) < 2 || sel[0] != '.' && sel[0] != '#' {
		return 0, ""
	}
	end := 1
	for end < len(sel) && isIdentChar(sel[end]) {
		end++
	}
	if end == 1 {
		return 0, ""
	}
	if end < len(sel) {
		switch sel[end] {
		case ' ', '>', '+', '~', '[':
		default:
			return 0, ""
		}
	}
	return sel[0], sel[1:end]
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_' || c >= 0x80
}

// CosmeticMatch is the cosmetic data applicable to one host. Hide, Generic and
// Scriptlets already have the host's exceptions removed.
type CosmeticMatch struct {
	// Hide holds host-specific selectors.
	Hide []string
	// Generic holds generic selectors that are not simple class/id selectors.
	Generic []string
	// Exceptions holds every selector excepted on the host, sorted.
	Exceptions []string
	// Scriptlets holds canonical scriptlet calls, host-specific first.
	Scriptlets []string
}

// CosmeticFor resolves the cosmetic rules for a canonical hostname.
func (rs *RuleSet) CosmeticFor(host string) CosmeticMatch {
	ix := rs.cosmetics
	if host == "" {
		return CosmeticMatch{}
	}
	keys := append(utils.HostSuffixes(host), utils.EntityKeys(host)...)

	exc := make(map[string]struct{})
	for _, k := range keys {
		for _, id := range ix.hostHideExc[k] {
			if r := ix.rules[id]; !excludedOn(r, host) {
				exc[r.Body] = struct{}{}
			}
		}
		for _, id := range ix.excludedGeneric[k] {
			exc[ix.rules[id].Body] = struct{}{}
		}
	}
	for _, id := range ix.scopedGenericExc {
		if r := ix.rules[id]; !excludedOn(r, host) {
			exc[r.Body] = struct{}{}
		}
	}

	var m CosmeticMatch
	seen := make(map[string]struct{})
	for _, k := range keys {
		for _, id := range ix.hostHide[k] {
			r := ix.rules[id]
			if excludedOn(r, host) {
				continue
			}
			m.Hide = appendUnique(m.Hide, r.Body, exc, seen)
		}
	}
	for _, id := range ix.genericHide {
		m.Generic = appendUnique(m.Generic, ix.rules[id].Body, exc, seen)
	}

	m.Exceptions = make([]string, 0, len(exc))
	for sel := range exc {
		m.Exceptions = append(m.Exceptions, sel)
	}
	slices.Sort(m.Exceptions)

	m.Scriptlets = ix.scriptletsFor(host, keys)
	return m
}

func (ix *cosmeticIndex) scriptletsFor(host string, keys []string) []string {
	exc := make(map[string]struct{})
	disableAll := false
	mark := func(r domain.CosmeticRule) {
		if r.Body == "" {
			disableAll = true
			return
		}
		exc[r.Body] = struct{}{}
	}
	for _, k := range keys {
		for _, id := range ix.hostScriptExc[k] {
			if r := ix.rules[id]; !excludedOn(r, host) {
				mark(r)
			}
		}
	}
	for _, id := range ix.genericScriptExc {
		if r := ix.rules[id]; !excludedOn(r, host) {
			mark(r)
		}
	}
	if disableAll {
		return nil
	}

	var out []string
	seen := make(map[string]struct{})
	for _, k := range keys {
		for _, id := range ix.hostScript[k] {
			if r := ix.rules[id]; !excludedOn(r, host) {
				out = appendUnique(out, r.Body, exc, seen)
			}
		}
	}
	for _, id := range ix.genericScript {
		if r := ix.rules[id]; !excludedOn(r, host) {
			out = appendUnique(out, r.Body, exc, seen)
		}
	}
	return out
}

// ClassIDSelectors returns the generic selectors keyed by any of the given
// class names or ids, de-duplicated, in rule order per key.
func (rs *RuleSet) ClassIDSelectors(classes, ids []string) []string {
	ix := rs.cosmetics
	var out []string
	seen := make(map[string]struct{})
	for _, c := range classes {
		for _, id := range ix.classes[c] {
			out = appendUnique(out, ix.rules[id].Body, nil, seen)
		}
	}
	for _, name := range ids {
		for _, id := range ix.ids[name] {
			out = appendUnique(out, ix.rules[id].Body, nil, seen)
		}
	}
	return out
}

func excludedOn(r domain.CosmeticRule, host string) bool {
	return matchesAny(host, r.ExcludedDomains)
}

func appendUnique(out []string, s string, exc, seen map[string]struct{}) []string {
	if _, skip := exc[s]; skip {
		return out
	}
	if _, dup := seen[s]; dup {
		return out
	}
	seen[s] = struct{}{}
	return append(out, s)
}

package ruleset

import (
	"time"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// DefaultRegexTimeout bounds a single regex rule evaluation.
const DefaultRegexTimeout = 50 * time.Millisecond

// Options tune index construction.
type Options struct {
	// Bloom builds the pre-filters of the token indexes. Nil disables them.
	Bloom BloomFactory
	// FPRate is the target false-positive rate of each Bloom filter.
	FPRate float64
	// RegexTimeout bounds regex rule evaluation; zero means
	// DefaultRegexTimeout.
	RegexTimeout time.Duration
}

// RuleSet is an immutable, indexed collection of compiled rules. All methods
// are safe for concurrent use.
type RuleSet struct {
	network  []domain.NetworkRule
	cosmetic []domain.CosmeticRule
	stats    domain.CompileStats

	blocks     *networkIndex
	exceptions *networkIndex
	pages      *networkIndex
	cosmetics  *cosmeticIndex
}

// New indexes the given rules. The slices are owned by the RuleSet afterwards
// and must not be modified by the caller.
func New(network []domain.NetworkRule, cosmetic []domain.CosmeticRule, stats domain.CompileStats, opts Options) (*RuleSet, error) {
	if opts.RegexTimeout <= 0 {
		opts.RegexTimeout = DefaultRegexTimeout
	}

	var blocks, exceptions, pages []*compiledRule
	for _, r := range network {
		cr, err := compileRule(r, opts.RegexTimeout)
		if err != nil {
			return nil, err
		}
		switch {
		case !r.Exception:
			blocks = append(blocks, cr)
		default:
			if r.Types != 0 {
				exceptions = append(exceptions, cr)
			}
			if r.PageFlags != 0 {
				pages = append(pages, cr)
			}
		}
	}

	return &RuleSet{
		network:    network,
		cosmetic:   cosmetic,
		stats:      stats,
		blocks:     newNetworkIndex(blocks, opts),
		exceptions: newNetworkIndex(exceptions, opts),
		pages:      newNetworkIndex(pages, Options{}),
		cosmetics:  newCosmeticIndex(cosmetic),
	}, nil
}

// NetworkRules returns the network rules in compilation order.
func (rs *RuleSet) NetworkRules() []domain.NetworkRule { return rs.network }

// CosmeticRules returns the cosmetic rules in compilation order.
func (rs *RuleSet) CosmeticRules() []domain.CosmeticRule { return rs.cosmetic }

// Stats returns the statistics of the compilation that produced the set.
func (rs *RuleSet) Stats() domain.CompileStats { return rs.stats }

// Len is the number of rules of every kind.
func (rs *RuleSet) Len() int { return len(rs.network) + len(rs.cosmetic) }

// Decision explains the outcome of a network check.
type Decision struct {
	Blocked bool
	// Rule is the block rule that matched, if any.
	Rule *domain.NetworkRule
	// Exception is the exception that overrode Rule, if any.
	Exception *domain.NetworkRule
}

// Decide matches req against the set.
//
// A request is blocked when a block rule matches it, no exception matches it
// and no $document exception matches its source page. Exceptions always win,
// $important included.
func (rs *RuleSet) Decide(req domain.Request) Decision {
	q := newQuery(req)
	if q.url == "" {
		return Decision{}
	}

	block := rs.blocks.first(q, false)
	if block == nil {
		return Decision{}
	}
	if exc := rs.exceptions.first(q, false); exc != nil {
		return Decision{Rule: &block.NetworkRule, Exception: &exc.NetworkRule}
	}
	if req.SourceURL != "" {
		if exc := rs.pageRule(req.SourceURL, domain.PageDocument); exc != nil {
			return Decision{Rule: &block.NetworkRule, Exception: &exc.NetworkRule}
		}
	}
	return Decision{Blocked: true, Rule: &block.NetworkRule}
}

// Match reports whether req is blocked.
func (rs *RuleSet) Match(req domain.Request) bool {
	return rs.Decide(req).Blocked
}

// PageFlags returns the union of page-level flags of every exception that
// matches pageURL.
func (rs *RuleSet) PageFlags(pageURL string) domain.PageFlag {
	var flags domain.PageFlag
	rs.pages.find(pageQuery(pageURL), true, func(r *compiledRule) bool {
		flags |= r.PageFlags
		return false
	})
	return flags
}

func (rs *RuleSet) pageRule(pageURL string, flag domain.PageFlag) *compiledRule {
	var found *compiledRule
	rs.pages.find(pageQuery(pageURL), true, func(r *compiledRule) bool {
		if r.PageFlags&flag != 0 {
			found = r
			return true
		}
		return false
	})
	return found
}

// pageQuery describes a page as a request made by itself, so that domain=
// options are evaluated against the page host.
func pageQuery(pageURL string) *query {
	return newQuery(domain.Request{URL: pageURL, SourceURL: pageURL, Type: domain.TypeDocument})
}

package domain

import "fmt"

// Party restricts a network rule to first- or third-party requests.
type Party uint8

const (
	PartyAny Party = iota
	PartyFirst
	PartyThird
)

func (p Party) String() string {
	switch p {
	case PartyAny:
		return "any"
	case PartyFirst:
		return "first-party"
	case PartyThird:
		return "third-party"
	default:
		return fmt.Sprintf("Party(%d)", p)
	}
}

// PageFlag marks exception rules that act on a whole page rather than on one
// request.
type PageFlag uint8

const (
	// PageDocument disables network blocking for requests made by the page.
	PageDocument PageFlag = 1 << iota
	// PageElemHide disables all cosmetic hiding on the page.
	PageElemHide
	// PageGenericHide disables generic (domain-unscoped) cosmetic hiding.
	PageGenericHide
)

// NetworkRule is one parsed network filter.
//
// Notes:
//   - Pattern has its anchors stripped and is lowercased unless MatchCase.
//   - For Regex rules Pattern is the expression between the slashes.
//   - Types is the final mask after defaults and negations are applied.
type NetworkRule struct {
	Raw             string
	Source          string
	Pattern         string
	HostAnchor      bool
	LeftAnchor      bool
	RightAnchor     bool
	Regex           bool
	MatchCase       bool
	Exception       bool
	Important       bool
	Party           Party
	Types           TypeMask
	Domains         []string
	ExcludedDomains []string
	PageFlags       PageFlag
}

// CosmeticKind distinguishes element hiding from scriptlet injection.
type CosmeticKind uint8

const (
	CosmeticHide CosmeticKind = iota
	CosmeticScriptlet
)

// CosmeticRule is one parsed cosmetic filter.
//
// Body holds the CSS selector for hide rules and the scriptlet call
// ("name, arg1, arg2") for scriptlet rules.
type CosmeticRule struct {
	Raw             string
	Source          string
	Kind            CosmeticKind
	Body            string
	Domains         []string
	ExcludedDomains []string
	Exception       bool
}

// IsGeneric reports whether the rule is not scoped to any included domain.
func (r CosmeticRule) IsGeneric() bool { return len(r.Domains) == 0 }

// CompileStats records what a compilation pass kept and dropped.
type CompileStats struct {
	Lists       int `json:"lists"`
	Lines       int `json:"lines"`
	Network     int `json:"network"`
	Exceptions  int `json:"exceptions"`
	Cosmetic    int `json:"cosmetic"`
	Scriptlets  int `json:"scriptlets"`
	Failed      int `json:"failed"`
	Unsupported int `json:"unsupported"`
	BadFiltered int `json:"badfiltered"`
	Duplicates  int `json:"duplicates"`
}

// Rules returns the number of compiled rules of every kind.
func (s CompileStats) Rules() int {
	return s.Network + s.Exceptions + s.Cosmetic + s.Scriptlets
}

package parsers

import (
	"errors"
	"reflect"
	"testing"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

func TestParseNetworkRule(t *testing.T) {
	tests := []struct {
		line string
		want domain.NetworkRule
	}{
		{
			line: "||ads.example.com^",
			want: domain.NetworkRule{Pattern: "ads.example.com^", HostAnchor: true, Types: domain.MaskDefault},
		},
		{
			line: "@@||example.com/allowed$script",
			want: domain.NetworkRule{Pattern: "example.com/allowed", HostAnchor: true, Exception: true,
				Types: domain.TypeScript.Mask()},
		},
		{
			line: "|https://x.com/a|",
			want: domain.NetworkRule{Pattern: "https://x.com/a", LeftAnchor: true, RightAnchor: true,
				Types: domain.MaskDefault},
		},
		{
			line: "**/AD/*",
			want: domain.NetworkRule{Pattern: "/ad/", Types: domain.MaskDefault},
		},
		{
			line: "/Banner$match-case",
			want: domain.NetworkRule{Pattern: "/Banner", MatchCase: true, Types: domain.MaskDefault},
		},
		{
			line: "/banner\\d+/$image",
			want: domain.NetworkRule{Pattern: "banner\\d+", Regex: true, Types: domain.TypeImage.Mask()},
		},
		{
			line: "/ads$/",
			want: domain.NetworkRule{Pattern: "ads$", Regex: true, Types: domain.MaskDefault},
		},
		{
			line: "||example.com^$third-party,domain=a.com|~b.a.com",
			want: domain.NetworkRule{Pattern: "example.com^", HostAnchor: true, Party: domain.PartyThird,
				Types: domain.MaskDefault, Domains: []string{"a.com"}, ExcludedDomains: []string{"b.a.com"}},
		},
		{
			line: "track$xhr,~third-party",
			want: domain.NetworkRule{Pattern: "track", Party: domain.PartyFirst,
				Types: domain.TypeXMLHTTPRequest.Mask()},
		},
		{
			line: "ads$~script",
			want: domain.NetworkRule{Pattern: "ads", Types: domain.MaskDefault &^ domain.TypeScript.Mask()},
		},
		{
			line: "||tracker.net^$all,important",
			want: domain.NetworkRule{Pattern: "tracker.net^", HostAnchor: true, Important: true, Types: domain.MaskAll},
		},
		{
			line: "@@||example.com^$elemhide",
			want: domain.NetworkRule{Pattern: "example.com^", HostAnchor: true, Exception: true,
				PageFlags: domain.PageElemHide},
		},
		{
			line: "@@||example.com^$document",
			want: domain.NetworkRule{Pattern: "example.com^", HostAnchor: true, Exception: true,
				Types: domain.TypeDocument.Mask(), PageFlags: domain.PageDocument},
		},
		{
			line: "$script,domain=example.com",
			want: domain.NetworkRule{Types: domain.TypeScript.Mask(), Domains: []string{"example.com"}},
		},
	}

	for _, tt := range tests {
		got, err := ParseNetworkRule(tt.line, "test")
		if err != nil {
			t.Errorf("ParseNetworkRule(%q) unexpected error: %v", tt.line, err)
			continue
		}
		tt.want.Raw = tt.line
		tt.want.Source = "test"
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseNetworkRule(%q)\n got  %+v\n want %+v", tt.line, got, tt.want)
		}
	}
}

func TestParseNetworkRuleErrors(t *testing.T) {
	tests := []struct {
		line string
		want error
	}{
		{"ads$popup", errUnsupported},
		{"||x.com^$redirect=noop.js", errUnsupported},
		{"ads$domain=/re/", errUnsupported},
		{"ads$bogus", errMalformed},
		{"ads$script,,image", errMalformed},
		{"ads$domain=", errMalformed},
		{"||x.com^$elemhide", errMalformed},
		{"||", errMalformed},
		{"/[/", errMalformed},
		{"a b", errMalformed},
		{"ads$script,~script", errMalformed},
	}

	for _, tt := range tests {
		_, err := ParseNetworkRule(tt.line, "test")
		if !errors.Is(err, tt.want) {
			t.Errorf("ParseNetworkRule(%q) err = %v, want %v", tt.line, err, tt.want)
		}
	}
}

func TestBadfilterIdentity(t *testing.T) {
	target, err := parseNetworkRule("||ads.com^$script,third-party", "a")
	if err != nil {
		t.Fatalf("parse target: %v", err)
	}
	bf, err := parseNetworkRule("||ads.com^$third-party,badfilter,script", "b")
	if err != nil {
		t.Fatalf("parse badfilter: %v", err)
	}
	if !bf.badfilter || target.badfilter {
		t.Fatalf("badfilter flags: target=%v bf=%v", target.badfilter, bf.badfilter)
	}
	if bf.identity != target.identity {
		t.Errorf("identity mismatch: %q vs %q", bf.identity, target.identity)
	}

	exc, _ := parseNetworkRule("@@||ads.com^$script,third-party", "a")
	if exc.identity == target.identity {
		t.Errorf("exception identity must differ from block identity")
	}
}

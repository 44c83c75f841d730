package parsers

import (
	"errors"
	"testing"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

func TestParseHostsLine(t *testing.T) {
	rules, err := ParseHostsLine("0.0.0.0 Ads.Example.COM. tracker.example.net # comment", "hosts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}

	want := []string{"ads.example.com", "tracker.example.net"}
	for i, r := range rules {
		if r.Raw != "||"+want[i]+"^" || r.Pattern != want[i]+"^" {
			t.Errorf("rule %d = %q/%q", i, r.Raw, r.Pattern)
		}
		if !r.HostAnchor || r.Exception || r.Types != domain.MaskDefault || r.Source != "hosts" {
			t.Errorf("rule %d has unexpected flags: %+v", i, r)
		}
	}
}

func TestParseHostsLineLoopbackOnly(t *testing.T) {
	for _, line := range []string{"127.0.0.1 localhost", "::1 ip6-localhost ip6-loopback", "255.255.255.255 broadcasthost"} {
		rules, err := ParseHostsLine(line, "hosts")
		if err != nil || len(rules) != 0 {
			t.Errorf("ParseHostsLine(%q) = %v, %v; want no rules and no error", line, rules, err)
		}
	}
}

func TestParseHostsLineInvalid(t *testing.T) {
	for _, line := range []string{"0.0.0.0 *.ads.com", "0.0.0.0 .ads.com", "0.0.0.0 bad!host.com", "0.0.0.0 # only a comment"} {
		if _, err := ParseHostsLine(line, "hosts"); !errors.Is(err, errMalformed) {
			t.Errorf("ParseHostsLine(%q) err = %v, want errMalformed", line, err)
		}
	}
}

func TestParseHostsLineSkipsInvalidAmongValid(t *testing.T) {
	rules, err := ParseHostsLine("0.0.0.0 *.bad.com good.com", "hosts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules) != 1 || rules[0].Pattern != "good.com^" {
		t.Errorf("rules = %+v", rules)
	}
}

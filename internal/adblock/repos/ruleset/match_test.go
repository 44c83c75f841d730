package ruleset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logpkg "github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/repos/ruleset/parsers"
)

// --- fakes ---

type fakeBloom struct {
	keys  map[string]struct{}
	tests int
}

func (b *fakeBloom) Add(key []byte) { b.keys[string(key)] = struct{}{} }

func (b *fakeBloom) MightContain(key []byte) bool {
	b.tests++
	_, ok := b.keys[string(key)]
	return ok
}

type fakeFactory struct {
	newCalls int
	lastCap  uint64
	lastFP   float64
	made     []*fakeBloom
}

func (f *fakeFactory) New(capacity uint64, fpRate float64) BloomFilter {
	f.newCalls++
	f.lastCap = capacity
	f.lastFP = fpRate
	b := &fakeBloom{keys: make(map[string]struct{})}
	f.made = append(f.made, b)
	return b
}

func build(t *testing.T, lines ...string) *RuleSet {
	t.Helper()
	res := parsers.Compile([]parsers.ListText{{Name: "test", Text: strings.Join(lines, "\n")}}, logpkg.NewNoopLogger())
	rs, err := New(res.Network, res.Cosmetic, res.Stats, Options{Bloom: &fakeFactory{}, FPRate: 0.01})
	require.NoError(t, err)
	return rs
}

func check(rs *RuleSet, url, source, label string) bool {
	return rs.Match(domain.NewRequest(url, source, label))
}

func TestMatch_HostAnchor(t *testing.T) {
	rs := build(t, "||doubleclick.net^")

	assert.True(t, check(rs, "https://doubleclick.net/x.js", "https://example.com", "script"))
	assert.True(t, check(rs, "https://ad.doubleclick.net/x.js", "https://example.com", "script"))
	assert.True(t, check(rs, "https://DoubleClick.NET:443/x", "https://example.com", "image"))
	assert.False(t, check(rs, "https://notdoubleclick.net/x.js", "https://example.com", "script"))
	assert.False(t, check(rs, "https://doubleclick.net.example.com/x.js", "https://example.com", "script"))
	assert.False(t, check(rs, "https://example.com/?ref=doubleclick.net", "https://example.com", "script"))
}

func TestMatch_DefaultMaskExcludesDocument(t *testing.T) {
	rs := build(t, "||doubleclick.net^", "||evil.example^$document")

	assert.False(t, check(rs, "https://doubleclick.net/", "", "document"))
	assert.True(t, check(rs, "https://evil.example/", "", "main_frame"))
	assert.False(t, check(rs, "https://evil.example/x.js", "https://a.com", "script"))
}

func TestMatch_ExceptionPrecedence(t *testing.T) {
	rs := build(t,
		"||ads.example.com^",
		"@@||ads.example.com/allowed/",
		"||tracker.net^$important",
		"@@||tracker.net^",
	)

	assert.False(t, check(rs, "https://ads.example.com/allowed/x.png", "https://site.org", "image"))
	assert.True(t, check(rs, "https://ads.example.com/other.png", "https://site.org", "image"))
	assert.False(t, check(rs, "https://tracker.net/p", "https://site.org", "image"))

	d := rs.Decide(domain.NewRequest("https://ads.example.com/allowed/x.png", "https://site.org", "image"))
	require.NotNil(t, d.Rule)
	require.NotNil(t, d.Exception)
	assert.Equal(t, "||ads.example.com^", d.Rule.Raw)
	assert.Equal(t, "@@||ads.example.com/allowed/", d.Exception.Raw)
}

func TestMatch_Party(t *testing.T) {
	rs := build(t, "||tracker.com^$third-party", "||self.com^$1p")

	assert.True(t, check(rs, "https://tracker.com/p", "https://news.com", "image"))
	assert.False(t, check(rs, "https://tracker.com/p", "https://www.tracker.com/page", "image"))
	assert.False(t, check(rs, "https://tracker.com/p", "", "image"), "unknown party never matches a party rule")

	assert.True(t, check(rs, "https://cdn.self.com/p", "https://self.com", "image"))
	assert.False(t, check(rs, "https://cdn.self.com/p", "https://other.com", "image"))
}

func TestMatch_Types(t *testing.T) {
	rs := build(t, "/ads/banner.$image", "||api.track.io^$xhr", "||fonts.cdn.io^$~stylesheet")

	assert.True(t, check(rs, "https://cdn.site.com/ads/banner.png", "https://site.com", "img"))
	assert.False(t, check(rs, "https://cdn.site.com/ads/banner.png", "https://site.com", "script"))

	for _, label := range []string{"fetch", "xhr", "XMLHttpRequest"} {
		assert.True(t, check(rs, "https://api.track.io/e", "https://site.com", label), label)
	}
	assert.False(t, check(rs, "https://api.track.io/e", "https://site.com", "script"))

	assert.False(t, check(rs, "https://fonts.cdn.io/f.css", "https://site.com", "link"))
	assert.True(t, check(rs, "https://fonts.cdn.io/f.woff", "https://site.com", "font"))
}

func TestMatch_TypesFoldedIntoOther(t *testing.T) {
	// font, object, ping, websocket and beacon share the "other" class with
	// every unrecognized caller label
	rs := build(t, "||cdn.io^$~font", "||beacons.io^$font")

	assert.False(t, check(rs, "https://cdn.io/f.woff", "https://site.com", "font"))
	assert.False(t, check(rs, "https://cdn.io/x", "https://site.com", "websocket"))
	assert.True(t, check(rs, "https://cdn.io/x.js", "https://site.com", "script"))

	for _, label := range []string{"font", "ping", "beacon", "other", "no-such-label"} {
		assert.True(t, check(rs, "https://beacons.io/b", "https://site.com", label), label)
	}
	assert.False(t, check(rs, "https://beacons.io/b", "https://site.com", "image"))
}

func TestMatch_SourceDomains(t *testing.T) {
	rs := build(t, "ads.js$domain=example.com|~shop.example.com", "$script,domain=bad.example")

	assert.True(t, check(rs, "https://cdn.x.com/ads.js", "https://www.example.com/", "script"))
	assert.False(t, check(rs, "https://cdn.x.com/ads.js", "https://shop.example.com/", "script"))
	assert.False(t, check(rs, "https://cdn.x.com/ads.js", "https://other.org/", "script"))
	assert.False(t, check(rs, "https://cdn.x.com/ads.js", "", "script"))

	assert.True(t, check(rs, "https://cdn.x.com/app.js", "https://bad.example/", "script"))
	assert.False(t, check(rs, "https://cdn.x.com/app.png", "https://bad.example/", "image"))
}

func TestMatch_PatternForms(t *testing.T) {
	rs := build(t,
		"/banner[0-9]+\\.gif/",
		"/AdFrame.$match-case",
		"swf|",
		"|http://ads.",
		"/promo/*/banner^",
	)

	tests := []struct {
		url  string
		want bool
	}{
		{"https://x.com/banner12.gif", true},
		{"https://x.com/BANNER1.GIF", true},
		{"https://x.com/banner.gif", false},
		{"https://x.com/AdFrame.html", true},
		{"https://x.com/adframe.html", false},
		{"https://x.com/a.swf", true},
		{"https://x.com/a.swf?x=1", false},
		{"http://ads.x.com/", true},
		{"https://ads.x.com/", false},
		{"https://x.com/?u=http://ads.y/", false},
		{"https://x.com/promo/v2/banner?x=1", true},
		{"https://x.com/promo/v2/banners", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, check(rs, tt.url, "https://site.org", "other"), tt.url)
	}
}

func TestMatch_DocumentException(t *testing.T) {
	rs := build(t, "||ads.net^", "@@||trusted.org^$document")

	assert.False(t, check(rs, "https://ads.net/a.js", "https://trusted.org/page", "script"))
	assert.False(t, check(rs, "https://ads.net/a.js", "https://www.trusted.org/page", "script"))
	assert.True(t, check(rs, "https://ads.net/a.js", "https://other.org/page", "script"))
	assert.Equal(t, domain.PageDocument, rs.PageFlags("https://trusted.org/"))
}

func TestMatch_Badfilter(t *testing.T) {
	rs := build(t, "||ads.net^", "||ads.net^$badfilter", "||keep.net^")

	assert.False(t, check(rs, "https://ads.net/a.js", "https://site.org", "script"))
	assert.True(t, check(rs, "https://keep.net/a.js", "https://site.org", "script"))
	assert.Equal(t, 1, rs.Stats().BadFiltered)
}

func TestMatch_HostsAndEmpty(t *testing.T) {
	rs := build(t, "0.0.0.0 ads.hosts.com", "$image")

	assert.True(t, check(rs, "https://ads.hosts.com/x", "https://site.org", "script"))
	assert.False(t, check(rs, "", "https://site.org", "image"))
	assert.True(t, check(rs, "https://any.org/x.png", "https://site.org", "image"))
}

func TestMatch_EmptyRuleSet(t *testing.T) {
	rs, err := New(nil, nil, domain.CompileStats{}, Options{})
	require.NoError(t, err)
	assert.False(t, check(rs, "https://doubleclick.net/x.js", "https://example.com", "script"))
	assert.Zero(t, rs.PageFlags("https://example.com"))
	assert.Zero(t, rs.Len())
}

func TestPageFlags(t *testing.T) {
	rs := build(t, "@@||example.com^$generichide", "@@||shop.example.com^$elemhide")

	assert.Equal(t, domain.PageGenericHide, rs.PageFlags("https://www.example.com/"))
	assert.Equal(t, domain.PageGenericHide|domain.PageElemHide, rs.PageFlags("https://shop.example.com/a"))
	assert.Zero(t, rs.PageFlags("https://other.com/"))
	assert.False(t, check(rs, "https://example.com/x.js", "https://other.com", "script"))
}

func TestNew_RejectsBadRegex(t *testing.T) {
	_, err := New([]domain.NetworkRule{{Raw: "/[/", Pattern: "[", Regex: true, Types: domain.MaskDefault}}, nil, domain.CompileStats{}, Options{})
	assert.Error(t, err)
}

func TestIndexPlacement(t *testing.T) {
	f := &fakeFactory{}
	res := parsers.Compile([]parsers.ListText{{Name: "t", Text: strings.Join([]string{
		"||ads.example.com^",
		"/ads/banner.",
		"ads.js",
		"/re[0-9]/",
	}, "\n")}}, logpkg.NewNoopLogger())
	rs, err := New(res.Network, res.Cosmetic, res.Stats, Options{Bloom: f, FPRate: 0.02})
	require.NoError(t, err)

	ix := rs.blocks
	_, ok := ix.hosts.Get("moc.elpmaxe.sda")
	assert.True(t, ok)
	assert.Contains(t, ix.tokens, "banner")
	assert.Len(t, ix.generic, 2)

	// one bloom for the block index, none for the empty exception index
	require.Equal(t, 1, f.newCalls)
	assert.Equal(t, uint64(1), f.lastCap)
	assert.Equal(t, 0.02, f.lastFP)

	// a URL without indexed tokens never reaches the token map
	assert.False(t, check(rs, "https://cdn.x.com/other.png", "", "image"))
	assert.Positive(t, f.made[0].tests)
}

func TestHostKey(t *testing.T) {
	tests := []struct {
		line string
		want string
		ok   bool
	}{
		{"||ads.example.com^", "ads.example.com", true},
		{"||ads.example.com/path", "ads.example.com", true},
		{"||ads.example.com", "", false},
		{"||ads.*.com^", "", false},
		{"||example.com:8080^", "", false},
		{"|http://x.com^", "", false},
		{"||Ads.com^$match-case", "", false},
	}
	for _, tt := range tests {
		r, err := parsers.ParseNetworkRule(tt.line, "t")
		require.NoError(t, err, tt.line)
		got, ok := hostKey(&compiledRule{NetworkRule: r})
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}
}

func TestRuleToken(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"/ads/banner.", "banner"},
		{"ads.js", ""},
		{"||cdn.*.com/track^", "track"},
		{"|https://www.", ""},
		{"-advert-", "advert"},
		{"*/pixel*", ""},
	}
	for _, tt := range tests {
		r, err := parsers.ParseNetworkRule(tt.line, "t")
		require.NoError(t, err, tt.line)
		got, ok := ruleToken(&compiledRule{NetworkRule: r})
		assert.Equal(t, tt.want != "", ok, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}
}

func TestURLTokens(t *testing.T) {
	assert.Equal(t,
		[]string{"https", "cdn", "example", "com", "ads", "a%20b"},
		urlTokens("https://cdn.example.com/ads/a%20b/ads"),
	)
}

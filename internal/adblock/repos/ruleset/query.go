package ruleset

import (
	"slices"
	"strings"

	"github.com/haukened/rr-adblock/internal/adblock/common/utils"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// query is a request prepared for matching. hostStart and hostEnd index into
// both url and raw.
type query struct {
	raw        string
	url        string
	host       string
	hostStart  int
	hostEnd    int
	sourceHost string
	party      domain.Party
	typ        domain.ResourceType
	tokens     []string
}

func newQuery(req domain.Request) *query {
	q := &query{
		raw: req.URL,
		url: utils.ASCIILower(req.URL),
		typ: req.Type,
	}
	q.hostStart, q.hostEnd = utils.HostBounds(q.url)
	host := strings.TrimSuffix(strings.TrimPrefix(q.url[q.hostStart:q.hostEnd], "["), "]")
	q.host = utils.CanonicalHost(host)
	q.sourceHost = utils.URLHost(req.SourceURL)

	// with no source page the party is unknown and party-restricted rules never match
	if q.host != "" && q.sourceHost != "" {
		q.party = domain.PartyFirst
		if utils.IsThirdParty(q.host, q.sourceHost) {
			q.party = domain.PartyThird
		}
	}

	q.tokens = urlTokens(q.url)
	return q
}

// stopTokens are too common in URLs to narrow a lookup.
var stopTokens = map[string]struct{}{
	"http": {}, "https": {}, "www": {}, "com": {}, "js": {}, "net": {}, "org": {},
}

func isTokenChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '%'
}

// urlTokens splits a lowercased URL into its distinct runs of token characters.
func urlTokens(u string) []string {
	var out []string
	for i := 0; i < len(u); {
		if !isTokenChar(u[i]) {
			i++
			continue
		}
		j := i
		for j < len(u) && isTokenChar(u[j]) {
			j++
		}
		if tok := u[i:j]; !slices.Contains(out, tok) {
			out = append(out, tok)
		}
		i = j
	}
	return out
}

package parsers

import (
	"strings"

	"github.com/AdguardTeam/golibs/errors"

	"github.com/haukened/rr-adblock/internal/adblock/common/utils"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// localHostnames are the loopback aliases every hosts file carries; they are
// not blocking entries.
var localHostnames = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"local":                 {},
	"broadcasthost":         {},
	"ip6-localhost":         {},
	"ip6-loopback":          {},
	"ip6-localnet":          {},
	"ip6-mcastprefix":       {},
	"ip6-allnodes":          {},
	"ip6-allrouters":        {},
	"ip6-allhosts":          {},
	"0.0.0.0":               {},
}

// ParseHostsLine turns an /etc/hosts-style line into "||host^" block rules,
// one per valid hostname after the IP field.
//
// Rules:
// - The IP field is ignored
// - Inline comments after '#' are stripped
// - Loopback aliases, wildcards and invalid hostnames are skipped
// - A line carrying only loopback aliases yields no rules and no error
func ParseHostsLine(line, source string) ([]domain.NetworkRule, error) {
	fields := strings.Fields(stripInlineComment(line))
	if len(fields) < 2 {
		return nil, errors.Annotate(errMalformed, "hosts line without hostnames: %w")
	}

	out := make([]domain.NetworkRule, 0, len(fields)-1)
	invalid := 0
	for _, raw := range fields[1:] {
		name := utils.CanonicalHost(raw)
		if _, ok := localHostnames[name]; ok {
			continue
		}
		if strings.Contains(raw, "*") || strings.HasPrefix(raw, ".") || !isValidHostname(name) {
			invalid++
			continue
		}
		out = append(out, domain.NetworkRule{
			Raw:        "||" + name + "^",
			Source:     source,
			Pattern:    name + "^",
			HostAnchor: true,
			Party:      domain.PartyAny,
			Types:      domain.MaskDefault,
		})
	}
	if len(out) == 0 && invalid > 0 {
		return nil, errors.Annotate(errMalformed, "hosts line %q has no usable hostnames: %w", line)
	}
	return out, nil
}

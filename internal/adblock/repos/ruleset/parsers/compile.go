package parsers

import (
	"bufio"
	"strings"

	"github.com/AdguardTeam/golibs/errors"

	logpkg "github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// maxLineSize bounds a single filter line; longer lines fail the scan of that
// list only.
const maxLineSize = 1 << 20

// ListText is the raw text of one acquired filter list.
type ListText struct {
	Name string
	Text string
}

// Result is the output of one compilation pass.
type Result struct {
	Network  []domain.NetworkRule
	Cosmetic []domain.CosmeticRule
	Stats    domain.CompileStats
}

// Compile parses every list into one merged rule collection.
//
// Behavior:
// - Blank lines, "!" comments, "[Adblock ...]" headers and "# " comments are skipped
// - Each remaining line is parsed independently; failures are counted, never fatal
// - Identical rules from several lists are kept once (first source wins)
// - $badfilter rules remove the rules they name, across all lists
func Compile(lists []ListText, logger logpkg.Logger) Result {
	c := &compiler{
		logger:     logger,
		seen:       make(map[string]struct{}),
		badfilters: make(map[string]struct{}),
	}
	for _, l := range lists {
		c.compileList(l)
	}
	return c.finish()
}

type compiler struct {
	logger     logpkg.Logger
	seen       map[string]struct{}
	badfilters map[string]struct{}
	network    []parsedNetwork
	cosmetic   []domain.CosmeticRule
	stats      domain.CompileStats
}

func (c *compiler) compileList(l ListText) {
	c.stats.Lists++
	c.logger.Debug(map[string]any{"source": l.Name}, "compile_list_start")

	scanner := bufio.NewScanner(strings.NewReader(l.Text))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\uFEFF"))
		c.compileLine(line, l.Name, lineNum)
	}
	if err := scanner.Err(); err != nil {
		c.stats.Failed++
		c.logger.Warn(map[string]any{"source": l.Name, "line": lineNum, "error": err}, "compile_list_scan_error")
	}

	c.logger.Debug(map[string]any{"source": l.Name, "lines": lineNum}, "compile_list_done")
}

func (c *compiler) compileLine(line, source string, lineNum int) {
	kind, sepIdx, marker := classifyLine(line)
	if kind == lineSkip {
		return
	}
	c.stats.Lines++

	if _, dup := c.seen[line]; dup {
		c.stats.Duplicates++
		return
	}
	c.seen[line] = struct{}{}

	var err error
	switch kind {
	case lineCosmetic:
		var r domain.CosmeticRule
		if r, err = ParseCosmeticRule(line, sepIdx, marker, source); err == nil {
			c.cosmetic = append(c.cosmetic, r)
		}
	case lineHosts:
		var rules []domain.NetworkRule
		if rules, err = ParseHostsLine(line, source); err == nil {
			for _, r := range rules {
				if _, dup := c.seen[r.Raw]; dup {
					c.stats.Duplicates++
					continue
				}
				c.seen[r.Raw] = struct{}{}
				c.network = append(c.network, parsedNetwork{rule: r, identity: r.Raw})
			}
		}
	case lineNetwork:
		var p parsedNetwork
		if p, err = parseNetworkRule(line, source); err == nil {
			if p.badfilter {
				c.badfilters[p.identity] = struct{}{}
			} else {
				c.network = append(c.network, p)
			}
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, errUnsupported):
		c.stats.Unsupported++
		c.logger.Debug(map[string]any{"source": source, "line": lineNum, "error": err}, "compile_skip_unsupported")
	default:
		c.stats.Failed++
		c.logger.Debug(map[string]any{"source": source, "line": lineNum, "error": err}, "compile_skip_malformed")
	}
}

func (c *compiler) finish() Result {
	res := Result{
		Network:  make([]domain.NetworkRule, 0, len(c.network)),
		Cosmetic: c.cosmetic,
	}
	for _, p := range c.network {
		if _, bad := c.badfilters[p.identity]; bad {
			c.stats.BadFiltered++
			continue
		}
		res.Network = append(res.Network, p.rule)
		if p.rule.Exception {
			c.stats.Exceptions++
		} else {
			c.stats.Network++
		}
	}
	for _, r := range c.cosmetic {
		if r.Kind == domain.CosmeticScriptlet {
			c.stats.Scriptlets++
		} else {
			c.stats.Cosmetic++
		}
	}
	res.Stats = c.stats

	c.logger.Info(map[string]any{
		"lists":       c.stats.Lists,
		"network":     c.stats.Network,
		"exceptions":  c.stats.Exceptions,
		"cosmetic":    c.stats.Cosmetic,
		"scriptlets":  c.stats.Scriptlets,
		"failed":      c.stats.Failed,
		"unsupported": c.stats.Unsupported,
		"badfiltered": c.stats.BadFiltered,
		"duplicates":  c.stats.Duplicates,
	}, "compile_done")
	return res
}

package cosmetic

import (
	"strings"

	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/common/utils"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/repos/ruleset"
)

// RuleSource hands out the current rule set, or nil before the first one is
// installed.
type RuleSource interface {
	Current() *ruleset.RuleSet
}

// Resolver answers cosmetic queries against the current rule set. Results are
// computed per call and never cached.
type Resolver struct {
	rules   RuleSource
	library *Library
	logger  log.Logger
}

// ResolverOptions configures a Resolver. Rules is required; a nil Library
// means the built-in scriptlets only.
type ResolverOptions struct {
	Rules   RuleSource
	Library *Library
	Logger  log.Logger
}

// NewResolver builds a Resolver from opts.
func NewResolver(opts ResolverOptions) *Resolver {
	lib := opts.Library
	if lib == nil {
		lib = NewLibrary()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Resolver{rules: opts.Rules, library: lib, logger: logger}
}

// ResourcesFor returns the cosmetic bundle for a page.
//
// Behavior:
// - Host-specific selectors are always included, minus the host's exceptions
// - Generic selectors that are not simple class/id selectors are included unless $generichide applies
// - $elemhide drops every selector and reports GenericHide so class/id lookups stop too
// - Scriptlets render through the library into one script; unknown names are skipped
func (r *Resolver) ResourcesFor(pageURL string) domain.CosmeticResources {
	res := domain.EmptyCosmeticResources()
	rs := r.rules.Current()
	host := utils.URLHost(pageURL)
	if rs == nil || host == "" {
		return res
	}

	flags := rs.PageFlags(pageURL)
	m := rs.CosmeticFor(host)

	res.GenericHide = flags&(domain.PageGenericHide|domain.PageElemHide) != 0
	if flags&domain.PageElemHide == 0 {
		res.HideSelectors = append(res.HideSelectors, m.Hide...)
		if !res.GenericHide {
			res.HideSelectors = append(res.HideSelectors, m.Generic...)
		}
	}
	res.Exceptions = append(res.Exceptions, m.Exceptions...)
	res.InjectedScript = r.script(host, m.Scriptlets)
	return res
}

func (r *Resolver) script(host string, calls []string) *string {
	var b strings.Builder
	for _, call := range calls {
		body, ok := r.library.Render(call)
		if !ok {
			r.logger.Debug(map[string]any{"host": host, "scriptlet": call}, "scriptlet_unknown")
			continue
		}
		b.WriteString("try {\n")
		b.WriteString(body)
		b.WriteString("\n} catch ( e ) { }\n")
	}
	if b.Len() == 0 {
		return nil
	}
	s := b.String()
	return &s
}

// HiddenSelectors returns generic class/id selectors for the observed classes
// and ids, minus the caller's exceptions. Callers skip this for pages whose
// bundle reported GenericHide.
func (r *Resolver) HiddenSelectors(classes, ids []string, exceptions map[string]struct{}) []string {
	out := []string{}
	rs := r.rules.Current()
	if rs == nil {
		return out
	}
	for _, sel := range rs.ClassIDSelectors(classes, ids) {
		if _, skip := exceptions[sel]; skip {
			continue
		}
		out = append(out, sel)
	}
	return out
}

// Package engine answers network and cosmetic queries against the current
// rule set and keeps that rule set up to date.
package engine

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/semaphore"

	"github.com/haukened/rr-adblock/internal/adblock/common/clock"
	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/common/utils"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/repos/resultcache"
	"github.com/haukened/rr-adblock/internal/adblock/repos/ruleset"
	"github.com/haukened/rr-adblock/internal/adblock/services/cosmetic"
)

// ErrUpdateInProgress is returned by TriggerUpdate while another rebuild is
// running.
const ErrUpdateInProgress errors.Error = "update already in progress"

// ErrNoLists is returned when not a single list could be acquired. The
// current rule set is kept.
const ErrNoLists errors.Error = "no filter list could be acquired"

// DefaultInternalSchemes are never blocked.
var DefaultInternalSchemes = []string{"data", "blob", "about", "tauri", "ipc"}

// Options configures an Engine. Lists and Source are required.
type Options struct {
	Lists  []domain.FilterListDescriptor
	Source ListSource
	// Snapshots is optional; without it every start rebuilds from the lists.
	Snapshots SnapshotStore
	// Cache defaults to a resultcache.Cache with default limits.
	Cache   ResultCache
	Library *cosmetic.Library
	RuleSet ruleset.Options

	AllowList       []string
	InternalSchemes []string
	// RefreshInterval triggers a rebuild periodically; zero disables it.
	RefreshInterval time.Duration

	Recorder Recorder
	Logger   log.Logger
	Clock    clock.Clock
}

// Engine is the query facade. Every method is safe for concurrent use and
// none of them panics into the caller.
type Engine struct {
	lists     []domain.FilterListDescriptor
	source    ListSource
	snapshots SnapshotStore
	cache     ResultCache
	cosmetic  *cosmetic.Resolver
	rsOpts    ruleset.Options

	allow   []string
	schemes map[string]struct{}
	refresh time.Duration

	recorder Recorder
	logger   log.Logger
	clock    clock.Clock

	current  atomic.Pointer[ruleset.RuleSet]
	updating *semaphore.Weighted
	busy     atomic.Bool
	bg       conc.WaitGroup

	mu         sync.Mutex
	lastUpdate time.Time
	lastErr    error
	origin     string
}

// New builds an Engine. It holds no rule set until Start or TriggerUpdate
// installs one; until then every check answers false.
func New(opts Options) (*Engine, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("engine: list source is required")
	}
	if len(opts.Lists) == 0 {
		return nil, fmt.Errorf("engine: at least one filter list is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Cache == nil {
		opts.Cache = resultcache.New(resultcache.Options{Clock: opts.Clock})
	}
	if opts.InternalSchemes == nil {
		opts.InternalSchemes = DefaultInternalSchemes
	}

	e := &Engine{
		lists:     opts.Lists,
		source:    opts.Source,
		snapshots: opts.Snapshots,
		cache:     opts.Cache,
		rsOpts:    opts.RuleSet,
		schemes:   make(map[string]struct{}, len(opts.InternalSchemes)),
		refresh:   opts.RefreshInterval,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		clock:     opts.Clock,
		updating:  semaphore.NewWeighted(1),
	}
	for _, s := range opts.InternalSchemes {
		e.schemes[strings.ToLower(strings.TrimSuffix(s, ":"))+":"] = struct{}{}
	}
	for _, d := range opts.AllowList {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			e.allow = append(e.allow, d)
		}
	}
	e.cosmetic = cosmetic.NewResolver(cosmetic.ResolverOptions{
		Rules:   e,
		Library: opts.Library,
		Logger:  opts.Logger,
	})
	return e, nil
}

// Current returns the installed rule set, or nil before the first one.
func (e *Engine) Current() *ruleset.RuleSet { return e.current.Load() }

// Ready reports whether a rule set is installed.
func (e *Engine) Ready() bool { return e.current.Load() != nil }

// CheckRequest reports whether a request should be blocked. resourceType is
// a free-form label normalized to a ResourceType.
func (e *Engine) CheckRequest(url, sourceURL, resourceType string) bool {
	return e.Check(domain.NewRequest(url, sourceURL, resourceType))
}

// Check reports whether req should be blocked.
//
// Pipeline:
// - Empty URLs and internal schemes (data:, blob:, ...) are allowed
// - URLs containing an allow-listed domain are allowed
// - Otherwise the result cache is consulted, computing against the current rule set on a miss
func (e *Engine) Check(req domain.Request) bool {
	return e.check(req)
}

// CheckRequestsBatch checks every request in order.
func (e *Engine) CheckRequestsBatch(reqs []domain.RawRequest) []bool {
	out := make([]bool, len(reqs))
	for i, r := range reqs {
		out[i] = e.check(r.Request())
	}
	return out
}

func (e *Engine) check(req domain.Request) (blocked bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(map[string]any{"url": req.URL, "panic": fmt.Sprint(r)}, "check_panic")
			blocked = false
		}
	}()

	if !e.Ready() || req.URL == "" || e.internal(req.URL) || e.allowListed(req.URL) {
		return false
	}
	key := resultcache.Key{URL: req.URL, SourceURL: req.SourceURL, Type: req.Type}
	// The rule set is loaded only after the cache has taken its generation.
	// install stores before it purges, so a result computed here against a
	// replaced set is never kept.
	blocked = e.cache.GetOrCompute(key, func() bool {
		rs := e.current.Load()
		return rs != nil && rs.Match(req)
	})
	e.recorder.RecordCheck(blocked)
	return blocked
}

func (e *Engine) internal(rawURL string) bool {
	_, ok := e.schemes[utils.Scheme(rawURL)]
	return ok
}

func (e *Engine) allowListed(rawURL string) bool {
	if len(e.allow) == 0 {
		return false
	}
	u := utils.ASCIILower(rawURL)
	for _, d := range e.allow {
		if strings.Contains(u, d) {
			return true
		}
	}
	return false
}

// CosmeticResources returns the cosmetic bundle for a page. Results are not
// cached.
func (e *Engine) CosmeticResources(pageURL string) (res domain.CosmeticResources) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(map[string]any{"url": pageURL, "panic": fmt.Sprint(r)}, "cosmetic_panic")
			res = domain.EmptyCosmeticResources()
		}
	}()
	return e.cosmetic.ResourcesFor(pageURL)
}

// HiddenSelectors returns the generic class and id selectors that apply to
// the observed classes and ids, minus exceptions.
func (e *Engine) HiddenSelectors(classes, ids []string, exceptions map[string]struct{}) (out []string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(map[string]any{"panic": fmt.Sprint(r)}, "hidden_selectors_panic")
			out = []string{}
		}
	}()
	return e.cosmetic.HiddenSelectors(classes, ids, exceptions)
}

// Stats describes the engine state.
type Stats struct {
	Ready      bool                `json:"ready"`
	Updating   bool                `json:"updating"`
	Rules      domain.CompileStats `json:"rules"`
	Cache      resultcache.Stats   `json:"cache"`
	Origin     string              `json:"origin,omitempty"`
	LastUpdate time.Time           `json:"last_update"`
	LastError  string              `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the engine state.
func (e *Engine) Stats() Stats {
	s := Stats{Cache: e.cache.Stats()}
	if rs := e.current.Load(); rs != nil {
		s.Ready = true
		s.Rules = rs.Stats()
	}
	s.Updating = e.busy.Load()

	e.mu.Lock()
	defer e.mu.Unlock()
	s.Origin = e.origin
	s.LastUpdate = e.lastUpdate
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	return s
}

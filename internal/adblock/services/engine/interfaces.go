package engine

import (
	"context"
	"time"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/repos/resultcache"
	"github.com/haukened/rr-adblock/internal/adblock/repos/ruleset"
)

// ListSource acquires filter list text. It returns every list it could get
// together with the combined error of the others.
type ListSource interface {
	AcquireAll(ctx context.Context, lists []domain.FilterListDescriptor) ([]domain.FilterListCacheEntry, error)
}

// SnapshotStore persists the current rule set between runs.
type SnapshotStore interface {
	Load() (*ruleset.RuleSet, error)
	Save(rs *ruleset.RuleSet) error
}

// ResultCache memoizes network check results.
type ResultCache interface {
	GetOrCompute(key resultcache.Key, compute func() bool) bool
	Purge()
	Stats() resultcache.Stats
}

// Recorder receives engine events for metrics.
type Recorder interface {
	RecordCheck(blocked bool)
	SetRuleStats(s domain.CompileStats)
	RecordFetchFailures(n int)
	RecordUpdate(d time.Duration, err error)
	RecordSnapshotLoad(result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordCheck(bool)                  {}
func (nopRecorder) SetRuleStats(domain.CompileStats)  {}
func (nopRecorder) RecordFetchFailures(int)           {}
func (nopRecorder) RecordUpdate(time.Duration, error) {}
func (nopRecorder) RecordSnapshotLoad(string)         {}

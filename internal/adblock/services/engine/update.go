package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"go.uber.org/multierr"

	"github.com/haukened/rr-adblock/internal/adblock/repos/ruleset"
	"github.com/haukened/rr-adblock/internal/adblock/repos/ruleset/parsers"
	"github.com/haukened/rr-adblock/internal/adblock/repos/snapshot"
)

const (
	originSnapshot = "snapshot"
	originLists    = "lists"
)

// Start loads the initial rule set in the background, from the snapshot when
// a usable one exists and from the lists otherwise, then refreshes
// periodically until ctx is done. Wait blocks until that goroutine exits.
func (e *Engine) Start(ctx context.Context) {
	e.bg.Go(func() {
		if !e.loadSnapshot() {
			if _, err := e.TriggerUpdate(ctx); err != nil {
				e.logger.Error(map[string]any{"error": err}, "initial_update_failed")
			}
		}
		e.refreshLoop(ctx)
	})
}

// Wait blocks until the goroutine started by Start has exited.
func (e *Engine) Wait() { e.bg.Wait() }

func (e *Engine) loadSnapshot() bool {
	if e.snapshots == nil {
		return false
	}
	rs, err := e.snapshots.Load()
	switch {
	case err == nil:
		e.install(rs, originSnapshot)
		e.recorder.RecordSnapshotLoad("hit")
		e.logger.Info(map[string]any{"rules": rs.Len()}, "snapshot_loaded")
		return true
	case errors.Is(err, snapshot.ErrNoSnapshot):
		e.recorder.RecordSnapshotLoad("miss")
		e.logger.Debug(nil, "snapshot_absent")
	default:
		e.recorder.RecordSnapshotLoad("error")
		e.logger.Warn(map[string]any{"error": err}, "snapshot_unusable")
	}
	return false
}

func (e *Engine) refreshLoop(ctx context.Context) {
	if e.refresh <= 0 {
		return
	}
	ticker := time.NewTicker(e.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := e.TriggerUpdate(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrUpdateInProgress):
				e.logger.Debug(map[string]any{"error": err}, "periodic_update_skipped")
			default:
				e.logger.Warn(map[string]any{"error": err}, "periodic_update_failed")
			}
		}
	}
}

// TriggerUpdate acquires every list, compiles them into a new rule set and
// swaps it in, returning its rule count. Only one update runs at a time; a
// concurrent call gets ErrUpdateInProgress. On failure the current rule set
// stays in place.
func (e *Engine) TriggerUpdate(ctx context.Context) (n int, err error) {
	if !e.updating.TryAcquire(1) {
		return 0, ErrUpdateInProgress
	}
	defer e.updating.Release(1)
	e.busy.Store(true)
	defer e.busy.Store(false)

	start := e.clock.Now()
	defer func() {
		e.recorder.RecordUpdate(e.clock.Now().Sub(start), err)
		e.mu.Lock()
		e.lastErr = err
		e.mu.Unlock()
	}()

	rs, err := e.build(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: update: %w", err)
	}
	e.install(rs, originLists)

	if e.snapshots != nil {
		if serr := e.snapshots.Save(rs); serr != nil {
			e.logger.Warn(map[string]any{"error": serr}, "snapshot_save_failed")
		}
	}
	e.logger.Info(map[string]any{
		"rules":    rs.Len(),
		"failed":   rs.Stats().Failed,
		"duration": e.clock.Now().Sub(start).String(),
	}, "update_complete")
	return rs.Len(), nil
}

func (e *Engine) build(ctx context.Context) (*ruleset.RuleSet, error) {
	entries, err := e.source.AcquireAll(ctx, e.lists)
	if err != nil {
		failed := multierr.Errors(err)
		e.recorder.RecordFetchFailures(len(failed))
		e.logger.Warn(map[string]any{"failed": len(failed), "acquired": len(entries), "error": err}, "filterlist_acquire_failed")
	}
	if len(entries) == 0 {
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoLists, err)
		}
		return nil, ErrNoLists
	}
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	texts := make([]parsers.ListText, 0, len(entries))
	for _, en := range entries {
		texts = append(texts, parsers.ListText{Name: en.Name, Text: en.Text})
	}
	res := parsers.Compile(texts, e.logger)
	return ruleset.New(res.Network, res.Cosmetic, res.Stats, e.rsOpts)
}

// install swaps rs in. Cached results belong to the previous rule set and are
// dropped.
func (e *Engine) install(rs *ruleset.RuleSet, origin string) {
	e.current.Store(rs)
	e.cache.Purge()
	e.recorder.SetRuleStats(rs.Stats())

	e.mu.Lock()
	e.origin = origin
	e.lastUpdate = e.clock.Now()
	e.mu.Unlock()
}

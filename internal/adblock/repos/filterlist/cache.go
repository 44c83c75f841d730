// Package filterlist acquires filter list text, keeping a copy of every
// downloaded list on disk.
package filterlist

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil/urlutil"
	renameio "github.com/google/renameio/v2"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"github.com/haukened/rr-adblock/internal/adblock/common/clock"
	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

const (
	DefaultTTL         = 24 * time.Hour
	DefaultConcurrency = 4
)

// Fetcher copies the body found at u into w.
type Fetcher interface {
	Fetch(ctx context.Context, u *url.URL, w io.Writer) (int64, error)
}

// Options configures a Cache.
type Options struct {
	// Dir holds one cache file per list. It is created if missing.
	Dir         string
	TTL         time.Duration
	Fetcher     Fetcher
	Concurrency int
	Clock       clock.Clock
	Logger      log.Logger
}

// Cache is the disk-backed list store. Cache files are only ever replaced
// atomically, so concurrent Acquire calls for different lists are safe.
type Cache struct {
	dir         string
	ttl         time.Duration
	fetcher     Fetcher
	concurrency int
	clock       clock.Clock
	logger      log.Logger
}

// New validates opts and prepares the cache directory.
func New(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("filterlist: cache dir is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("filterlist: fetcher is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("filterlist: creating cache dir: %w", err)
	}
	return &Cache{
		dir:         opts.Dir,
		ttl:         opts.TTL,
		fetcher:     opts.Fetcher,
		concurrency: opts.Concurrency,
		clock:       opts.Clock,
		logger:      opts.Logger,
	}, nil
}

// Path returns the cache file used for d.
func (c *Cache) Path(d domain.FilterListDescriptor) string {
	return filepath.Join(c.dir, d.CacheFileName())
}

// Acquire returns the text of d. A cache file younger than the TTL is used as
// is. Otherwise the list is downloaded and the cache file replaced; if that
// fails, any cache file is used whatever its age. file:// lists are read
// directly and never cached.
func (c *Cache) Acquire(ctx context.Context, d domain.FilterListDescriptor) (e domain.FilterListCacheEntry, err error) {
	defer func() { err = errors.Annotate(err, "list %q: %w", d.Name) }()

	if err = d.Validate(); err != nil {
		return e, err
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return e, fmt.Errorf("parsing url: %w", err)
	}
	now := c.clock.Now()
	e = domain.FilterListCacheEntry{Name: d.Name}

	if strings.EqualFold(u.Scheme, urlutil.SchemeFile) {
		e.Text, _, err = readFile(u.Path)
		if err != nil {
			return e, fmt.Errorf("reading list file: %w", err)
		}
		e.FetchedAt = now
		return e, nil
	}

	path := c.Path(d)
	cached, mtime, err := readFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn(map[string]any{"list": d.Name, "path": path, "error": err}, "filterlist_cache_unreadable")
	}
	found := err == nil
	if found && mtime.Add(c.ttl).After(now) {
		c.logger.Debug(map[string]any{"list": d.Name, "path": path}, "filterlist_cache_hit")
		e.Text, e.FetchedAt = cached, mtime
		return e, nil
	}

	text, err := c.refresh(ctx, u, path, now)
	if err == nil {
		c.logger.Info(map[string]any{"list": d.Name, "url": urlutil.RedactUserinfo(u).String(), "bytes": len(text)}, "filterlist_fetched")
		e.Text, e.FetchedAt = text, now
		return e, nil
	}
	if !found {
		c.logger.Warn(map[string]any{"list": d.Name, "error": err}, "filterlist_fetch_failed")
		return e, err
	}
	c.logger.Warn(map[string]any{"list": d.Name, "error": err, "age": now.Sub(mtime).String()}, "filterlist_stale_used")
	e.Text, e.FetchedAt, e.Stale = cached, mtime, true
	return e, nil
}

// AcquireAll acquires every list concurrently. It returns the lists that
// could be acquired, in descriptor order, and the combined errors of the rest.
func (c *Cache) AcquireAll(ctx context.Context, ds []domain.FilterListDescriptor) ([]domain.FilterListCacheEntry, error) {
	entries := make([]domain.FilterListCacheEntry, len(ds))
	errs := make([]error, len(ds))

	p := pool.New().WithMaxGoroutines(c.concurrency).WithContext(ctx)
	for i, d := range ds {
		p.Go(func(ctx context.Context) error {
			entries[i], errs[i] = c.Acquire(ctx, d)
			return nil
		})
	}
	_ = p.Wait()

	var (
		out []domain.FilterListCacheEntry
		err error
	)
	for i := range ds {
		if errs[i] != nil {
			err = multierr.Append(err, errs[i])
			continue
		}
		out = append(out, entries[i])
	}
	return out, err
}

// refresh downloads u and replaces the cache file at path, setting its times
// to updTime, the moment the refresh started. A cache file that cannot be
// written is logged and the downloaded text is still returned.
func (c *Cache) refresh(ctx context.Context, u *url.URL, path string, updTime time.Time) (text string, err error) {
	b := &strings.Builder{}
	if _, err = c.fetcher.Fetch(ctx, u, b); err != nil {
		return "", fmt.Errorf("fetching %q: %w", urlutil.RedactUserinfo(u), err)
	}
	text = b.String()

	if perr := persist(path, text, updTime); perr != nil {
		c.logger.Warn(map[string]any{"path": path, "error": perr}, "filterlist_persist_failed")
	}
	return text, nil
}

// persist atomically replaces the file at path with text.
func persist(path, text string, updTime time.Time) (err error) {
	tmpFile, err := renameio.TempFile(renameio.TempDir(filepath.Dir(path)), path)
	if err != nil {
		return fmt.Errorf("creating temporary cache file: %w", err)
	}
	defer func() { err = withDeferredTmpCleanup(err, tmpFile, path, updTime) }()

	_, err = io.WriteString(tmpFile, text)
	return err
}

func withDeferredTmpCleanup(returned error, tmpFile *renameio.PendingFile, path string, updTime time.Time) error {
	if returned != nil {
		return errors.WithDeferred(returned, tmpFile.Cleanup())
	}
	if err := tmpFile.CloseAtomicallyReplace(); err != nil {
		// the temporary file is already closed, only its removal matters
		_ = tmpFile.Cleanup()
		return err
	}
	return os.Chtimes(path, updTime, updTime)
}

func readFile(path string) (text string, mtime time.Time, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", time.Time{}, err
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	fi, err := f.Stat()
	if err != nil {
		return "", time.Time{}, err
	}
	b := &strings.Builder{}
	if _, err = io.Copy(b, f); err != nil {
		return "", time.Time{}, err
	}
	return b.String(), fi.ModTime(), nil
}

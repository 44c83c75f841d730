package filterlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/haukened/rr-adblock/internal/adblock/common/clock"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/gateways/fetch"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// listServer serves body on every path and counts requests. Setting failing
// makes it answer 500.
type listServer struct {
	*httptest.Server
	hits    atomic.Int32
	failing atomic.Bool
	body    atomic.Value
}

func newListServer(t *testing.T, body string) *listServer {
	t.Helper()
	s := &listServer{}
	s.body.Store(body)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if s.failing.Load() || r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(s.body.Load().(string)))
	}))
	t.Cleanup(s.Close)
	return s
}

func newCache(t *testing.T, clk clock.Clock) *Cache {
	t.Helper()
	c, err := New(Options{
		Dir:     filepath.Join(t.TempDir(), "lists"),
		TTL:     time.Hour,
		Fetcher: fetch.New(fetch.Options{Timeout: 5 * time.Second}),
		Clock:   clk,
	})
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Fetcher: fetch.New(fetch.Options{})})
	assert.Error(t, err)
	_, err = New(Options{Dir: t.TempDir()})
	assert.Error(t, err)

	c, err := New(Options{Dir: t.TempDir(), Fetcher: fetch.New(fetch.Options{})})
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, c.ttl)
	assert.Equal(t, DefaultConcurrency, c.concurrency)
}

func TestAcquire_FetchesThenReusesFreshCopy(t *testing.T) {
	srv := newListServer(t, "||ads.example^\n")
	clk := clock.NewMockClock(t0)
	c := newCache(t, clk)
	d := domain.FilterListDescriptor{Name: "Peter Lowe's List", URL: srv.URL + "/list.txt"}

	e, err := c.Acquire(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "||ads.example^\n", e.Text)
	assert.Equal(t, t0, e.FetchedAt)
	assert.False(t, e.Stale)

	path := c.Path(d)
	assert.Equal(t, "Peter_Lowe_s_List.txt", filepath.Base(path))
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, fi.ModTime().Equal(t0), "mtime is the fetch start")

	srv.body.Store("changed\n")
	clk.Advance(59 * time.Minute)
	e, err = c.Acquire(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "||ads.example^\n", e.Text)
	assert.Equal(t, int32(1), srv.hits.Load())

	clk.Advance(time.Minute)
	e, err = c.Acquire(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "changed\n", e.Text)
	assert.Equal(t, int32(2), srv.hits.Load())
}

func TestAcquire_StaleOnFailure(t *testing.T) {
	srv := newListServer(t, "||ads.example^\n")
	clk := clock.NewMockClock(t0)
	c := newCache(t, clk)
	d := domain.FilterListDescriptor{Name: "EasyList", URL: srv.URL + "/easylist.txt"}

	_, err := c.Acquire(context.Background(), d)
	require.NoError(t, err)

	srv.failing.Store(true)
	clk.Advance(48 * time.Hour)
	e, err := c.Acquire(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, e.Stale)
	assert.Equal(t, "||ads.example^\n", e.Text)
	assert.True(t, e.FetchedAt.Equal(t0))

	b, err := os.ReadFile(c.Path(d))
	require.NoError(t, err)
	assert.Equal(t, "||ads.example^\n", string(b), "a failed refresh leaves the cache file alone")
}

func TestAcquire_FailsWithoutCopy(t *testing.T) {
	srv := newListServer(t, "")
	c := newCache(t, clock.NewMockClock(t0))
	d := domain.FilterListDescriptor{Name: "Gone", URL: srv.URL + "/missing"}

	_, err := c.Acquire(context.Background(), d)
	require.Error(t, err)
	assert.ErrorContains(t, err, `list "Gone"`)

	var se *fetch.StatusError
	assert.ErrorAs(t, err, &se)
	_, statErr := os.Stat(c.Path(d))
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestAcquire_UnwritableCacheFileKeepsFetchedText(t *testing.T) {
	srv := newListServer(t, "||ads.example^\n")
	c := newCache(t, clock.NewMockClock(t0))
	d := domain.FilterListDescriptor{Name: "EasyList", URL: srv.URL + "/list.txt"}

	// a non-empty directory where the cache file belongs cannot be replaced
	require.NoError(t, os.MkdirAll(filepath.Join(c.Path(d), "occupied"), 0o755))

	e, err := c.Acquire(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "||ads.example^\n", e.Text)
	assert.False(t, e.Stale)
	assert.True(t, e.FetchedAt.Equal(t0))
	assert.DirExists(t, c.Path(d))

	_, err = c.Acquire(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.hits.Load(), "nothing was cached, so the list is fetched again")
}

func TestAcquire_FileURL(t *testing.T) {
	src := filepath.Join(t.TempDir(), "local.txt")
	require.NoError(t, os.WriteFile(src, []byte("example.com##.ad\n"), 0o600))

	c := newCache(t, clock.NewMockClock(t0))
	u := url.URL{Scheme: "file", Path: src}
	d := domain.FilterListDescriptor{Name: "Local", URL: u.String()}

	e, err := c.Acquire(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "example.com##.ad\n", e.Text)
	_, statErr := os.Stat(c.Path(d))
	assert.ErrorIs(t, statErr, os.ErrNotExist, "file lists are never cached")

	_, err = c.Acquire(context.Background(), domain.FilterListDescriptor{Name: "Nope", URL: "file:///does/not/exist"})
	assert.Error(t, err)
}

func TestAcquire_InvalidDescriptor(t *testing.T) {
	c := newCache(t, clock.NewMockClock(t0))
	_, err := c.Acquire(context.Background(), domain.FilterListDescriptor{Name: "x", URL: "ftp://example.com/list"})
	assert.Error(t, err)
}

func TestAcquireAll(t *testing.T) {
	srv := newListServer(t, "||ads.example^\n")
	c := newCache(t, clock.NewMockClock(t0))
	ds := []domain.FilterListDescriptor{
		{Name: "A", URL: srv.URL + "/a.txt"},
		{Name: "Broken", URL: srv.URL + "/missing"},
		{Name: "C", URL: srv.URL + "/c.txt"},
	}

	entries, err := c.AcquireAll(context.Background(), ds)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 1)
	assert.ErrorContains(t, err, `list "Broken"`)

	require.Len(t, entries, 2)
	assert.Equal(t, "A", entries[0].Name)
	assert.Equal(t, "C", entries[1].Name)

	entries, err = c.AcquireAll(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h http.HandlerFunc) *url.URL {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL + "/list.txt")
	require.NoError(t, err)
	return u
}

func TestNew_Defaults(t *testing.T) {
	c := New(Options{})
	assert.Equal(t, DefaultTimeout, c.http.Timeout)
	assert.Equal(t, DefaultMaxSize, c.MaxSize())
	assert.Equal(t, DefaultUserAgent, c.userAgent)
}

func TestFetch_OK(t *testing.T) {
	var ua string
	u := serve(t, func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("||ads.example^\n"))
	})

	var b strings.Builder
	n, err := New(Options{UserAgent: "test-agent"}).Fetch(context.Background(), u, &b)
	require.NoError(t, err)
	assert.Equal(t, int64(15), n)
	assert.Equal(t, "||ads.example^\n", b.String())
	assert.Equal(t, "test-agent", ua)
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		opts    Options
		check   func(t *testing.T, err error)
	}{
		{
			name: "status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Server", "lists")
				w.WriteHeader(http.StatusNotFound)
			},
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, http.StatusNotFound, se.Got)
				assert.Equal(t, "lists", se.ServerName)
			},
		},
		{
			name:    "empty",
			handler: func(w http.ResponseWriter, _ *http.Request) {},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrEmptyBody)
			},
		},
		{
			name: "oversized",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(strings.Repeat("a", 64)))
			},
			opts: Options{MaxSize: 16},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "reading body")
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				<-r.Context().Done()
			},
			opts: Options{Timeout: 50 * time.Millisecond},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "requesting")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := serve(t, tt.handler)
			_, err := New(tt.opts).Fetch(context.Background(), u, &strings.Builder{})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

// Package fetch downloads filter list text over HTTP(S).
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/ioutil"
	"github.com/c2h5oh/datasize"
)

const (
	DefaultTimeout   = 20 * time.Second
	DefaultMaxSize   = 50 * datasize.MB
	DefaultUserAgent = "rr-adblock/1"
)

// ErrEmptyBody is returned when the server answers 200 with no content. An
// empty list is never written over a cached one.
const ErrEmptyBody errors.Error = "empty response body"

// StatusError is returned when the response status is not 200.
type StatusError struct {
	ServerName string
	Got        int
}

// Error implements the error interface for *StatusError.
func (err *StatusError) Error() string {
	return fmt.Sprintf("server %q: status code error: expected %d, got %d", err.ServerName, http.StatusOK, err.Got)
}

// Options configures a Client.
type Options struct {
	Timeout   time.Duration
	MaxSize   datasize.ByteSize
	UserAgent string
	// Transport is injected by tests; nil means http.DefaultTransport.
	Transport http.RoundTripper
}

// Client is a bounded HTTP GET client. It is safe for concurrent use.
type Client struct {
	http      *http.Client
	maxSize   datasize.ByteSize
	userAgent string
}

// New returns a Client, filling zero options with the defaults.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxSize == 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return &Client{
		http:      &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		maxSize:   opts.MaxSize,
		userAgent: opts.UserAgent,
	}
}

// MaxSize returns the payload cap.
func (c *Client) MaxSize() datasize.ByteSize { return c.maxSize }

// Fetch GETs u and copies the body into w. Bodies over the size cap, empty
// bodies and non-200 answers are errors; w may then hold partial data.
func (c *Client) Fetch(ctx context.Context, u *url.URL, w io.Writer) (n int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set(httphdr.UserAgent, c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("requesting: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, resp.Body.Close()) }()

	if resp.StatusCode != http.StatusOK {
		return 0, &StatusError{ServerName: resp.Header.Get(httphdr.Server), Got: resp.StatusCode}
	}

	n, err = io.Copy(w, ioutil.LimitReader(resp.Body, c.maxSize.Bytes()))
	if err != nil {
		return n, fmt.Errorf("reading body: %w", err)
	}
	if n == 0 {
		return 0, ErrEmptyBody
	}
	return n, nil
}

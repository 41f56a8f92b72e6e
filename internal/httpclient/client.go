// Package httpclient dispatches a fully resolved request and captures the
// response the pipeline hands to post-response scripts.
package httpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/unkn0wn-root/restbro/internal/collection"
	"github.com/unkn0wn-root/restbro/internal/errdef"
)

type Options struct {
	Timeout            time.Duration
	FollowRedirects    bool
	InsecureSkipVerify bool
	ProxyURL           string
}

// Outgoing is a request after variable substitution and scripts ran.
type Outgoing struct {
	Method      string
	URL         string
	Headers     []collection.KV
	Body        string
	QueryParams []collection.KV
	PathParams  []collection.KV
}

type Response struct {
	Status       string
	StatusCode   int
	Proto        string
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	Size         int64
	EffectiveURL string
}

type Client struct {
	fs          FileSystem
	jar         http.CookieJar
	opts        Options
	httpFactory func(Options) (*http.Client, error)

	mu     sync.Mutex
	client *http.Client
}

func NewClient(fs FileSystem, opts Options) *Client {
	if fs == nil {
		fs = OSFileSystem{}
	}
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	c := &Client{fs: fs, jar: jar, opts: opts}
	c.httpFactory = c.buildHTTPClient
	return c
}

// SetHTTPFactory allows callers to override how the http.Client is created.
// Passing nil restores the default factory.
func (c *Client) SetHTTPFactory(factory func(Options) (*http.Client, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if factory == nil {
		factory = c.buildHTTPClient
	}
	c.httpFactory = factory
	c.client = nil
}

func (c *Client) httpClient() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := c.httpFactory(c.opts)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

// Send builds and performs out. Only enabled headers and params are used and
// a body is attached for POST, PUT and PATCH when it is non-empty.
func (c *Client) Send(ctx context.Context, out Outgoing) (*Response, error) {
	httpReq, err := c.prepareHTTPRequest(ctx, out)
	if err != nil {
		return nil, err
	}
	client, err := c.httpClient()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeBodyRead, err, "read response body")
	}
	body, err := decodeBody(httpResp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, err
	}
	duration := time.Since(start)

	return &Response{
		Status:       httpResp.Status,
		StatusCode:   httpResp.StatusCode,
		Proto:        httpResp.Proto,
		Headers:      httpResp.Header.Clone(),
		Body:         body,
		Duration:     duration,
		Size:         int64(len(body)),
		EffectiveURL: effURL(httpReq, httpResp),
	}, nil
}

func effURL(req *http.Request, resp *http.Response) string {
	if resp != nil && resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String()
	}
	if req != nil && req.URL != nil {
		return req.URL.String()
	}
	return ""
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errdef.Wrap(errdef.CodeTimeout, err, "request timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errdef.Wrap(errdef.CodeTimeout, err, "request timed out")
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return errdef.Wrap(errdef.CodeHTTP, err, "request cancelled")
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && strings.Contains(urlErr.Err.Error(), "unsupported protocol scheme") {
		return errdef.Wrap(errdef.CodeRequestBuild, err, "invalid request url")
	}
	return errdef.Wrap(errdef.CodeConnect, err, "connect failed")
}

package httpclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/unkn0wn-root/restbro/internal/collection"
	"github.com/unkn0wn-root/restbro/internal/errdef"
)

func (c *Client) prepareHTTPRequest(ctx context.Context, out Outgoing) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(out.Method))
	if method == "" {
		method = http.MethodGet
	}
	target, err := BuildURL(out.URL, out.PathParams, out.QueryParams)
	if err != nil {
		return nil, err
	}

	var (
		body        io.Reader
		contentType string
	)
	if carriesBody(method) && out.Body != "" {
		payload, ct, err := c.prepareBody(out.Body, headerValue(out.Headers, "Content-Type"))
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
		contentType = ct
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeRequestBuild, err, "build request")
	}
	for _, h := range out.Headers {
		key := strings.TrimSpace(h.Key)
		if !h.Enabled || key == "" {
			continue
		}
		if strings.EqualFold(key, "Host") {
			httpReq.Host = h.Value
			continue
		}
		httpReq.Header.Add(key, h.Value)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	return httpReq, nil
}

func carriesBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// BuildURL substitutes enabled path params into ":name" and "{name}" path
// segments and appends enabled query params. Query params already in raw
// are kept in place when there is nothing to add.
func BuildURL(raw string, pathParams, queryParams []collection.KV) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errdef.New(errdef.CodeRequestBuild, "request url is empty")
	}
	raw = substitutePathParams(raw, pathParams)

	u, err := url.Parse(raw)
	if err != nil {
		return "", errdef.Wrap(errdef.CodeRequestBuild, err, "parse url %q", raw)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errdef.New(errdef.CodeRequestBuild, "url %q must be absolute", raw)
	}

	var extra []collection.KV
	for _, q := range queryParams {
		if q.Enabled && strings.TrimSpace(q.Key) != "" {
			extra = append(extra, q)
		}
	}
	if len(extra) == 0 {
		return u.String(), nil
	}
	values := u.Query()
	for _, q := range extra {
		values.Add(strings.TrimSpace(q.Key), q.Value)
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

func substitutePathParams(raw string, params []collection.KV) string {
	values := make(map[string]string)
	for _, p := range params {
		if p.Enabled && strings.TrimSpace(p.Key) != "" {
			values[strings.TrimSpace(p.Key)] = p.Value
		}
	}
	if len(values) == 0 {
		return raw
	}

	path, rest := raw, ""
	if idx := strings.IndexAny(raw, "?#"); idx >= 0 {
		path, rest = raw[:idx], raw[idx:]
	}
	prefix := ""
	if idx := strings.Index(path, "://"); idx >= 0 {
		hostEnd := strings.Index(path[idx+3:], "/")
		if hostEnd < 0 {
			return raw
		}
		prefix, path = path[:idx+3+hostEnd], path[idx+3+hostEnd:]
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		var name string
		switch {
		case strings.HasPrefix(seg, ":") && len(seg) > 1:
			name = seg[1:]
		case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && len(seg) > 2:
			name = seg[1 : len(seg)-1]
		default:
			continue
		}
		if v, ok := values[name]; ok {
			segments[i] = url.PathEscape(v)
		}
	}
	return prefix + strings.Join(segments, "/") + rest
}

func headerValue(headers []collection.KV, name string) string {
	for _, h := range headers {
		if h.Enabled && strings.EqualFold(strings.TrimSpace(h.Key), name) {
			return h.Value
		}
	}
	return ""
}

package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/unkn0wn-root/restbro/internal/collection"
	"github.com/unkn0wn-root/restbro/internal/errdef"
)

func kv(k, v string) collection.KV {
	return collection.KV{Key: k, Value: v, Enabled: true}
}

func TestBuildURL(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		path  []collection.KV
		query []collection.KV
		want  string
	}{
		{name: "plain", raw: "http://h/ping", want: "http://h/ping"},
		{name: "existing query kept", raw: "http://h/ping?x=1", want: "http://h/ping?x=1"},
		{
			name:  "colon and brace params",
			raw:   "http://h:8080/users/:id/posts/{post}",
			path:  []collection.KV{kv("id", "4 2"), kv("post", "7")},
			want:  "http://h:8080/users/4%202/posts/7",
		},
		{
			name: "disabled path param",
			raw:  "http://h/users/:id",
			path: []collection.KV{{Key: "id", Value: "1", Enabled: false}},
			want: "http://h/users/:id",
		},
		{
			name:  "query appended",
			raw:   "http://h/search?a=1",
			query: []collection.KV{kv("q", "go lang"), {Key: "skip", Value: "x"}},
			want:  "http://h/search?a=1&q=go+lang",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BuildURL(tc.raw, tc.path, tc.query)
			if err != nil {
				t.Fatalf("build url: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}

	if _, err := BuildURL("/relative", nil, nil); errdef.CodeOf(err) != errdef.CodeRequestBuild {
		t.Fatalf("expected request build error, got %v", err)
	}
	if _, err := BuildURL("  ", nil, nil); errdef.CodeOf(err) != errdef.CodeRequestBuild {
		t.Fatalf("expected request build error for empty url, got %v", err)
	}
}

type captured struct {
	method  string
	url     string
	headers http.Header
	body    []byte
}

func captureServer(t *testing.T, status int, respond func(w http.ResponseWriter)) (*httptest.Server, chan captured) {
	t.Helper()
	ch := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- captured{method: r.Method, url: r.URL.String(), headers: r.Header.Clone(), body: body}
		if respond != nil {
			respond(w)
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func TestSendGetIgnoresBodyAndDisabledHeaders(t *testing.T) {
	srv, ch := captureServer(t, 0, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	client := NewClient(nil, Options{Timeout: 5 * time.Second})

	resp, err := client.Send(context.Background(), Outgoing{
		Method: "get",
		URL:    srv.URL + "/ping?x=1",
		Headers: []collection.KV{
			kv("X-On", "1"),
			{Key: "X-Off", Value: "1", Enabled: false},
		},
		Body: "ignored",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	got := <-ch
	if got.method != http.MethodGet || got.url != "/ping?x=1" {
		t.Fatalf("unexpected request %s %s", got.method, got.url)
	}
	if len(got.body) != 0 {
		t.Fatalf("GET must not carry a body, got %q", got.body)
	}
	if got.headers.Get("X-On") != "1" || got.headers.Get("X-Off") != "" {
		t.Fatalf("unexpected headers %v", got.headers)
	}
	if resp.StatusCode != http.StatusCreated || resp.Status != "201 Created" {
		t.Fatalf("unexpected status %d %q", resp.StatusCode, resp.Status)
	}
	if string(resp.Body) != `{"ok":true}` || resp.Size != int64(len(resp.Body)) {
		t.Fatalf("unexpected body %q size %d", resp.Body, resp.Size)
	}
	if resp.Headers.Get("X-Reply") != "yes" {
		t.Fatalf("expected response headers")
	}
	if resp.EffectiveURL != srv.URL+"/ping?x=1" {
		t.Fatalf("unexpected effective url %q", resp.EffectiveURL)
	}
	if resp.Duration <= 0 {
		t.Fatalf("expected a duration")
	}
}

func TestSendBodyRules(t *testing.T) {
	cases := []struct {
		method   string
		body     string
		wantBody string
	}{
		{method: "POST", body: `{"a":1}`, wantBody: `{"a":1}`},
		{method: "PUT", body: "x", wantBody: "x"},
		{method: "PATCH", body: "y", wantBody: "y"},
		{method: "POST", body: "", wantBody: ""},
		{method: "DELETE", body: "z", wantBody: ""},
	}
	for _, tc := range cases {
		t.Run(tc.method+"-"+tc.body, func(t *testing.T) {
			srv, ch := captureServer(t, http.StatusOK, nil)
			client := NewClient(nil, Options{})
			if _, err := client.Send(context.Background(), Outgoing{Method: tc.method, URL: srv.URL, Body: tc.body}); err != nil {
				t.Fatalf("send: %v", err)
			}
			got := <-ch
			if string(got.body) != tc.wantBody {
				t.Fatalf("expected body %q, got %q", tc.wantBody, got.body)
			}
		})
	}
}

func TestSendFormWithFileBecomesMultipart(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "avatar.txt")
	if err := os.WriteFile(file, []byte("file-bytes"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	var parsed struct {
		name    string
		file    string
		missing string
		fname   string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		parsed.name = r.FormValue("name")
		parsed.missing = r.FormValue("other")
		f, hdr, err := r.FormFile("avatar")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		parsed.file = string(data)
		parsed.fname = hdr.Filename
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(nil, Options{})
	resp, err := client.Send(context.Background(), Outgoing{
		Method:  "POST",
		URL:     srv.URL,
		Headers: []collection.KV{kv("Content-Type", "application/x-www-form-urlencoded")},
		Body:    "name=alice&avatar=@" + file + "&other=@" + filepath.Join(dir, "nope.bin"),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("server rejected multipart body: %d %s", resp.StatusCode, resp.Body)
	}
	if parsed.name != "alice" || parsed.file != "file-bytes" || parsed.fname != "avatar.txt" {
		t.Fatalf("unexpected multipart content %+v", parsed)
	}
	if !strings.HasPrefix(parsed.missing, "@") {
		t.Fatalf("unreadable file should fall back to literal field, got %q", parsed.missing)
	}
}

func TestSendPlainFormUnchanged(t *testing.T) {
	srv, ch := captureServer(t, http.StatusOK, nil)
	client := NewClient(nil, Options{})
	_, err := client.Send(context.Background(), Outgoing{
		Method:  "POST",
		URL:     srv.URL,
		Headers: []collection.KV{kv("Content-Type", "application/x-www-form-urlencoded")},
		Body:    "a=1&b=two",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	got := <-ch
	if string(got.body) != "a=1&b=two" {
		t.Fatalf("unexpected body %q", got.body)
	}
	if got.headers.Get("Content-Type") != "application/x-www-form-urlencoded" {
		t.Fatalf("unexpected content type %q", got.headers.Get("Content-Type"))
	}
}

func TestSendMultipartWithoutBoundaryIsEncoded(t *testing.T) {
	var name string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		name = r.FormValue("name")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(nil, Options{})
	resp, err := client.Send(context.Background(), Outgoing{
		Method:  "POST",
		URL:     srv.URL,
		Headers: []collection.KV{kv("Content-Type", "multipart/form-data")},
		Body:    "name=bob",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent || name != "bob" {
		t.Fatalf("expected multipart field, got %d %q", resp.StatusCode, name)
	}
}

func TestSendDecodesCompressedBodies(t *testing.T) {
	payload := []byte(`{"compressed":true}`)

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write(payload)
	_ = gw.Close()

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	zs := enc.EncodeAll(payload, nil)
	_ = enc.Close()

	for coding, data := range map[string][]byte{"gzip": gz.Bytes(), "zstd": zs} {
		t.Run(coding, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", coding)
				_, _ = w.Write(data)
			}))
			defer srv.Close()

			client := NewClient(nil, Options{})
			resp, err := client.Send(context.Background(), Outgoing{
				Method:  "GET",
				URL:     srv.URL,
				Headers: []collection.KV{kv("Accept-Encoding", coding)},
			})
			if err != nil {
				t.Fatalf("send: %v", err)
			}
			if !bytes.Equal(resp.Body, payload) {
				t.Fatalf("expected decoded body, got %q", resp.Body)
			}
		})
	}
}

func TestSendDecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write([]byte("not gzip at all"))
	}))
	defer srv.Close()

	client := NewClient(nil, Options{})
	_, err := client.Send(context.Background(), Outgoing{
		Method:  "GET",
		URL:     srv.URL,
		Headers: []collection.KV{kv("Accept-Encoding", "gzip")},
	})
	if errdef.CodeOf(err) != errdef.CodeDecode {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestSendErrorClassification(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	client := NewClient(nil, Options{Timeout: 50 * time.Millisecond})
	_, err := client.Send(context.Background(), Outgoing{Method: "GET", URL: slow.URL})
	if errdef.CodeOf(err) != errdef.CodeTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, err = NewClient(nil, Options{}).Send(context.Background(), Outgoing{Method: "GET", URL: "http://" + addr})
	if errdef.CodeOf(err) != errdef.CodeConnect {
		t.Fatalf("expected connect error, got %v", err)
	}

	_, err = NewClient(nil, Options{}).Send(context.Background(), Outgoing{Method: "GET", URL: "ftp://example.com/x"})
	if errdef.CodeOf(err) != errdef.CodeRequestBuild {
		t.Fatalf("expected request build error, got %v", err)
	}
}

func TestSetHTTPFactory(t *testing.T) {
	client := NewClient(nil, Options{})
	client.SetHTTPFactory(func(Options) (*http.Client, error) {
		return nil, errors.New("no client")
	})
	if _, err := client.Send(context.Background(), Outgoing{Method: "GET", URL: "http://h"}); err == nil {
		t.Fatalf("expected factory error")
	}
}

func TestRedirectsNotFollowedByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := NewClient(nil, Options{}).Send(context.Background(), Outgoing{Method: "GET", URL: srv.URL + "/old"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}

	resp, err = NewClient(nil, Options{FollowRedirects: true}).Send(context.Background(), Outgoing{Method: "GET", URL: srv.URL + "/old"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !strings.HasSuffix(resp.EffectiveURL, "/new") {
		t.Fatalf("expected followed redirect, got %d %s", resp.StatusCode, resp.EffectiveURL)
	}
}

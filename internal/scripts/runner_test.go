package scripts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/unkn0wn-root/restbro/internal/errdef"
	"github.com/unkn0wn-root/restbro/internal/varstore"
)

func baseRequest() ScriptRequest {
	return ScriptRequest{
		Method:  "GET",
		URL:     "http://h/ping",
		Headers: map[string]string{"Accept": "application/json", "X-Old": "1"},
		Query:   map[string]string{"page": "1"},
	}
}

func TestRunPreRequestRewritesURLHeadersBody(t *testing.T) {
	runner := NewRunner(Options{})
	script := `
req.url = req.url + '?x=1';
req.headers = { 'X-Trace': 'abc' };
req.body = JSON.stringify({ n: 1 });
req.method = 'DELETE';
`
	out, err := runner.RunPreRequest(context.Background(), script, baseRequest(), varstore.New())
	if err != nil {
		t.Fatalf("pre-request: %v", err)
	}
	if out.URL != "http://h/ping?x=1" {
		t.Fatalf("unexpected url %q", out.URL)
	}
	if out.Body != `{"n":1}` {
		t.Fatalf("unexpected body %q", out.Body)
	}
	if len(out.Headers) != 1 || out.Headers["X-Trace"] != "abc" {
		t.Fatalf("expected headers replaced by script set, got %v", out.Headers)
	}
	if out.Method != "GET" {
		t.Fatalf("method must not be read back, got %q", out.Method)
	}
}

func TestRunPreRequestHeaderMutationAndDelete(t *testing.T) {
	runner := NewRunner(Options{})
	script := `req.headers['X-New'] = 42; delete req.headers['X-Old'];`
	in := baseRequest()
	out, err := runner.RunPreRequest(context.Background(), script, in, nil)
	if err != nil {
		t.Fatalf("pre-request: %v", err)
	}
	if out.Headers["X-New"] != "42" || out.Headers["Accept"] != "application/json" {
		t.Fatalf("unexpected headers %v", out.Headers)
	}
	if _, ok := out.Headers["X-Old"]; ok {
		t.Fatalf("deleted header must be gone")
	}
	if in.Headers["X-Old"] != "1" {
		t.Fatalf("input request must not be mutated")
	}
}

func TestEmptyScriptIsNoop(t *testing.T) {
	runner := NewRunner(Options{})
	in := baseRequest()
	out, err := runner.RunPreRequest(context.Background(), "  \n\t ", in, nil)
	if err != nil {
		t.Fatalf("pre-request: %v", err)
	}
	if out.URL != in.URL || len(out.Headers) != len(in.Headers) {
		t.Fatalf("expected unchanged request, got %+v", out)
	}
	if err := runner.RunPostResponse(context.Background(), "", in, ScriptResponse{}, nil); err != nil {
		t.Fatalf("post-response: %v", err)
	}
}

func TestPreRequestThrowReturnsTypedError(t *testing.T) {
	runner := NewRunner(Options{})
	_, err := runner.RunPreRequest(context.Background(), `throw new Error("boom")`, baseRequest(), nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errdef.Is(err, errdef.CodePreScript) {
		t.Fatalf("expected pre-script code, got %v", errdef.CodeOf(err))
	}
	var scriptErr *Error
	if !errors.As(err, &scriptErr) {
		t.Fatalf("expected *Error in chain, got %T", err)
	}
	if scriptErr.Stage != StagePreRequest {
		t.Fatalf("unexpected stage %q", scriptErr.Stage)
	}
	if scriptErr.Detail != "Error: boom" {
		t.Fatalf("unexpected detail %q", scriptErr.Detail)
	}
	if !strings.Contains(scriptErr.Message, "boom") {
		t.Fatalf("expected engine message to mention boom, got %q", scriptErr.Message)
	}
	if scriptErr.Excerpt != `throw new Error("boom")` {
		t.Fatalf("unexpected excerpt %q", scriptErr.Excerpt)
	}
}

func TestClipKeepsRunesWhole(t *testing.T) {
	line := "x" + strings.Repeat("é", maxExcerpt)
	got := clip(line)
	if !utf8.ValidString(got) {
		t.Fatalf("clipped excerpt is not valid utf-8: %q", got)
	}
	if !strings.HasSuffix(got, "...") || len(got) > maxExcerpt+3 {
		t.Fatalf("unexpected clip %q", got)
	}
	if short := clip("héllo"); short != "héllo" {
		t.Fatalf("expected short line untouched, got %q", short)
	}
}

func TestPostResponseSyntaxError(t *testing.T) {
	runner := NewRunner(Options{})
	script := "var ok = 1;\nvar = ;"
	err := runner.RunPostResponse(context.Background(), script, baseRequest(), ScriptResponse{}, nil)
	if !errdef.Is(err, errdef.CodePostScript) {
		t.Fatalf("expected post-script error, got %v", err)
	}
	var scriptErr *Error
	if !errors.As(err, &scriptErr) || scriptErr.Stage != StagePostResponse {
		t.Fatalf("expected post-response *Error, got %v", err)
	}
	if scriptErr.Excerpt == "" {
		t.Fatalf("expected an excerpt")
	}
}

func TestPostResponseParsesJSONAndSetsVars(t *testing.T) {
	runner := NewRunner(Options{})
	store := varstore.New()
	store.InitializeWithEnv(map[string]string{"baseUrl": "http://h"}, nil)

	resp := ScriptResponse{
		Status:     200,
		StatusText: "200 OK",
		Body:       `{"token":"abc","items":[1,2,3]}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
		Latency:    1500 * time.Millisecond,
		Size:       31,
	}
	script := `
if (res.status !== 200) throw new Error('status ' + res.status);
if (res.latency !== 1500) throw new Error('latency ' + res.latency);
if (res.body.items.length !== 3) throw new Error('items');
bro.setEnvVar('token', res.body.token);
bro.setEnvVar('count', res.body.items.length);
bro.setEnvVar('seen', bro.getEnvVar('baseUrl') + '|' + typeof bro.getEnvVar('nope') + '|' + bro.hasEnvVar('baseUrl'));
`
	if err := runner.RunPostResponse(context.Background(), script, baseRequest(), resp, store); err != nil {
		t.Fatalf("post-response: %v", err)
	}
	dirty := store.Dirty()
	if dirty["token"] != "abc" {
		t.Fatalf("expected token dirty, got %v", dirty)
	}
	if dirty["count"] != "3" {
		t.Fatalf("expected count 3, got %q", dirty["count"])
	}
	if dirty["seen"] != "http://h|undefined|true" {
		t.Fatalf("unexpected seen %q", dirty["seen"])
	}
	if _, ok := dirty["baseUrl"]; ok {
		t.Fatalf("seeded variable must not be dirty")
	}
}

func TestPostResponseNonJSONBodyStaysString(t *testing.T) {
	runner := NewRunner(Options{})
	store := varstore.New()
	resp := ScriptResponse{
		Status:  200,
		Body:    `{"looks":"like json"}`,
		Headers: map[string]string{"content-type": "text/plain"},
	}
	if err := runner.RunPostResponse(context.Background(), `bro.setEnvVar('kind', typeof res.body)`, baseRequest(), resp, store); err != nil {
		t.Fatalf("post-response: %v", err)
	}
	if got := store.Dirty()["kind"]; got != "string" {
		t.Fatalf("expected string body, got %q", got)
	}
}

func TestShim(t *testing.T) {
	runner := NewRunner(Options{})
	store := varstore.New()
	script := `
bro.setEnvVar('b64', btoa('user:pass'));
bro.setEnvVar('plain', atob('dXNlcjpwYXNz'));
bro.setEnvVar('hex', Buffer.from('hi', 'utf8').toString('hex'));
bro.setEnvVar('fromB64', Buffer.from('aGk=', 'base64').toString());
bro.setEnvVar('len', Buffer.from('abc').length);
`
	if _, err := runner.RunPreRequest(context.Background(), script, baseRequest(), store); err != nil {
		t.Fatalf("pre-request: %v", err)
	}
	want := map[string]string{
		"b64":     "dXNlcjpwYXNz",
		"plain":   "user:pass",
		"hex":     "6869",
		"fromB64": "hi",
		"len":     "3",
	}
	got := store.Dirty()
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s: expected %q, got %q", k, v, got[k])
		}
	}
}

func TestFreshRuntimePerCall(t *testing.T) {
	runner := NewRunner(Options{})
	if _, err := runner.RunPreRequest(context.Background(), `var leaked = 1;`, baseRequest(), nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	store := varstore.New()
	err := runner.RunPostResponse(context.Background(), `bro.setEnvVar('t', typeof leaked)`, baseRequest(), ScriptResponse{}, store)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := store.Dirty()["t"]; got != "undefined" {
		t.Fatalf("expected no state leak, got %q", got)
	}
}

func TestContextCancelInterruptsScript(t *testing.T) {
	runner := NewRunner(Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := runner.RunPreRequest(ctx, `for (;;) {}`, baseRequest(), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTimeoutOption(t *testing.T) {
	runner := NewRunner(Options{Timeout: 50 * time.Millisecond})
	_, err := runner.RunPreRequest(context.Background(), `while (true) {}`, baseRequest(), nil)
	var scriptErr *Error
	if !errors.As(err, &scriptErr) {
		t.Fatalf("expected script error, got %v", err)
	}
	if !strings.Contains(scriptErr.Message, "exceeded") {
		t.Fatalf("unexpected message %q", scriptErr.Message)
	}
}

func TestConsoleDoesNotFail(t *testing.T) {
	runner := NewRunner(Options{})
	script := `console.log('a', 1, {b: 2}); console.warn('w'); console.error(null, undefined);`
	if _, err := runner.RunPreRequest(context.Background(), script, baseRequest(), nil); err != nil {
		t.Fatalf("console: %v", err)
	}
}

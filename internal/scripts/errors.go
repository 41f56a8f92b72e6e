package scripts

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dop251/goja"

	"github.com/unkn0wn-root/restbro/internal/errdef"
)

type Stage string

const (
	StagePreRequest   Stage = "pre-request"
	StagePostResponse Stage = "post-response"
)

func (s Stage) filename() string {
	return string(s) + ".js"
}

func (s Stage) wrap(err *Error) error {
	code := errdef.CodePreScript
	if s == StagePostResponse {
		code = errdef.CodePostScript
	}
	return errdef.Wrap(code, err, "%s script failed", s)
}

// Error describes a script that threw or failed to compile. Message is the
// engine's text, Detail the thrown value and Excerpt the offending line.
type Error struct {
	Stage   Stage
	Message string
	Detail  string
	Excerpt string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Excerpt != "" {
		b.WriteString(" (near: ")
		b.WriteString(e.Excerpt)
		b.WriteString(")")
	}
	return b.String()
}

const maxExcerpt = 120

func newError(stage Stage, script string, err error) *Error {
	out := &Error{Stage: stage, Message: err.Error(), Excerpt: excerpt(script, err)}
	var ex *goja.Exception
	if errors.As(err, &ex) && ex.Value() != nil {
		out.Detail = ex.Value().String()
	}
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		out.Detail = syntax.Message
	}
	return out
}

var linePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.js:(\d+):\d+`),
	regexp.MustCompile(`Line (\d+):\d+`),
}

// excerpt picks the script line the engine points at, falling back to the
// first non-empty line.
func excerpt(script string, err error) string {
	lines := strings.Split(script, "\n")
	msg := err.Error()
	for _, re := range linePatterns {
		m := re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		n, convErr := strconv.Atoi(m[1])
		if convErr != nil || n < 1 || n > len(lines) {
			continue
		}
		return clip(strings.TrimSpace(lines[n-1]))
	}
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			return clip(line)
		}
	}
	return ""
}

func clip(s string) string {
	if len(s) <= maxExcerpt {
		return s
	}
	cut := maxExcerpt
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

package curl

import (
	"fmt"
	"strings"
)

// quoteState tracks shell quoting while splitting a command line.
type quoteState struct {
	single bool
	double bool
	ansi   bool
	escape bool
}

func (q *quoteState) open() bool {
	return q.single || q.double || q.ansi
}

// splitTokens splits input the way a POSIX shell would for a single simple
// command: '...' is literal, "..." honours backslashes, $'...' decodes C
// escapes and a backslash-newline joins lines.
func splitTokens(input string) ([]string, error) {
	var (
		q       quoteState
		buf     strings.Builder
		out     []string
		pending bool
	)
	flush := func() {
		if buf.Len() > 0 || pending {
			out = append(out, buf.String())
		}
		buf.Reset()
		pending = false
	}

	rs := []rune(input)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case q.escape:
			q.escape = false
			if q.ansi {
				val, err := decodeEscape(rs, &i)
				if err != nil {
					return nil, err
				}
				buf.WriteRune(val)
				continue
			}
			if r == '\n' {
				continue
			}
			if r == '\r' {
				if i+1 < len(rs) && rs[i+1] == '\n' {
					i++
				}
				continue
			}
			if q.double && !strings.ContainsRune(`"\$`+"`", r) {
				buf.WriteRune('\\')
			}
			buf.WriteRune(r)
		case q.ansi:
			switch r {
			case '\\':
				q.escape = true
			case '\'':
				q.ansi = false
			default:
				buf.WriteRune(r)
			}
		case q.single:
			if r == '\'' {
				q.single = false
				continue
			}
			buf.WriteRune(r)
		case r == '\\':
			q.escape = true
		case r == '"':
			q.double = !q.double
			pending = true
		case q.double:
			buf.WriteRune(r)
		case r == '\'':
			q.single = true
			pending = true
		case r == '$' && i+1 < len(rs) && rs[i+1] == '\'':
			q.ansi = true
			pending = true
			i++
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			buf.WriteRune(r)
		}
	}

	if q.escape {
		return nil, fmt.Errorf("unterminated escape sequence")
	}
	if q.open() {
		return nil, fmt.Errorf("unterminated quoted string")
	}
	flush()
	return out, nil
}

func decodeEscape(rs []rune, i *int) (rune, error) {
	switch r := rs[*i]; r {
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 't':
		return '\t', nil
	case 'x':
		return readHex(rs, i, 2)
	case 'u':
		return readHex(rs, i, 4)
	default:
		return r, nil
	}
}

func readHex(rs []rune, i *int, n int) (rune, error) {
	if *i+n >= len(rs) {
		return 0, fmt.Errorf("invalid hex escape")
	}
	val := 0
	for j := 1; j <= n; j++ {
		r := rs[*i+j]
		var d int
		switch {
		case r >= '0' && r <= '9':
			d = int(r - '0')
		case r >= 'a' && r <= 'f':
			d = int(r-'a') + 10
		case r >= 'A' && r <= 'F':
			d = int(r-'A') + 10
		default:
			return 0, fmt.Errorf("invalid hex escape")
		}
		val = val*16 + d
	}
	*i += n
	return rune(val), nil
}

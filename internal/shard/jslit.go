package shard

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// jsParser reads the JavaScript literal subset Doxygen emits for its search
// index: arrays, objects, quoted strings, numbers and the keywords true,
// false and null. Values decode to []any, map[string]any, string, float64,
// bool and nil.
type jsParser struct {
	src string
	pos int
}

// parseJSAssignment parses `var name = <literal>;` and returns the name and
// the decoded literal. Leading comments and whitespace are skipped.
func parseJSAssignment(src string) (string, any, error) {
	p := &jsParser{src: src}
	p.skip()
	if !p.consumeWord("var") && !p.consumeWord("let") && !p.consumeWord("const") {
		return "", nil, p.errorf("expected variable declaration")
	}
	p.skip()
	name := p.ident()
	if name == "" {
		return "", nil, p.errorf("expected identifier")
	}
	p.skip()
	if !p.consume('=') {
		return "", nil, p.errorf("expected '='")
	}
	v, err := p.value()
	if err != nil {
		return "", nil, err
	}
	p.skip()
	p.consume(';')
	return name, v, nil
}

func (p *jsParser) errorf(format string, args ...any) error {
	return fmt.Errorf("offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *jsParser) skip() {
	for p.pos < len(p.src) {
		switch c := p.src[p.pos]; {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			p.pos++
		case strings.HasPrefix(p.src[p.pos:], "//"):
			if i := strings.IndexByte(p.src[p.pos:], '\n'); i >= 0 {
				p.pos += i + 1
			} else {
				p.pos = len(p.src)
			}
		case strings.HasPrefix(p.src[p.pos:], "/*"):
			if i := strings.Index(p.src[p.pos+2:], "*/"); i >= 0 {
				p.pos += i + 4
			} else {
				p.pos = len(p.src)
			}
		default:
			return
		}
	}
}

func (p *jsParser) consume(c byte) bool {
	p.skip()
	if p.pos < len(p.src) && p.src[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *jsParser) consumeWord(w string) bool {
	if !strings.HasPrefix(p.src[p.pos:], w) {
		return false
	}
	end := p.pos + len(w)
	if end < len(p.src) && isIdentByte(p.src[end]) {
		return false
	}
	p.pos = end
	return true
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func (p *jsParser) ident() string {
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *jsParser) value() (any, error) {
	p.skip()
	if p.pos >= len(p.src) {
		return nil, p.errorf("unexpected end of input")
	}
	switch c := p.src[p.pos]; {
	case c == '[':
		return p.array()
	case c == '{':
		return p.object()
	case c == '\'' || c == '"':
		return p.str()
	case c == '-' || c == '+' || c == '.' || ('0' <= c && c <= '9'):
		return p.number()
	case p.consumeWord("true"):
		return true, nil
	case p.consumeWord("false"):
		return false, nil
	case p.consumeWord("null"):
		return nil, nil
	}
	return nil, p.errorf("unexpected character %q", p.src[p.pos])
}

func (p *jsParser) array() ([]any, error) {
	p.pos++
	var out []any
	for {
		if p.consume(']') {
			return out, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		if p.consume(',') {
			continue
		}
		if p.consume(']') {
			return out, nil
		}
		return nil, p.errorf("expected ',' or ']' in array")
	}
}

func (p *jsParser) object() (map[string]any, error) {
	p.pos++
	out := make(map[string]any)
	for {
		if p.consume('}') {
			return out, nil
		}
		p.skip()
		var key string
		if p.pos < len(p.src) && (p.src[p.pos] == '\'' || p.src[p.pos] == '"') {
			s, err := p.str()
			if err != nil {
				return nil, err
			}
			key = s
		} else {
			key = p.ident()
		}
		if key == "" {
			return nil, p.errorf("expected object key")
		}
		if !p.consume(':') {
			return nil, p.errorf("expected ':' after key %q", key)
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out[key] = v
		if p.consume(',') {
			continue
		}
		if p.consume('}') {
			return out, nil
		}
		return nil, p.errorf("expected ',' or '}' in object")
	}
}

func (p *jsParser) number() (float64, error) {
	start := p.pos
	for p.pos < len(p.src) && strings.IndexByte("+-.0123456789eExX", p.src[p.pos]) >= 0 {
		p.pos++
	}
	f, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return 0, p.errorf("bad number %q", p.src[start:p.pos])
	}
	return f, nil
}

func (p *jsParser) str() (string, error) {
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == quote:
			p.pos++
			return b.String(), nil
		case c == '\n':
			return "", p.errorf("newline in string literal")
		case c != '\\':
			b.WriteByte(c)
			p.pos++
			continue
		}
		p.pos++
		if p.pos >= len(p.src) {
			break
		}
		esc := p.src[p.pos]
		p.pos++
		switch esc {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case '0':
			b.WriteByte(0)
		case 'x':
			r, err := p.hexRune(2)
			if err != nil {
				return "", err
			}
			b.WriteRune(r)
		case 'u':
			r, err := p.hexRune(4)
			if err != nil {
				return "", err
			}
			if utf8.ValidRune(r) {
				b.WriteRune(r)
			} else {
				b.WriteRune(utf8.RuneError)
			}
		case '\n':
		default:
			b.WriteByte(esc)
		}
	}
	return "", p.errorf("unterminated string literal")
}

func (p *jsParser) hexRune(n int) (rune, error) {
	if p.pos+n > len(p.src) {
		return 0, p.errorf("short escape sequence")
	}
	v, err := strconv.ParseUint(p.src[p.pos:p.pos+n], 16, 32)
	if err != nil {
		return 0, p.errorf("bad escape sequence %q", p.src[p.pos:p.pos+n])
	}
	p.pos += n
	return rune(v), nil
}

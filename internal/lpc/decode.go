package lpc

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// DecodeError reports a parse failure with the byte offset where it occurred.
type DecodeError struct {
	Pos int
	Msg string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("lpc: %s at position %d", e.Msg, e.Pos)
}

// Decode parses the first LPC value from data. Trailing bytes after the
// value are ignored; MudMode framing delivers exact-length payloads so in
// practice there are none. One trailing NUL is stripped before parsing, a
// quirk of some router implementations.
func Decode(data []byte) (Value, error) {
	if n := len(data); n > 0 && data[n-1] == 0 {
		data = data[:n-1]
	}
	if !utf8.Valid(data) {
		return nil, &DecodeError{Pos: 0, Msg: "invalid UTF-8 input"}
	}
	p := &parser{data: data}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	return v, nil
}

type parser struct {
	data []byte
	pos  int
}

func (p *parser) errf(format string, args ...interface{}) error {
	return &DecodeError{Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.data) {
		switch p.data[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) peek() (byte, error) {
	if p.pos >= len(p.data) {
		return 0, p.errf("unexpected end of input")
	}
	return p.data[p.pos], nil
}

// expect consumes c or fails.
func (p *parser) expect(c byte) error {
	b, err := p.peek()
	if err != nil {
		return err
	}
	if b != c {
		return p.errf("expected %q, found %q", c, b)
	}
	p.pos++
	return nil
}

func (p *parser) value() (Value, error) {
	p.skipSpace()
	b, err := p.peek()
	if err != nil {
		return nil, err
	}
	switch {
	case b == '"':
		return p.str()
	case b == '(':
		return p.container()
	case b == '-' || (b >= '0' && b <= '9'):
		return p.number()
	default:
		return nil, p.errf("unexpected character %q", b)
	}
}

func (p *parser) number() (Value, error) {
	start := p.pos
	if p.data[p.pos] == '-' {
		p.pos++
	}
	isFloat := false
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if c >= '0' && c <= '9' {
			p.pos++
		} else if c == '.' && !isFloat {
			isFloat = true
			p.pos++
		} else {
			break
		}
	}
	text := string(p.data[start:p.pos])
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			p.pos = start
			return nil, p.errf("malformed float %q", text)
		}
		return Float(f), nil
	}
	n, err := strconv.ParseInt(text, 10, 32)
	if err != nil {
		p.pos = start
		return nil, p.errf("malformed integer %q", text)
	}
	return Int(n), nil
}

func (p *parser) str() (Value, error) {
	p.pos++ // opening quote
	var out []byte
	for {
		if p.pos >= len(p.data) {
			return nil, p.errf("unterminated string")
		}
		c := p.data[p.pos]
		switch c {
		case '"':
			p.pos++
			return Str(out), nil
		case '\\':
			p.pos++
			if p.pos >= len(p.data) {
				return nil, p.errf("unterminated escape")
			}
			switch p.data[p.pos] {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case 'r':
				out = append(out, '\r')
			default:
				// Unknown escapes pass the character through, which also
				// covers \\ and \".
				out = append(out, p.data[p.pos])
			}
			p.pos++
		default:
			out = append(out, c)
			p.pos++
		}
	}
}

// container parses ({...}) arrays and ([...]) mappings, branching on the
// character after the opening parenthesis.
func (p *parser) container() (Value, error) {
	p.pos++ // '('
	b, err := p.peek()
	if err != nil {
		return nil, err
	}
	switch b {
	case '{':
		p.pos++
		return p.array()
	case '[':
		p.pos++
		return p.mapping()
	default:
		return nil, p.errf("expected '{' or '[' after '(', found %q", b)
	}
}

func (p *parser) array() (Value, error) {
	arr := Array{}
	for {
		p.skipSpace()
		b, err := p.peek()
		if err != nil {
			return nil, err
		}
		if b == '}' {
			p.pos++
			return arr, p.expect(')')
		}
		elem, err := p.value()
		if err != nil {
			return nil, err
		}
		arr = append(arr, elem)
		p.skipSpace()
		b, err = p.peek()
		if err != nil {
			return nil, err
		}
		if b == ',' {
			p.pos++
		} else if b != '}' {
			return nil, p.errf("expected ',' or '}' in array, found %q", b)
		}
	}
}

func (p *parser) mapping() (Value, error) {
	m := Mapping{}
	for {
		p.skipSpace()
		b, err := p.peek()
		if err != nil {
			return nil, err
		}
		if b == ']' {
			p.pos++
			return m, p.expect(')')
		}
		key, err := p.value()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		m = append(m, Pair{Key: key, Val: val})
		p.skipSpace()
		b, err = p.peek()
		if err != nil {
			return nil, err
		}
		if b == ',' {
			p.pos++
		} else if b != ']' {
			return nil, p.errf("expected ',' or ']' in mapping, found %q", b)
		}
	}
}

package watermark

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

type operandKind int

const (
	kindNumber operandKind = iota
	kindName
	kindString
	kindArray
	kindDict
	kindLiteral // true, false, null
)

type operand struct {
	kind  operandKind
	num   float64
	bytes []byte // name (decoded) or string contents
	items []operand
}

// op is one content-stream operator with its operands. [start,end) spans
// the operands and the operator keyword in the source buffer.
type op struct {
	name  string
	args  []operand
	start int
	end   int
}

var errUnterminated = errors.New("unterminated content token")

func isWhite(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isRegular(c byte) bool { return !isWhite(c) && !isDelim(c) }

type lexer struct {
	data []byte
	pos  int
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isWhite(c) {
			l.pos++
			continue
		}
		if c == '%' {
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		return
	}
}

// parseContent splits a decoded content stream into operators.
func parseContent(data []byte) ([]op, error) {
	l := &lexer{data: data}
	var ops []op
	var args []operand
	argStart := -1

	for {
		l.skipSpace()
		if l.pos >= len(l.data) {
			return ops, nil
		}
		tokStart := l.pos
		c := l.data[l.pos]

		if isRegular(c) && !isNumberStart(c) {
			word := l.readRegular()
			switch word {
			case "true", "false", "null":
				if argStart < 0 {
					argStart = tokStart
				}
				args = append(args, operand{kind: kindLiteral, bytes: []byte(word)})
				continue
			}
			start := tokStart
			if argStart >= 0 {
				start = argStart
			}
			if word == "BI" {
				end, err := l.skipInlineImage()
				if err != nil {
					return ops, err
				}
				ops = append(ops, op{name: "BI", start: start, end: end})
			} else {
				ops = append(ops, op{name: word, args: args, start: start, end: l.pos})
			}
			args = nil
			argStart = -1
			continue
		}

		v, err := l.readOperand()
		if err != nil {
			return ops, err
		}
		if argStart < 0 {
			argStart = tokStart
		}
		args = append(args, v)
	}
}

func isNumberStart(c byte) bool {
	return (c >= '0' && c <= '9') || c == '+' || c == '-' || c == '.'
}

func (l *lexer) readRegular() string {
	start := l.pos
	for l.pos < len(l.data) && isRegular(l.data[l.pos]) {
		l.pos++
	}
	return string(l.data[start:l.pos])
}

func (l *lexer) readOperand() (operand, error) {
	c := l.data[l.pos]
	switch {
	case isNumberStart(c):
		word := l.readRegular()
		f, err := strconv.ParseFloat(word, 64)
		if err != nil {
			// Malformed numbers such as "--5" or "1.2.3" read as zero.
			f = 0
		}
		return operand{kind: kindNumber, num: f}, nil
	case c == '/':
		l.pos++
		return operand{kind: kindName, bytes: decodeName(l.readRegular())}, nil
	case c == '(':
		s, err := l.readLiteralString()
		return operand{kind: kindString, bytes: s}, err
	case c == '<':
		if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
			l.pos += 2
			items, err := l.readUntil(">>")
			return operand{kind: kindDict, items: items}, err
		}
		s, err := l.readHexString()
		return operand{kind: kindString, bytes: s}, err
	case c == '[':
		l.pos++
		items, err := l.readUntil("]")
		return operand{kind: kindArray, items: items}, err
	case isRegular(c):
		word := l.readRegular()
		return operand{kind: kindLiteral, bytes: []byte(word)}, nil
	default:
		// Stray delimiter: consume it so parsing always advances.
		l.pos++
		return operand{kind: kindLiteral, bytes: []byte{c}}, nil
	}
}

func (l *lexer) readUntil(closer string) ([]operand, error) {
	var items []operand
	for {
		l.skipSpace()
		if l.pos >= len(l.data) {
			return items, errUnterminated
		}
		if bytes.HasPrefix(l.data[l.pos:], []byte(closer)) {
			l.pos += len(closer)
			return items, nil
		}
		v, err := l.readOperand()
		if err != nil {
			return items, err
		}
		items = append(items, v)
	}
}

func (l *lexer) readLiteralString() ([]byte, error) {
	l.pos++ // (
	var out []byte
	depth := 1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out, nil
			}
			out = append(out, c)
		case '\\':
			if l.pos >= len(l.data) {
				return out, errUnterminated
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if l.pos < len(l.data) && l.data[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && l.pos < len(l.data); i++ {
						d := l.data[l.pos]
						if d < '0' || d > '7' {
							break
						}
						v = v*8 + int(d-'0')
						l.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		default:
			out = append(out, c)
		}
	}
	return out, errUnterminated
}

func (l *lexer) readHexString() ([]byte, error) {
	l.pos++ // <
	var digits []byte
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		if c == '>' {
			if len(digits)%2 == 1 {
				digits = append(digits, '0')
			}
			out := make([]byte, len(digits)/2)
			for i := range out {
				out[i] = unhex(digits[2*i])<<4 | unhex(digits[2*i+1])
			}
			return out, nil
		}
		if isWhite(c) {
			continue
		}
		digits = append(digits, c)
	}
	return nil, errUnterminated
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

func decodeName(raw string) []byte {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] == '#' && i+2 < len(raw) {
			out = append(out, unhex(raw[i+1])<<4|unhex(raw[i+2]))
			i += 2
			continue
		}
		out = append(out, raw[i])
	}
	return out
}

// skipInlineImage consumes "... ID <data> EI" after a BI keyword and
// returns the offset just past EI.
func (l *lexer) skipInlineImage() (int, error) {
	for {
		l.skipSpace()
		if l.pos >= len(l.data) {
			return l.pos, fmt.Errorf("inline image: %w", errUnterminated)
		}
		if isRegular(l.data[l.pos]) && !isNumberStart(l.data[l.pos]) {
			if l.readRegular() == "ID" {
				break
			}
			continue
		}
		if _, err := l.readOperand(); err != nil {
			return l.pos, err
		}
	}
	// One whitespace byte separates ID from the data.
	if l.pos < len(l.data) && isWhite(l.data[l.pos]) {
		l.pos++
	}
	for i := l.pos; i+1 < len(l.data); i++ {
		if l.data[i] != 'E' || l.data[i+1] != 'I' {
			continue
		}
		if i > 0 && !isWhite(l.data[i-1]) {
			continue
		}
		if i+2 < len(l.data) && !isWhite(l.data[i+2]) && !isDelim(l.data[i+2]) {
			continue
		}
		l.pos = i + 2
		return l.pos, nil
	}
	return len(l.data), fmt.Errorf("inline image: %w", errUnterminated)
}

func (o operand) name() (string, bool) {
	if o.kind != kindName {
		return "", false
	}
	return string(o.bytes), true
}

func (o operand) number() (float64, bool) {
	if o.kind != kindNumber {
		return 0, false
	}
	return o.num, true
}

func numbers(args []operand, n int) ([]float64, bool) {
	if len(args) < n {
		return nil, false
	}
	out := make([]float64, n)
	for i, a := range args[len(args)-n:] {
		v, ok := a.number()
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

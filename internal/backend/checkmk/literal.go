// internal/backend/checkmk/literal.go - Parser for the view API's Python-literal payload
package checkmk

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// The view API with output_format=python answers with a Python literal: a list
// of rows, each row a list/tuple of strings (occasionally numbers or booleans).
// Only that literal subset is parsed here, by hand; the payload is never
// evaluated as code.

type literalParser struct {
	input string
	pos   int
}

// parseLiteral parses one complete literal value and requires the input to be
// fully consumed apart from trailing whitespace.
func parseLiteral(input string) (interface{}, error) {
	p := &literalParser{input: input}
	value, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("trailing data at offset %d", p.pos)
	}
	return value, nil
}

// parseRows narrows a parsed literal to the row structure the view API emits.
func parseRows(input string) ([][]string, error) {
	value, err := parseLiteral(input)
	if err != nil {
		return nil, err
	}

	outer, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("payload is not a list of rows")
	}

	rows := make([][]string, 0, len(outer))
	for i, rawRow := range outer {
		cells, ok := rawRow.([]interface{})
		if !ok {
			return nil, fmt.Errorf("row %d is not a list", i)
		}
		row := make([]string, len(cells))
		for j, cell := range cells {
			row[j] = cellString(cell)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func cellString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		// the web API encodes flags as yes/no strings elsewhere
		if v {
			return "yes"
		}
		return "no"
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (p *literalParser) parseValue() (interface{}, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("unexpected end of input")
	}

	switch c := p.input[p.pos]; {
	case c == '[':
		return p.parseSequence('[', ']')
	case c == '(':
		return p.parseSequence('(', ')')
	case c == '\'' || c == '"':
		return p.parseString()
	case c == 'u' && p.pos+1 < len(p.input) && (p.input[p.pos+1] == '\'' || p.input[p.pos+1] == '"'):
		p.pos++
		return p.parseString()
	case c == 'T' && strings.HasPrefix(p.input[p.pos:], "True"):
		p.pos += 4
		return true, nil
	case c == 'F' && strings.HasPrefix(p.input[p.pos:], "False"):
		p.pos += 5
		return false, nil
	case c == 'N' && strings.HasPrefix(p.input[p.pos:], "None"):
		p.pos += 4
		return nil, nil
	case c == '-' || unicode.IsDigit(rune(c)):
		return p.parseNumber()
	default:
		return nil, fmt.Errorf("unexpected character %q at offset %d", c, p.pos)
	}
}

func (p *literalParser) parseSequence(open, close byte) (interface{}, error) {
	p.pos++ // consume opening bracket

	var items []interface{}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return nil, fmt.Errorf("unterminated sequence, expected %q", close)
		}
		if p.input[p.pos] == close {
			p.pos++
			return items, nil
		}

		item, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		items = append(items, item)

		p.skipSpace()
		if p.pos < len(p.input) && p.input[p.pos] == ',' {
			p.pos++
			continue
		}
		if p.pos < len(p.input) && p.input[p.pos] == close {
			p.pos++
			return items, nil
		}
		return nil, fmt.Errorf("expected ',' or %q at offset %d", close, p.pos)
	}
}

func (p *literalParser) parseString() (interface{}, error) {
	quote := p.input[p.pos]
	p.pos++

	var sb strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch c {
		case quote:
			p.pos++
			return sb.String(), nil
		case '\\':
			p.pos++
			if p.pos >= len(p.input) {
				return nil, fmt.Errorf("unterminated escape sequence")
			}
			switch esc := p.input[p.pos]; esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'x':
				if p.pos+2 >= len(p.input) {
					return nil, fmt.Errorf("truncated \\x escape")
				}
				n, err := strconv.ParseUint(p.input[p.pos+1:p.pos+3], 16, 8)
				if err != nil {
					return nil, fmt.Errorf("invalid \\x escape: %w", err)
				}
				sb.WriteByte(byte(n))
				p.pos += 2
			default:
				sb.WriteByte(esc)
			}
			p.pos++
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return nil, fmt.Errorf("unterminated string")
}

func (p *literalParser) parseNumber() (interface{}, error) {
	start := p.pos
	if p.input[p.pos] == '-' {
		p.pos++
	}
	isFloat := false
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if unicode.IsDigit(rune(c)) {
			p.pos++
			continue
		}
		if c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-' {
			// exponent signs only valid within a float literal
			if c == '.' || c == 'e' || c == 'E' {
				isFloat = true
			}
			if (c == '+' || c == '-') && !isFloat {
				break
			}
			p.pos++
			continue
		}
		break
	}

	text := p.input[start:p.pos]
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", text, err)
		}
		return f, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", text, err)
	}
	return n, nil
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.input) {
		switch p.input[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

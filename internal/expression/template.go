// internal/expression/template.go
package expression

import "strings"

type part struct {
	text string
	expr bool
}

func hasExpression(parts []part) bool {
	for _, p := range parts {
		if p.expr {
			return true
		}
	}
	return false
}

// splitTemplate cuts s into literal and expression parts. Braces nested
// inside an expression and quoted strings do not end it, so
// "${ {'a': 1}.a }" and "${ '}' }" are single expressions. An unterminated
// opener is kept as literal text.
func splitTemplate(s, open, close string) []part {
	var parts []part
	rest := s
	for {
		i := strings.Index(rest, open)
		if i < 0 {
			break
		}
		body := rest[i+len(open):]
		end := findClose(body, close)
		if end < 0 {
			break
		}
		if i > 0 {
			parts = append(parts, part{text: rest[:i]})
		}
		parts = append(parts, part{text: body[:end], expr: true})
		rest = body[end+len(close):]
	}
	if rest != "" {
		parts = append(parts, part{text: rest})
	}
	return parts
}

func findClose(body, close string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(body); i++ {
		c := body[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch {
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case c == '{':
			depth++
		case c == '}' && depth > 0:
			depth--
		case depth == 0 && strings.HasPrefix(body[i:], close):
			return i
		}
	}
	return -1
}

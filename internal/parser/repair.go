package parser

import (
	"encoding/json"
	"strings"
)

// Repair applies targeted fixes for truncated model output. A string cut
// mid-way (usually "reasoning") is closed before the open structures are.
// When that still leaves a dangling key or literal, the last incomplete
// member is dropped instead.
func Repair(input string) string {
	text := dropTrailingCommas(strings.TrimSpace(input))
	fixed := closeTruncated(text)
	if json.Valid([]byte(fixed)) {
		return fixed
	}
	cuts := memberBoundaries(text)
	for i := len(cuts) - 1; i >= 0; i-- {
		if candidate := closeTruncated(text[:cuts[i]]); json.Valid([]byte(candidate)) {
			return candidate
		}
	}
	return fixed
}

// closeTruncated closes an open string, completes a bare "key": with null
// and appends the closers of every open object or array.
func closeTruncated(text string) string {
	text = closeOpenString(text)
	text = strings.TrimRight(text, " \t\r\n,")
	if strings.HasSuffix(text, ":") {
		text += "null"
	}
	return dropTrailingCommas(closeStructures(text))
}

// closeOpenString appends a quote when the text ends inside a string. An
// escape sequence cut short (`\` or `\u00`) is removed first.
func closeOpenString(input string) string {
	inStr := false
	escStart := -1
	hex := 0
	for i := 0; i < len(input); i++ {
		c := input[i]
		if escStart >= 0 {
			switch {
			case hex > 0:
				hex--
				if hex == 0 {
					escStart = -1
				}
			case c == 'u' && i == escStart+1:
				hex = 4
			default:
				escStart = -1
			}
			continue
		}
		switch c {
		case '\\':
			if inStr {
				escStart = i
			}
		case '"':
			inStr = !inStr
		}
	}
	if !inStr {
		return input
	}
	if escStart >= 0 {
		input = input[:escStart]
	}
	return input + `"`
}

// scanJSON calls visit for every byte outside of string literals, and for
// the opening quote of each string.
func scanJSON(input string, visit func(i int, c byte)) {
	inStr := false
	esc := false
	for i := 0; i < len(input); i++ {
		c := input[i]
		if esc {
			esc = false
			continue
		}
		if inStr {
			switch c {
			case '\\':
				esc = true
			case '"':
				inStr = false
			}
			continue
		}
		if c == '"' {
			inStr = true
		}
		visit(i, c)
	}
}

// closeStructures appends the closers for every object or array still open
// outside of strings, innermost first.
func closeStructures(input string) string {
	var stack []byte
	scanJSON(input, func(_ int, c byte) {
		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	})
	if len(stack) == 0 {
		return input
	}
	var b strings.Builder
	b.Grow(len(input) + len(stack))
	b.WriteString(input)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// dropTrailingCommas removes a comma that directly precedes a closing brace
// or bracket. Commas inside strings are kept.
func dropTrailingCommas(input string) string {
	var drop []int
	comma := -1
	scanJSON(input, func(i int, c byte) {
		switch c {
		case ',':
			comma = i
		case '}', ']':
			if comma >= 0 {
				drop = append(drop, comma)
			}
			comma = -1
		case ' ', '\t', '\r', '\n':
		default:
			comma = -1
		}
	})
	if len(drop) == 0 {
		return input
	}
	var b strings.Builder
	b.Grow(len(input))
	last := 0
	for _, i := range drop {
		b.WriteString(input[last:i])
		last = i + 1
	}
	b.WriteString(input[last:])
	return b.String()
}

// memberBoundaries lists the offsets where the text can be cut to drop a
// trailing member: before each comma and after each opening brace or bracket.
func memberBoundaries(input string) []int {
	var cuts []int
	scanJSON(input, func(i int, c byte) {
		switch c {
		case ',':
			cuts = append(cuts, i)
		case '{', '[':
			cuts = append(cuts, i+1)
		}
	})
	return cuts
}

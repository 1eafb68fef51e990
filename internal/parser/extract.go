package parser

import "strings"

// StripFences removes a leading ``` / ```json fence and a trailing ``` fence.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// drop the language tag on the fence line
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			tag := strings.TrimSpace(text[:nl])
			if tag == "" || isFenceTag(tag) {
				text = text[nl+1:]
			}
		} else {
			text = strings.TrimPrefix(text, "json")
		}
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func isFenceTag(tag string) bool {
	for _, r := range tag {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// extractObject returns the first balanced JSON object in text. When the
// object never closes (truncated output) the tail from its opening brace is
// returned so repair can finish it.
func extractObject(text string) string {
	depth := 0
	start := -1
	inStr := false
	esc := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if esc {
			esc = false
			continue
		}
		switch ch {
		case '\\':
			if inStr {
				esc = true
			}
		case '"':
			if start != -1 {
				inStr = !inStr
			}
		case '{':
			if !inStr {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inStr && depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return text[start : i+1]
				}
			}
		}
	}
	if start != -1 {
		return text[start:]
	}
	return text
}

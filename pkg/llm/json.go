package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// thinkTagPattern matches <think>...</think> blocks some models prepend.
var thinkTagPattern = regexp.MustCompile(`(?s)\s*<think>.*?</think>\s*`)

// fencePattern matches markdown code fences with an optional language tag.
var fencePattern = regexp.MustCompile("(?s)```(?:json|javascript)?\\s*(.*?)```")

// pythonBoolPattern matches language-literal booleans/None appearing as
// bare JSON values (": True", "[None," etc.).
var pythonBoolPattern = regexp.MustCompile(`([:\[,]\s*)(True|False|None)([\s,\]}])`)

// nativeWrapperPattern strips ObjectId("...")/ISODate("...")/Date("...")
// wrappers down to the quoted literal inside.
var nativeWrapperPattern = regexp.MustCompile(`(?:new\s+)?(?:ObjectId|ISODate|Date|NumberLong|NumberInt)\(\s*("(?:[^"\\]|\\.)*")\s*\)`)

// Sanitize normalizes an oracle reply so that the JSON payload inside it can
// be parsed: fences are unwrapped, think-tags removed, language-literal
// booleans and native type wrappers rewritten.
func Sanitize(response string) string {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")
	if m := fencePattern.FindStringSubmatch(cleaned); len(m) == 2 {
		cleaned = m[1]
	}
	cleaned = nativeWrapperPattern.ReplaceAllString(cleaned, "$1")
	cleaned = pythonBoolPattern.ReplaceAllStringFunc(cleaned, func(s string) string {
		s = strings.Replace(s, "True", "true", 1)
		s = strings.Replace(s, "False", "false", 1)
		s = strings.Replace(s, "None", "null", 1)
		return s
	})
	return strings.TrimSpace(cleaned)
}

// ExtractJSON pulls the first balanced JSON object or array out of a
// sanitized oracle reply.
func ExtractJSON(response string) (string, error) {
	cleaned := Sanitize(response)

	objStart := strings.IndexByte(cleaned, '{')
	arrStart := strings.IndexByte(cleaned, '[')

	if objStart >= 0 && (arrStart < 0 || objStart < arrStart) {
		if jsonStr, ok := extractBalanced(cleaned, '{', '}'); ok && json.Valid([]byte(jsonStr)) {
			return jsonStr, nil
		}
	}
	if arrStart >= 0 {
		if jsonStr, ok := extractBalanced(cleaned, '[', ']'); ok && json.Valid([]byte(jsonStr)) {
			return jsonStr, nil
		}
	}
	if json.Valid([]byte(cleaned)) {
		return cleaned, nil
	}

	return "", fmt.Errorf("no valid JSON found in response")
}

// extractBalanced finds the first balanced structure opened by openChar,
// tracking string literals and escapes.
func extractBalanced(s string, openChar, closeChar byte) (string, bool) {
	start := strings.IndexByte(s, openChar)
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if c == openChar {
			depth++
		} else if c == closeChar {
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}

// ParseJSONResponse extracts JSON from an oracle reply and unmarshals it.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return result, nil
}

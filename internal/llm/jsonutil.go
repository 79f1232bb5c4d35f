package llm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fentz26/cropcare/internal/models"
)

// ExtractJSON locates the first balanced JSON object or array in an LLM
// response, strips comments and trailing commas, and returns it. Surrounding
// prose and markdown fences are dropped. When several balanced candidates
// exist, the first one that parses wins; otherwise the first candidate is
// returned so the caller's decode reports the error. Returns "" when there is
// no balanced candidate at all.
func ExtractJSON(content string) string {
	valid, first := candidates(content)
	if len(valid) > 0 {
		return valid[0]
	}
	return first
}

// Decode extracts JSON from content and unmarshals it into v, which must be a
// non-nil pointer. Candidates are tried in order and the first one that fits
// v's type wins, so a bracketed fragment in leading prose does not shadow the
// real payload. Every failure wraps models.ErrGenerationMalformed.
func Decode(content string, v any) error {
	valid, first := candidates(content)
	if len(valid) == 0 {
		if first == "" {
			return fmt.Errorf("%w: no JSON value in response", models.ErrGenerationMalformed)
		}
		valid = []string{first}
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: decode target must be a non-nil pointer", models.ErrGenerationMalformed)
	}

	var lastErr error
	for _, raw := range valid {
		// Decode into a fresh value so a failed candidate leaves v untouched.
		fresh := reflect.New(rv.Elem().Type())
		if err := json.Unmarshal([]byte(raw), fresh.Interface()); err != nil {
			lastErr = err
			continue
		}
		rv.Elem().Set(fresh.Elem())
		return nil
	}
	return fmt.Errorf("%w: %v", models.ErrGenerationMalformed, lastErr)
}

// candidates returns the cleaned balanced segments of content that are valid
// JSON, in order, plus the first cleaned segment regardless of validity.
func candidates(content string) (valid []string, first string) {
	for start := 0; start < len(content); {
		i := strings.IndexAny(content[start:], "{[")
		if i < 0 {
			break
		}
		i += start

		seg, ok := balancedSegment(content, i)
		if !ok {
			start = i + 1
			continue
		}
		cleaned := cleanJSON(seg)
		if first == "" {
			first = cleaned
		}
		if json.Valid([]byte(cleaned)) {
			valid = append(valid, cleaned)
			start = i + len(seg)
			continue
		}
		start = i + 1
	}
	return valid, first
}

// balancedSegment returns content[start:end] where end closes the bracket
// opened at start. Brackets inside strings and comments are ignored.
func balancedSegment(content string, start int) (string, bool) {
	var stack []byte
	inString := false
	escaped := false

	for i := start; i < len(content); i++ {
		ch := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '/':
			if skip := commentLen(content, i); skip > 0 {
				i += skip - 1
			}
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return content[start : i+1], true
			}
		}
	}
	return "", false
}

// commentLen returns the byte length of a // or /* */ comment starting at i,
// or 0 if none starts there. An unterminated block comment runs to the end.
func commentLen(s string, i int) int {
	if i+1 >= len(s) || s[i] != '/' {
		return 0
	}
	switch s[i+1] {
	case '/':
		end := strings.IndexByte(s[i:], '\n')
		if end < 0 {
			return len(s) - i
		}
		return end
	case '*':
		end := strings.Index(s[i+2:], "*/")
		if end < 0 {
			return len(s) - i
		}
		return end + 4
	}
	return 0
}

// cleanJSON removes JavaScript-style comments and trailing commas that LLMs
// commonly emit. String contents are left untouched.
func cleanJSON(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			b.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch {
		case ch == '"':
			inString = true
			b.WriteByte(ch)
		case ch == '/' && commentLen(raw, i) > 0:
			i += commentLen(raw, i) - 1
		case ch == ',' && closesNext(raw, i+1):
			// trailing comma
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// closesNext reports whether the next significant byte from i closes an
// object or array.
func closesNext(s string, i int) bool {
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			i++
		case '/':
			n := commentLen(s, i)
			if n == 0 {
				return false
			}
			i += n
		case '}', ']':
			return true
		default:
			return false
		}
	}
	return false
}

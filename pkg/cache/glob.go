package cache

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrBadPattern is returned for glob patterns Redis would not interpret as intended.
var ErrBadPattern = errors.New("invalid glob pattern")

// ValidatePattern reports whether pattern is a well formed Redis glob.
func ValidatePattern(pattern string) error {
	_, err := compileGlob(pattern)
	return err
}

// compileGlob translates a Redis KEYS/SCAN glob into a regular expression.
// Unlike path.Match, * and ? also match '/'.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	runes := []rune(pattern)
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '\\':
			if i+1 == len(runes) {
				return nil, fmt.Errorf("%w: trailing escape in %q", ErrBadPattern, pattern)
			}
			i++
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		case '[':
			end := i + 1
			for end < len(runes) && runes[end] != ']' {
				if runes[end] == '\\' {
					end++
				}
				end++
			}
			if end >= len(runes) {
				return nil, fmt.Errorf("%w: unterminated class in %q", ErrBadPattern, pattern)
			}
			class, err := globClass(runes[i+1 : end])
			if err != nil {
				return nil, fmt.Errorf("%w: %s in %q", ErrBadPattern, err, pattern)
			}
			b.WriteString(class)
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadPattern, err)
	}
	return re, nil
}

func globClass(body []rune) (string, error) {
	var b strings.Builder
	b.WriteString("[")
	if len(body) > 0 && body[0] == '^' {
		b.WriteString("^")
		body = body[1:]
	}
	if len(body) == 0 {
		return "", errors.New("empty class")
	}
	for i := 0; i < len(body); i++ {
		r := body[i]
		switch {
		case r == '\\' && i+1 < len(body):
			i++
			b.WriteString(`\` + string(body[i]))
		case r == '-' && i > 0 && i < len(body)-1:
			b.WriteRune('-')
		case r == '[' || r == ']' || r == '^' || r == '-' || r == '\\':
			b.WriteString(`\` + string(r))
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString("]")
	return b.String(), nil
}

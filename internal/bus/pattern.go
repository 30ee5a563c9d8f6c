package bus

import (
	"strings"

	"github.com/yanun0323/errors"

	"venuelink/pkg/exception"
)

// IsMatching reports whether topic matches pattern. '*' matches any run of
// characters within one dot-separated segment and '?' matches exactly one
// non-dot character.
func IsMatching(topic, pattern string) bool {
	return match(topic, pattern)
}

func match(topic, pattern string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			rest := pattern[1:]
			for i := 0; ; i++ {
				if match(topic[i:], rest) {
					return true
				}
				if i == len(topic) || topic[i] == '.' {
					return false
				}
			}
		case '?':
			if len(topic) == 0 || topic[0] == '.' {
				return false
			}
		default:
			if len(topic) == 0 || topic[0] != pattern[0] {
				return false
			}
		}
		topic = topic[1:]
		pattern = pattern[1:]
	}
	return len(topic) == 0
}

// ValidatePattern rejects empty patterns and empty segments.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return errors.Wrap(exception.ErrBusInvalidPattern, "empty pattern")
	}
	for segment := range strings.SplitSeq(pattern, ".") {
		if segment == "" {
			return errors.Wrap(exception.ErrBusInvalidPattern, "empty segment").With("pattern", pattern)
		}
	}
	return nil
}

func hasWildcard(pattern string) bool {
	return strings.ContainsAny(pattern, "*?")
}

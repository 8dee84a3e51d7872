package topic

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Separator delimits topic segments.
	Separator = "/"
	// SingleLevel matches exactly one segment.
	SingleLevel = "+"
	// MultiLevel matches zero or more segments.
	MultiLevel = "*"
	// MaxLen is the longest topic a subscriber may register.
	MaxLen = 50
)

var (
	// ErrEmptyTopic is returned when compiling an empty pattern
	ErrEmptyTopic = errors.New("topic cannot be empty")
	// ErrTopicTooLong is returned when a pattern exceeds the configured length limit
	ErrTopicTooLong = errors.New("topic too long")
)

// Tokenize splits a topic into its segments. Every separator delimits a segment, so
// "a//b" yields three segments with an empty one in the middle.
func Tokenize(topic string) []string {
	return strings.Split(topic, Separator)
}

// Pattern is a subscription topic compiled into its token sequence.
type Pattern struct {
	raw    string
	tokens []string
}

// Compile validates raw and tokenizes it. A maxLen of zero or less disables the length check.
func Compile(raw string, maxLen int) (Pattern, error) {
	if raw == "" {
		return Pattern{}, ErrEmptyTopic
	}
	if maxLen > 0 && len(raw) > maxLen {
		return Pattern{}, fmt.Errorf("%w: %d bytes, limit %d", ErrTopicTooLong, len(raw), maxLen)
	}
	return Pattern{raw: raw, tokens: Tokenize(raw)}, nil
}

// String returns the pattern as it was subscribed.
func (p Pattern) String() string {
	return p.raw
}

// Tokens returns a copy of the compiled token sequence.
func (p Pattern) Tokens() []string {
	return append([]string(nil), p.tokens...)
}

// HasWildcard reports whether any segment is "+" or "*".
func (p Pattern) HasWildcard() bool {
	for _, t := range p.tokens {
		if t == SingleLevel || t == MultiLevel {
			return true
		}
	}
	return false
}

// Matches reports whether the literal topic matches this pattern. The caller passes the topic
// in both forms so a fanout can tokenize once and test many patterns.
func (p Pattern) Matches(topic string, tokens []string) bool {
	if p.raw == topic {
		return true
	}
	return Match(p.tokens, tokens)
}

// Match evaluates pattern tokens against literal topic tokens, walking both left to right.
// Both sequences must be consumed at the same point for a match, except after a trailing "*".
func Match(pattern, literal []string) bool {
	pi, li := 0, 0
	for pi < len(pattern) && li < len(literal) {
		switch pattern[pi] {
		case MultiLevel:
			pi++
			if pi == len(pattern) {
				return true
			}
			next := pattern[pi]
			for li < len(literal) && literal[li] != next {
				li++
			}
			if li == len(literal) {
				return false
			}
		case SingleLevel:
		default:
			if pattern[pi] != literal[li] {
				return false
			}
		}
		pi++
		li++
	}
	return pi == len(pattern) && li == len(literal)
}

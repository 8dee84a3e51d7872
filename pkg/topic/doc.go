// Package topic tokenizes topic strings and matches them against subscription patterns.
//
// Topics and patterns are sequences of segments separated by "/". A pattern segment is one of:
//   - a literal, which must equal the topic segment at the same position
//   - "+", which consumes exactly one topic segment of any content
//   - "*", which consumes zero or more topic segments
//
// A trailing "*" matches everything that remains. A "*" in the middle of a pattern skips topic
// segments until one equals the pattern segment that follows the "*".
//
// Example usage:
//
//	p, err := topic.Compile("sensors/+/temp", topic.MaxLen)
//	if err != nil {
//		return err
//	}
//
//	p.Matches("sensors/room1/temp", topic.Tokenize("sensors/room1/temp"))       // true
//	p.Matches("sensors/a/b/temp", topic.Tokenize("sensors/a/b/temp"))           // false
//
// Patterns are tokenized once when compiled. The raw string is kept only as an equality fast
// path, the token form is what the matcher evaluates.
package topic

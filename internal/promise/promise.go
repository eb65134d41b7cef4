// Package promise implements the completion-marker protocol. A run's
// done-ness is never inferred from free prose: it is confirmed only by the
// literal substring <promise>MARKER</promise>, matched exactly and
// case-sensitively, with nothing else inside the tag. The marker appearing
// as bare prose, or as part of a longer token, does not count.
package promise

import (
	"regexp"
	"strings"
)

// Tag returns the exact delimited form the reasoning service must output
// to signal completion for the given marker.
func Tag(marker string) string {
	return "<promise>" + marker + "</promise>"
}

// Detected reports whether output contains the exact completion tag for
// marker. The check is a literal, case-sensitive substring match on the
// full delimited form; an empty marker never matches.
func Detected(output, marker string) bool {
	if marker == "" {
		return false
	}
	return strings.Contains(output, Tag(marker))
}

// tagPattern matches any promise tag and captures its inner text.
// Case-sensitive: only a lowercase <promise> tag is recognized.
var tagPattern = regexp.MustCompile(`(?s)<promise>(.*?)</promise>`)

// Extract returns the inner text of the first promise tag in output, or ""
// if no tag is present. The inner text is not trimmed or normalized, so
// callers can diagnose near-miss markers (wrong case, extra prose inside
// the tag) that Detected correctly rejects.
func Extract(output string) string {
	matches := tagPattern.FindStringSubmatch(output)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

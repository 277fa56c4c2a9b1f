package inference

import (
	"regexp"
	"strings"
)

var (
	urlPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s"'<>]+`)
	ipv4Pattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	// controlCharsPattern strips zero-width and control characters a model
	// could use to smuggle hidden instructions past naive string scans.
	controlCharsPattern = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F\x{200B}-\x{200F}\x{FEFF}]`)
)

const redactedPlaceholder = "[REDACTED]"

// SessionTag is the random, per-task instruction marker embedded in every
// system prompt sent to the gateway. It is never logged in plaintext; it
// exists only so outbound model text can be scanned for leakage of the
// instruction boundary itself.
type SessionTag string

// sanitizeOutput strips URLs and IP addresses from free-text model output and
// masks any leaked fragment of the session instruction tag. It is applied to
// every string field that crosses the gateway boundary from a model call.
func sanitizeOutput(text string, tag SessionTag) string {
	text = controlCharsPattern.ReplaceAllString(text, "")
	text = urlPattern.ReplaceAllString(text, redactedPlaceholder)
	text = ipv4Pattern.ReplaceAllString(text, redactedPlaceholder)
	text = maskLeakedTag(text, tag)
	return text
}

// maskLeakedTag detects the session tag (or a contiguous n-gram slice of it,
// length >= 8) appearing verbatim in model output — a sign the model echoed
// back part of its system instructions — and masks it.
func maskLeakedTag(text string, tag SessionTag) string {
	s := string(tag)
	if len(s) < 8 {
		return text
	}
	if strings.Contains(text, s) {
		return strings.ReplaceAll(text, s, redactedPlaceholder)
	}
	const minNgram = 8
	for n := len(s); n >= minNgram; n-- {
		for start := 0; start+n <= len(s); start++ {
			gram := s[start : start+n]
			if strings.Contains(text, gram) {
				return strings.ReplaceAll(text, gram, redactedPlaceholder)
			}
		}
	}
	return text
}

// sanitizePrompt scrubs operator-controlled passage text before it is
// embedded in a prompt, so a page cannot inject control characters that
// would otherwise be interpreted as formatting by the model.
func sanitizePrompt(text string) string {
	return controlCharsPattern.ReplaceAllString(text, "")
}

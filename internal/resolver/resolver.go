// Package resolver picks the account a mention asks the bot to analyze.
package resolver

import (
	"strings"
	"unicode"
)

const mentionSigil = "@"

// Resolve returns the first @handle in rawText that is not the bot itself.
// Tokens are whitespace separated and compared case-insensitively; trailing
// punctuation such as "@alice," is dropped. The handle keeps its original case.
func Resolve(rawText, botIdentity string) (string, bool) {
	bot := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(botIdentity), mentionSigil))

	for _, token := range strings.Fields(rawText) {
		if !strings.HasPrefix(token, mentionSigil) {
			continue
		}
		handle := trimHandle(strings.TrimPrefix(token, mentionSigil))
		if handle == "" || strings.ToLower(handle) == bot {
			continue
		}
		return handle, true
	}
	return "", false
}

// trimHandle cuts the token at the first rune that cannot appear in a handle
func trimHandle(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		return !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	if end < 0 {
		return s
	}
	return s[:end]
}

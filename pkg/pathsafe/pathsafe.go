// Package pathsafe sanitizes user-controlled names (channel names, producer
// display names) before they are used as path components on disk.
package pathsafe

import "strings"

const maxLen = 50

// Sanitize replaces every character outside [A-Za-z0-9_-] with '_' and
// truncates the result to 50 characters, matching the recording folder
// layout contract.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}

package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const truncationMarker = "[...earlier content truncated...]\n"

// TruncateTail keeps at most maxRunes from the end of s. Long prompts degrade
// generation quality, and the most recent narrative content matters most, so
// we always preserve the tail.
func TruncateTail(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return truncationMarker + string(runes[len(runes)-maxRunes:])
}

// TruncateHead keeps at most maxRunes from the start of s.
func TruncateHead(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}

func SHA256Hex(b []byte) string {
	x := sha256.Sum256(b)
	return hex.EncodeToString(x[:])
}

// JoinNonEmpty joins the non-blank parts with sep.
func JoinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

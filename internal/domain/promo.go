package domain

import (
	"regexp"
	"strings"
)

// placeholder values networks put in the code field when there is no code
var codeSentinels = map[string]bool{
	"":                 true,
	"-":                true,
	"--":               true,
	"n/a":              true,
	"na":               true,
	"none":             true,
	"null":             true,
	"nil":              true,
	"undefined":        true,
	"no code":          true,
	"nocode":           true,
	"no code required": true,
	"no code needed":   true,
	"no coupon code":   true,
	"no coupon needed": true,
	"not required":     true,
	"no promo code":    true,
	"automatic":        true,
	"auto applied":     true,
	"auto-applied":     true,
	"see site":         true,
	"see website":      true,
}

var codeInText = regexp.MustCompile(`(?i:code)\s*[:=]?\s*["'“]?([A-Z0-9][A-Z0-9_-]{2,29})\b`)

// IsRealCode reports whether a code field carries a redeemable code rather
// than a placeholder.
func IsRealCode(code string) bool {
	normalized := strings.ToLower(strings.Join(strings.Fields(code), " "))
	if codeSentinels[normalized] {
		return false
	}
	if strings.Contains(normalized, " ") {
		return false
	}
	return len(normalized) >= 3
}

// ExtractCode finds a code embedded in free text such as "use code SAVE20"
func ExtractCode(text string) string {
	for _, m := range codeInText.FindAllStringSubmatch(text, -1) {
		if candidate := m[1]; IsRealCode(candidate) && !isPlainWord(candidate) {
			return candidate
		}
	}
	return ""
}

// EffectiveCode returns the real code of an offer, falling back to one
// mentioned in its description. Empty means the offer carries no code.
func EffectiveCode(code, description string) string {
	if trimmed := strings.TrimSpace(code); IsRealCode(trimmed) {
		return trimmed
	}
	return ExtractCode(description)
}

// isPlainWord rejects capitalized English words like "REQUIRED" picked up
// from "NO CODE REQUIRED"
func isPlainWord(s string) bool {
	if strings.ContainsAny(s, "0123456789") {
		return false
	}
	switch strings.ToLower(s) {
	case "required", "needed", "necessary", "applied", "automatically", "none", "not", "at", "checkout":
		return true
	}
	return false
}

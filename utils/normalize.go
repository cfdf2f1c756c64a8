package utils

import (
	"strconv"
	"strings"
)

// MapNetwork maps free-form network names to the upstream provider codes.
// Anything unrecognized is passed through uppercased.
func MapNetwork(net string) string {
	if strings.TrimSpace(net) == "" {
		return ""
	}
	n := strings.ToLower(strings.TrimSpace(net))
	if strings.Contains(n, "mtn") || strings.Contains(n, "yello") {
		return "YELLO"
	}
	if strings.Contains(n, "telecel") {
		return "TELECEL"
	}
	if strings.Contains(n, "airteltigo") || strings.Contains(n, "airtel") || strings.Contains(n, "at") {
		return "AT_PREMIUM"
	}
	return strings.ToUpper(strings.TrimSpace(net))
}

// DigitsOnly strips everything but ASCII digits. Used to coerce capacity
// ("5GB" -> "5") and to compare phone numbers ignoring formatting.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SanitizeReference makes a payment reference safe to use as a storage key.
func SanitizeReference(ref string) string {
	replacer := strings.NewReplacer(".", "_", "#", "_", "$", "_", "/", "_", "[", "_", "]", "_")
	return replacer.Replace(strings.TrimSpace(ref))
}

func ParseIntDefault(s string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && v >= 0 {
		return v
	}
	return def
}

package models

import "strings"

// KeyPrefix namespaces counters of the three limiters in a shared store.
type KeyPrefix string

const (
	KeyPrefixRate  KeyPrefix = "rl"
	KeyPrefixSpeed KeyPrefix = "slow"
	KeyPrefixBrute KeyPrefix = "brute"
)

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// to prevent key collision attacks where user-controlled identifiers containing
// ':' could manipulate adjacent rate limit buckets.
//
// Example: An identifier "user:admin" would become "user_admin", preventing
// it from being interpreted as a separate key segment. IPv6 addresses are
// affected the same way, which keeps them unique.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// NewRateLimitKey returns "rl:<tier>:<identifier>".
func NewRateLimitKey(tier Tier, identifier string) string {
	return string(KeyPrefixRate) + ":" + string(tier) + ":" + SanitizeKeySegment(identifier)
}

// NewSpeedLimitKey returns "slow:<ip>".
func NewSpeedLimitKey(ip string) string {
	return string(KeyPrefixSpeed) + ":" + SanitizeKeySegment(ip)
}

// NewBruteForceKey returns "brute:<scope>:<ip>".
func NewBruteForceKey(scope, ip string) string {
	return string(KeyPrefixBrute) + ":" + SanitizeKeySegment(scope) + ":" + SanitizeKeySegment(ip)
}

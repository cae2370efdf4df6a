// Package scope checks an API key's IP and referrer restrictions against the
// request that presented it.
package scope

import (
	"net/netip"
	"net/url"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	pstrings "gatehouse/pkg/platform/strings"
)

// compiled caches glob patterns by source text. Patterns come from key
// records, so the set is bounded by the number of distinct restrictions.
var compiled sync.Map // string -> glob.Glob (nil when the pattern is malformed)

// Validate runs the IP check, then the referrer check.
func Validate(record *domain.APIKeyRecord, ip, referrer string) error {
	if !CheckIPAllowed(record, ip) {
		return dErrors.New(dErrors.CodeIPRangeCheckFail, "client ip is not allowed for this api key")
	}
	if !CheckReferrerAllowed(record, referrer) {
		return dErrors.New(dErrors.CodeReferrerCheckFail, "referrer is not allowed for this api key")
	}
	return nil
}

// CheckIPAllowed reports whether ip falls inside one of the record's ranges.
// Keys without restrictions allow every caller; an unparsable caller address
// never matches a restricted key.
func CheckIPAllowed(record *domain.APIKeyRecord, ip string) bool {
	entries := normalizeList(record.IPRestrictions)
	if len(entries) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap().WithZone("")
	for _, entry := range entries {
		prefix, ok := ParseRange(entry)
		if ok && prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseRange accepts CIDR notation or a bare address, which is treated as a
// single host.
func ParseRange(entry string) (netip.Prefix, bool) {
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, false
		}
		if p.Addr().Is4In6() && p.Bits() >= 96 {
			p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
		}
		return p.Masked(), true
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, false
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), true
}

// CheckReferrerAllowed matches the host of referrer against the record's glob
// patterns. A request without a referrer is allowed, as is a key without
// referrer restrictions.
func CheckReferrerAllowed(record *domain.APIKeyRecord, referrer string) bool {
	patterns := normalizeList(record.ReferrerRestrictions)
	if len(patterns) == 0 || strings.TrimSpace(referrer) == "" {
		return true
	}
	host := ReferrerHost(referrer)
	if host == "" {
		return false
	}
	for _, pattern := range patterns {
		if g := compile(pattern); g != nil && g.Match(host) {
			return true
		}
	}
	return false
}

// ReferrerHost reduces a Referer header to its host name. Values without a
// scheme are read as a bare host with an optional path.
func ReferrerHost(referrer string) string {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return ""
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Host == "" {
		u, err = url.Parse("//" + referrer)
		if err != nil {
			return ""
		}
	}
	return u.Hostname()
}

// ValidPattern reports whether a referrer restriction compiles.
func ValidPattern(pattern string) bool {
	return compile(strings.TrimSpace(pattern)) != nil
}

func compile(pattern string) glob.Glob {
	if v, ok := compiled.Load(pattern); ok {
		g, _ := v.(glob.Glob)
		return g
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		compiled.Store(pattern, nil)
		return nil
	}
	compiled.Store(pattern, g)
	return g
}

func normalizeList(values []string) []string {
	return pstrings.SplitAll(values)
}

// Package extract turns free-form article text into typed, normalized,
// deduplicated candidate indicators. Extraction is pure: no I/O, no side
// effects, identical input always yields identical output.
package extract

import (
	"net"
	"regexp"
	"sort"
	"strings"

	"threatlens/core"
)

// One matching pattern per indicator type. Compiled once at package init.
var (
	// IPv4 dotted quad; octet range is validated separately
	ipPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

	// RFC-1035 compatible domain: alphanumeric/hyphen labels of 1-63 chars,
	// no leading/trailing hyphen, TLD of at least 2 alpha chars
	domainPattern = regexp.MustCompile(`(?i)\b[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)*\.[a-z]{2,}\b`)

	// http(s) URL up to a whitespace, angle-bracket, or backtick delimiter
	urlPattern = regexp.MustCompile(`(?i)https?://[^\s<>` + "`" + `"]+`)

	// Hex digest of length 128, 64, 40, or 32 (sha512/sha256/sha1/md5).
	// Longest alternative first so a long digest is never split.
	hashPattern = regexp.MustCompile(`\b(?:[a-fA-F0-9]{128}|[a-fA-F0-9]{64}|[a-fA-F0-9]{40}|[a-fA-F0-9]{32})\b`)
)

// Candidate is a typed, normalized indicator candidate found in text
type Candidate struct {
	Type  core.IndicatorType
	Value string
}

// Key returns the identity key of the candidate
func (c Candidate) Key() string {
	return core.IndicatorKey(c.Type, c.Value)
}

// Extractor scans article text for indicators of compromise. The zero-value
// suppression lists make it extract everything; NewExtractor installs the
// default false-positive filter.
type Extractor struct {
	// suppressedDomains are exact domain values never reported (lab hosts,
	// reserved documentation names)
	suppressedDomains map[string]struct{}
	// suppressPrivateIPs drops loopback, RFC-1918, and broadcast addresses
	suppressPrivateIPs bool
}

// Option customizes an Extractor
type Option func(*Extractor)

// WithSuppressedDomains replaces the suppressed domain set
func WithSuppressedDomains(domains []string) Option {
	return func(e *Extractor) {
		e.suppressedDomains = make(map[string]struct{}, len(domains))
		for _, d := range domains {
			e.suppressedDomains[strings.ToLower(d)] = struct{}{}
		}
	}
}

// WithPrivateIPs keeps private/reserved IP addresses in the output
func WithPrivateIPs() Option {
	return func(e *Extractor) {
		e.suppressPrivateIPs = false
	}
}

// DefaultSuppressedDomains are reserved names that show up constantly in
// security writeups without being indicators
var DefaultSuppressedDomains = []string{
	"example.com", "example.org", "example.net", "localhost", "test.com",
}

// NewExtractor creates an extractor with the default false-positive filter
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{suppressPrivateIPs: true}
	WithSuppressedDomains(DefaultSuppressedDomains)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// span is a claimed region of the input text
type span struct {
	start, end int
	typ        core.IndicatorType
}

// Extract returns the deduplicated set of indicators mentioned in text.
// An indicator mentioned five times in one article is reported once.
//
// Overlapping matches are resolved longest-span-first so a URL claims any
// hash or domain embedded in it, and a hostname like 1.2.3.4.evil.com is a
// domain rather than an IP plus a fragment. Ties go to the more specific
// type (url > hash > ip > domain).
func (e *Extractor) Extract(text string) []Candidate {
	var spans []span
	for _, m := range urlPattern.FindAllStringIndex(text, -1) {
		spans = append(spans, span{m[0], m[1], core.IndicatorTypeURL})
	}
	for _, m := range hashPattern.FindAllStringIndex(text, -1) {
		spans = append(spans, span{m[0], m[1], core.IndicatorTypeHash})
	}
	for _, m := range ipPattern.FindAllStringIndex(text, -1) {
		spans = append(spans, span{m[0], m[1], core.IndicatorTypeIP})
	}
	for _, m := range domainPattern.FindAllStringIndex(text, -1) {
		spans = append(spans, span{m[0], m[1], core.IndicatorTypeDomain})
	}

	sort.SliceStable(spans, func(i, j int) bool {
		li, lj := spans[i].end-spans[i].start, spans[j].end-spans[j].start
		if li != lj {
			return li > lj
		}
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return typePriority(spans[i].typ) < typePriority(spans[j].typ)
	})

	var claimed []span
	seen := make(map[string]struct{})
	var out []Candidate

	for _, s := range spans {
		if overlapsAny(s, claimed) {
			continue
		}
		claimed = append(claimed, s)

		raw := text[s.start:s.end]
		value := core.NormalizeIndicatorValue(s.typ, raw)
		if !e.accept(s.typ, value) {
			continue
		}

		c := Candidate{Type: s.typ, Value: value}
		if _, dup := seen[c.Key()]; dup {
			continue
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}

	return out
}

func typePriority(t core.IndicatorType) int {
	switch t {
	case core.IndicatorTypeURL:
		return 0
	case core.IndicatorTypeHash:
		return 1
	case core.IndicatorTypeIP:
		return 2
	default:
		return 3
	}
}

func overlapsAny(s span, claimed []span) bool {
	for _, c := range claimed {
		if s.start < c.end && c.start < s.end {
			return true
		}
	}
	return false
}

// accept validates a normalized candidate and applies false-positive
// suppression
func (e *Extractor) accept(typ core.IndicatorType, value string) bool {
	if core.ValidateIndicatorValue(typ, value) != nil {
		return false
	}

	switch typ {
	case core.IndicatorTypeIP:
		if e.suppressPrivateIPs && isReservedIP(value) {
			return false
		}
	case core.IndicatorTypeDomain:
		if len(value) > 253 {
			return false
		}
		if _, suppressed := e.suppressedDomains[value]; suppressed {
			return false
		}
	}
	return true
}

// isReservedIP reports loopback, private, link-local, unspecified, and
// broadcast addresses
func isReservedIP(value string) bool {
	ip := net.ParseIP(value)
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return true
	}
	return value == "255.255.255.255"
}

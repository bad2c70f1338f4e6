// Package protocol generates and normalizes the human-facing transaction
// identifiers ("protocols") shaped like PREFIX-YYYYMMDD-NNNN.
package protocol

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"
)

const (
	PrefixEvent   = "EVE"
	PrefixPayment = "PAY"

	dateLayout = "20060102"
)

// KnownPrefixes are the prefixes historical records were written with.
var KnownPrefixes = []string{PrefixEvent, PrefixPayment}

var (
	prefixedPattern = regexp.MustCompile(`^([A-Za-z]+)-(\d{8}-\d+)$`)
	corePattern     = regexp.MustCompile(`^(\d{8})-\d+$`)
)

// Codec carries the clock, random source and prefix set used for protocols.
type Codec struct {
	Now      func() time.Time
	Suffix   func() int
	Prefixes []string
}

// NewCodec returns a codec using wall-clock time and a 1000-9999 suffix.
func NewCodec() *Codec {
	return &Codec{
		Now:      time.Now,
		Suffix:   func() int { return 1000 + rand.Intn(9000) },
		Prefixes: KnownPrefixes,
	}
}

var defaultCodec = NewCodec()

// Generate produces a protocol with the default codec.
func Generate(prefix string) string { return defaultCodec.Generate(prefix) }

// Normalize returns the textual variants of protocol with the default codec.
func Normalize(protocol string) []string { return defaultCodec.Normalize(protocol) }

// ExtractDate parses the embedded date with the default codec.
func ExtractDate(protocol string) (time.Time, bool) { return defaultCodec.ExtractDate(protocol) }

// Generate produces PREFIX-YYYYMMDD-NNNN. Uniqueness is not guaranteed; the
// ledger's unique constraint is the guard.
func (c *Codec) Generate(prefix string) string {
	p := strings.ToUpper(strings.TrimSpace(prefix))
	if p == "" {
		p = PrefixPayment
	}
	return fmt.Sprintf("%s-%s-%04d", p, c.Now().Format(dateLayout), c.Suffix())
}

// Normalize returns the original protocol, its prefix-stripped core, the core
// re-prefixed with every known prefix, and upper/lower case forms of each.
// Order is stable and the result holds no duplicates.
func (c *Codec) Normalize(protocol string) []string {
	original := strings.TrimSpace(protocol)
	if original == "" {
		return nil
	}

	base := []string{original}
	core := stripPrefix(original)
	if core != "" {
		base = append(base, core)
		for _, p := range c.Prefixes {
			base = append(base, p+"-"+core)
		}
	}

	seen := make(map[string]struct{}, len(base)*3)
	out := make([]string, 0, len(base)*3)
	add := func(v string) {
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, v := range base {
		add(v)
		add(strings.ToUpper(v))
		add(strings.ToLower(v))
	}
	return out
}

// ExtractDate returns the YYYYMMDD component, or false for malformed input.
func (c *Codec) ExtractDate(protocol string) (time.Time, bool) {
	core := stripPrefix(strings.TrimSpace(protocol))
	if core == "" {
		return time.Time{}, false
	}
	m := corePattern.FindStringSubmatch(core)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsProtocol reports whether s looks like a prefixed or bare protocol.
func IsProtocol(s string) bool {
	_, ok := defaultCodec.ExtractDate(s)
	return ok
}

// stripPrefix returns the YYYYMMDD-NNNN core, or "" when s has neither shape.
func stripPrefix(s string) string {
	if m := prefixedPattern.FindStringSubmatch(s); m != nil {
		return m[2]
	}
	if corePattern.MatchString(s) {
		return s
	}
	return ""
}

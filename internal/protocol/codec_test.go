package protocol

import (
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedCodec(suffix int) *Codec {
	return &Codec{
		Now:      func() time.Time { return time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) },
		Suffix:   func() int { return suffix },
		Prefixes: KnownPrefixes,
	}
}

func TestGenerate_Format(t *testing.T) {
	re := regexp.MustCompile(`^PAY-\d{8}-\d{4}$`)
	for i := 0; i < 200; i++ {
		p := Generate(PrefixPayment)
		require.Regexp(t, re, p)

		suffix, err := strconv.Atoi(p[len(p)-4:])
		require.NoError(t, err)
		assert.GreaterOrEqual(t, suffix, 1000)
		assert.LessOrEqual(t, suffix, 9999)
	}
}

func TestGenerate_CustomPrefix(t *testing.T) {
	c := fixedCodec(4242)
	assert.Equal(t, "FIL-20240101-4242", c.Generate("fil"))
	assert.Equal(t, "EVE-20240101-4242", c.Generate(PrefixEvent))
	assert.Equal(t, "PAY-20240101-4242", c.Generate(""))
}

func TestNormalize_ContainsGenerated(t *testing.T) {
	for i := 0; i < 100; i++ {
		p := Generate(PrefixPayment)
		assert.Contains(t, Normalize(p), p)
	}
}

func TestNormalize_Variants(t *testing.T) {
	got := Normalize("EVE-20240101-5555")

	for _, want := range []string{
		"EVE-20240101-5555",
		"20240101-5555",
		"PAY-20240101-5555",
		"eve-20240101-5555",
		"pay-20240101-5555",
	} {
		assert.Contains(t, got, want)
	}

	seen := map[string]bool{}
	for _, v := range got {
		assert.False(t, seen[v], "duplicate variant %q", v)
		seen[v] = true
	}
	assert.Equal(t, "EVE-20240101-5555", got[0])
}

func TestNormalize_LegacyUnprefixed(t *testing.T) {
	got := Normalize("20240101-5555")
	assert.Contains(t, got, "EVE-20240101-5555")
	assert.Contains(t, got, "PAY-20240101-5555")
}

func TestNormalize_Garbage(t *testing.T) {
	assert.Nil(t, Normalize("   "))
	got := Normalize("free-text")
	assert.Equal(t, []string{"free-text", "FREE-TEXT"}, got)
}

func TestExtractDate(t *testing.T) {
	tests := []struct {
		in     string
		wantOK bool
		want   time.Time
	}{
		{in: "PAY-20240315-1234", wantOK: true, want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{in: "20240101-5555", wantOK: true, want: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{in: "PAY-20241340-1234", wantOK: false},
		{in: "PAY-2024-1234", wantOK: false},
		{in: "", wantOK: false},
		{in: "PAY--", wantOK: false},
	}

	for _, tt := range tests {
		got, ok := ExtractDate(tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
		if tt.wantOK {
			assert.True(t, tt.want.Equal(got), "ExtractDate(%q) = %v", tt.in, got)
		}
	}
}

func TestIsProtocol(t *testing.T) {
	assert.True(t, IsProtocol("EVE-20240101-5555"))
	assert.False(t, IsProtocol("pay_abc123"))
}

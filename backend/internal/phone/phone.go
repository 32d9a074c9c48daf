package phone

import (
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

// Normalizer turns user-entered phone numbers into E.164 strings so that
// duplicate detection compares like with like.
type Normalizer struct {
	defaultRegion string
}

// NewNormalizer creates a normalizer. defaultRegion (e.g. "IT") is used for
// numbers without a leading +; it may be empty.
func NewNormalizer(defaultRegion string) *Normalizer {
	return &Normalizer{defaultRegion: strings.ToUpper(strings.TrimSpace(defaultRegion))}
}

// E164 returns the E.164 form of raw, or false when raw is blank or not a
// valid number.
func (n *Normalizer) E164(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	num, err := phonenumbers.Parse(raw, n.defaultRegion)
	if err != nil {
		return "", false
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}

// Canonical returns the E.164 form when possible and otherwise the digits of
// raw (keeping a leading +). Chat clients often share numbers without a
// country prefix, and those still have to be comparable.
func (n *Normalizer) Canonical(raw string) string {
	if e164, ok := n.E164(raw); ok {
		return e164
	}
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}

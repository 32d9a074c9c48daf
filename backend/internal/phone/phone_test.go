package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestE164(t *testing.T) {
	tests := []struct {
		name   string
		region string
		raw    string
		want   string
		ok     bool
	}{
		{"italian with prefix", "", "+39 312 345 6789", "+393123456789", true},
		{"us with prefix", "", "+1 202 555 1234", "+12025551234", true},
		{"us by region", "US", "202 555 1234", "+12025551234", true},
		{"italian by region", "it", "312 345 6789", "+393123456789", true},
		{"blank", "", "   ", "", false},
		{"letters", "", "abc", "", false},
		{"no region no prefix", "", "3123456789", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NewNormalizer(tt.region).E164(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonical(t *testing.T) {
	n := NewNormalizer("")
	assert.Equal(t, "+393123456789", n.Canonical("+39 312-345-6789"))
	assert.Equal(t, "393123456789", n.Canonical("39 (312) 345 6789"))
	assert.Equal(t, "", n.Canonical(""))
	assert.Equal(t, "", n.Canonical("+"))
	assert.Equal(t, n.Canonical("312 345 6789"), n.Canonical("312-345-6789"))
}

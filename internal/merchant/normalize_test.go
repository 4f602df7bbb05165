package merchant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMerchantText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"store number", "TESCO STORES 1234", "tesco stores"},
		{"domain suffixes", "Amazon.co.uk", "amazon"},
		{"company suffix", "Acme Widgets Ltd", "acme widgets"},
		{"retail words", "Apple Online Store", "apple"},
		{"services", "British Gas Services", "british gas"},
		{"punctuation", "M&S Simply-Food", "m s simply food"},
		{"digits inside words kept", "7eleven 24", "7eleven"},
		{"only suffixes", "Ltd", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMerchantText(tt.in))
		})
	}
}

func TestBuildCanonicalMerchants(t *testing.T) {
	raw := []string{
		"Costa Coffee", "TESCO", "Tesco Ltd", "costa coffee 221", "Tesco",
		"Amazon", "", "Pret", "Pret", "Costa Coffee",
	}

	assert.Equal(t, []string{"costa coffee", "tesco", "pret"}, BuildCanonicalMerchants(raw, 2))
	assert.Equal(t, []string{"costa coffee", "tesco", "pret", "amazon"}, BuildCanonicalMerchants(raw, 1))
	assert.Empty(t, BuildCanonicalMerchants(raw, 4))
}

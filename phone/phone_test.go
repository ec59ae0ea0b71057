package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+1 (713) 555-0101", "+17135550101"},
		{"7135550101", "+17135550101"},
		{"17135550101", "+17135550101"},
		{"0044 20 7946 0958", "+442079460958"},
		{"+44.20.7946.0958", "+442079460958"},
		{"  +4915112345678 ", "+4915112345678"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNormalizeRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "+12", "+1234567890123456", "555-CALL-NOW", "+0123456789"} {
		_, err := Normalize(in)
		assert.ErrorIs(t, err, ErrInvalid, in)
	}
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, "+17135550101", Canonical("713-555-0101"))
	assert.Equal(t, "not a phone", Canonical(" not a phone "))
}

package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1.00", true},
		{"25.50", "25.50", true},
		{"25,5", "25.50", true},
		{"0", "0.00", true},
		{"0.01", "0.01", true},
		{"1.005", "1.01", true},
		{" 2.50 ", "2.50", true},
		{"-1", "", false},
		{"+1", "", false},
		{"1e3", "", false},
		{"abc", "", false},
		{"1,200", "1200.00", true},
		{"12,345,678.90", "12345678.90", true},
		{"1,20", "1.20", true},
		{"1.2.3", "", false},
		{".", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if !tc.ok {
			assert.ErrorIs(t, err, ErrInvalidAmount, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.out, Format(got), "input %q", tc.in)
	}
}

func TestFirstAmount(t *testing.T) {
	cases := []struct {
		text  string
		want  string
		found bool
	}{
		{"Pizza 25.50", "25.50", true},
		{"taxi $12 and tip 3", "12.00", true},
		{"coffee 3,20.", "3.20", true},
		{"lunch 10 then 20", "10.00", true},
		{"Just some text", "0.00", false},
		{"", "0.00", false},
		{"room 101b", "0.00", false},
		{"rent 1,200", "1200.00", true},
		{"laptop 2,499", "2499.00", true},
		{"tv 1,299.99!", "1299.99", true},
	}
	for _, tc := range cases {
		got, found := FirstAmount(tc.text)
		assert.Equal(t, tc.found, found, "text %q", tc.text)
		assert.Equal(t, tc.want, Format(got), "text %q", tc.text)
	}
}

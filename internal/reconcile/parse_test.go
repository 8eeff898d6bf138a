package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSlotTime(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"09:00", "09:00", true},
		{"09:30:00", "09:30", true},
		{" 14:15 ", "14:15", true},
		{"9:05", "09:05", true},
		{"", "", false},
		{"morning", "", false},
		{"25:00", "", false},
	}

	for _, tc := range cases {
		got, err := ParseSlotTime(tc.in)
		if !tc.ok {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("31/12/2025")
	require.NoError(t, err)
	assert.Equal(t, 2025, d.Year())
	assert.Equal(t, 31, d.Day())

	_, err = ParseDate("2025-12-31")
	assert.Error(t, err)
}

func TestNormalizeDigits(t *testing.T) {
	assert.Equal(t, "11987654321", NormalizeDigits("(11) 98765-4321"))
	assert.Equal(t, "98765432100", NormalizeDigits("987.654.321-00"))
	assert.Equal(t, "", NormalizeDigits("n/a"))
}

package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCents_Success(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{"whole dollars", "100", 10000},
		{"dollars with cents", "100.50", 10050},
		{"cents only", "0.99", 99},
		{"leading dot", ".99", 99},
		{"zero", "0", 0},
		{"zero with decimals", "0.00", 0},
		{"small amount", "1.23", 123},
		{"large amount", "9999.99", 999999},
		{"rounding up carries", "99.995", 10000},
		{"rounding down", "99.994", 9999},
		{"with whitespace", "  50.25  ", 5025},
		{"negative amount", "-10.50", -1050},
		{"explicit plus", "+7.10", 710},
		{"single decimal", "5.5", 550},
		{"three decimals", "5.555", 556},
		{"exact binary trap", "0.29", 29},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseCents(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseCents_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty string", ""},
		{"invalid format", "abc"},
		{"special characters", "$100.00"},
		{"multiple decimals", "10.5.5"},
		{"trailing dot", "10."},
		{"lone dot", "."},
		{"sign only", "-"},
		{"exponent", "1e3"},
		{"overflow", "999999999999999999999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCents(tt.input)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}

func TestFormatCents(t *testing.T) {
	tests := []struct {
		name     string
		input    int64
		expected string
	}{
		{"whole dollars", 10000, "100.00"},
		{"dollars with cents", 10050, "100.50"},
		{"cents only", 99, "0.99"},
		{"zero", 0, "0.00"},
		{"negative amount", -1050, "-10.50"},
		{"negative cents", -99, "-0.99"},
		{"single cent", 1, "0.01"},
		{"ten cents", 10, "0.10"},
		{"exact dollar", 5000, "50.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatCents(tt.input))
		})
	}
}

func TestMoneyConversion_RoundTrip(t *testing.T) {
	for _, cents := range []int64{0, 1, 10, 100, 999, 1000, 10000, 12345, 999999, -100, -12345} {
		parsed, err := ParseCents(FormatCents(cents))
		require.NoError(t, err)
		assert.Equal(t, cents, parsed, "round trip failed for %d", cents)
	}
}

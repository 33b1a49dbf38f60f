package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"19.99", 19.99},
		{"$1,299.00", 1299},
		{"12,50 EUR", 12.5},
		{"1.299,95", 1299.95},
		{"1,000", 1000},
		{"1.000.000", 1000000},
		{"USD 45", 45},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParsePrice(tt.in)
			require.NotNil(t, got)
			assert.InDelta(t, tt.want, *got, 0.0001)
		})
	}

	assert.Nil(t, ParsePrice(""))
	assert.Nil(t, ParsePrice("call for price"))
}

func TestIsOnSale(t *testing.T) {
	price, sale, same := 100.0, 80.0, 100.0
	assert.True(t, IsOnSale(&price, &sale))
	assert.False(t, IsOnSale(&price, &same))
	assert.False(t, IsOnSale(nil, &sale))
	assert.False(t, IsOnSale(&price, nil))
}

func TestSearchKeywords(t *testing.T) {
	kw := SearchKeywords("Crème Brûlée Torch")
	assert.Contains(t, kw, "creme")
	assert.Contains(t, kw, "brulee")
	assert.Contains(t, kw, "creme brulee")
	assert.Contains(t, kw, "tor")
	assert.NotContains(t, kw, "t")

	long := SearchKeywords("alpha bravo charlie delta echo foxtrot golf hotel india juliett kilo lima mike november oscar papa")
	assert.LessOrEqual(t, len(long), maxKeywords)
	assert.Empty(t, SearchKeywords(""))
}

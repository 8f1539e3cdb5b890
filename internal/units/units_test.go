package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		from, to string
		want     float64
	}{
		{"same unit", 400, "mg", "mg", 400},
		{"grams to milligrams", 1.5, "g", "mg", 1500},
		{"micrograms to milligrams", 250, "ug", "mg", 0.25},
		{"mg/l to ug/l", 2, "mg/l", "ug/l", 2000},
		{"ng/ml equals ug/l", 12, "ng/ml", "ug/l", 12},
		{"days to hours", 4, "d", "h", 96},
		{"auc", 1, "mg*h/l", "ug*h/l", 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.value, tt.from, tt.to)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestConvert_ExactAcrossScales(t *testing.T) {
	tests := []struct {
		value    float64
		from, to string
		want     float64
	}{
		{1, "mg", "ug", 1000},
		{0.7, "g", "mg", 700},
		{0.3, "mg/l", "ug/l", 300},
		{2.2, "d", "h", 52.8},
		{0.1, "g*h/l", "mg*h/l", 100},
	}
	for _, tt := range tests {
		got, err := Convert(tt.value, tt.from, tt.to)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v %s to %s", tt.value, tt.from, tt.to)
	}
}

func TestConvert_Errors(t *testing.T) {
	_, err := Convert(1, "mg", "h")
	assert.ErrorIs(t, err, ErrIncompatible)

	_, err = Convert(1, "furlong", "mg")
	assert.ErrorIs(t, err, ErrUnknownUnit)

	assert.False(t, Convertible("mg/l", "mg"))
	assert.True(t, Convertible(" mg ", "g"))
}

func TestDimensionOf(t *testing.T) {
	d, err := DimensionOf("ug*h/l")
	require.NoError(t, err)
	assert.Equal(t, DimensionExposure, d)

	_, err = DimensionOf("parsec")
	assert.Error(t, err)
}

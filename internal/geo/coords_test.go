package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photomap/internal/apperr"
)

func TestDMSToDecimal(t *testing.T) {
	tests := []struct {
		name          string
		deg, min, sec float64
		ref           string
		want          float64
	}{
		{"north", 40, 30, 0, "N", 40.5},
		{"south flips sign", 40, 30, 0, "S", -40.5},
		{"east", 86, 56, 52.8, "E", 86.948},
		{"west flips sign", 86, 56, 52.8, "W", -86.948},
		{"zero", 0, 0, 0, "N", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DMSToDecimal(tt.deg, tt.min, tt.sec, tt.ref)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestValidateCoordinates(t *testing.T) {
	assert.NoError(t, ValidateCoordinates(39.0269, -86.948, nil))
	assert.NoError(t, ValidateCoordinates(-90, 180, nil))

	err := ValidateCoordinates(95, 0, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	err = ValidateCoordinates(0, -181, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestValidateCoordinatesImplausibleAltitudeIsNotFatal(t *testing.T) {
	alt := 12000.0
	assert.NoError(t, ValidateCoordinates(10, 10, &alt))

	below := -900.0
	assert.NoError(t, ValidateCoordinates(10, 10, &below))
}

func TestInBounds(t *testing.T) {
	assert.True(t, InBounds(39, -87, 38, 40, -88, -86))
	assert.False(t, InBounds(41, -87, 38, 40, -88, -86))
}

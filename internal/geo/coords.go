// Package geo converts EXIF GPS tag values into decimal-degree coordinates
// and validates them against WGS84 bounds.
package geo

import (
	"github.com/wb-go/wbf/zlog"

	"photomap/internal/apperr"
)

const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0

	// Plausible terrestrial altitude range, metres. Values outside it are
	// logged, not rejected.
	MinPlausibleAltitude = -500.0
	MaxPlausibleAltitude = 10000.0
)

// DMSToDecimal converts a degrees/minutes/seconds triple and a hemisphere
// reference ("N", "S", "E", "W") to decimal degrees. South and west
// references flip the sign.
func DMSToDecimal(deg, min, sec float64, ref string) float64 {
	decimal := deg + min/60 + sec/3600
	if ref == "S" || ref == "W" {
		decimal = -decimal
	}
	return decimal
}

// ValidateCoordinates checks lat/lng against WGS84 bounds. An altitude
// outside the plausible terrestrial range only produces a warning: survey
// gear sometimes reports garbage altitude on an otherwise good fix.
func ValidateCoordinates(lat, lng float64, altitude *float64) error {
	if lat < MinLatitude || lat > MaxLatitude {
		return apperr.Invalid("latitude %.6f is out of valid range (%g to %g)", lat, MinLatitude, MaxLatitude)
	}
	if lng < MinLongitude || lng > MaxLongitude {
		return apperr.Invalid("longitude %.6f is out of valid range (%g to %g)", lng, MinLongitude, MaxLongitude)
	}
	if altitude != nil && (*altitude < MinPlausibleAltitude || *altitude > MaxPlausibleAltitude) {
		zlog.Logger.Warn().
			Float64("altitude", *altitude).
			Msgf("altitude outside typical range (%g to %gm)", MinPlausibleAltitude, MaxPlausibleAltitude)
	}
	return nil
}

// InBounds reports whether the point falls inside the bounding box.
func InBounds(lat, lng, minLat, maxLat, minLng, maxLng float64) bool {
	return lat >= minLat && lat <= maxLat && lng >= minLng && lng <= maxLng
}

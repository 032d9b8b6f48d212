package geo

import (
	"math"
	"regexp"
	"strings"
)

// EarthRadiusMiles is the radius used for great-circle distances.
const EarthRadiusMiles = 3959.0

var postcodeRe = regexp.MustCompile(`^[A-Z]{1,2}[0-9][A-Z0-9]? ?[0-9][A-Z]{2}$`)

// NormalizePostcode uppercases and reinserts the single separating space.
func NormalizePostcode(raw string) string {
	cleaned := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	if len(cleaned) < 5 {
		return cleaned
	}
	return cleaned[:len(cleaned)-3] + " " + cleaned[len(cleaned)-3:]
}

// ValidPostcode reports whether raw looks like a UK postcode.
func ValidPostcode(raw string) bool {
	return postcodeRe.MatchString(NormalizePostcode(raw))
}

// Haversine returns the great-circle distance in miles between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMiles * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

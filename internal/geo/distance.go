package geo

import (
	"math"

	"geoattend/internal/domain"
)

// earthRadiusM is the mean Earth radius used by the haversine formula.
const earthRadiusM = 6371000.0

// ValidCoordinates reports whether the pair is a usable WGS84 coordinate.
// NaN and out-of-range values are rejected; callers translate a false result
// to ErrInvalidGeometry rather than letting NaN flow into distance math.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Distance returns the great-circle distance in meters between two
// coordinates, via the haversine formula. Inputs must already be validated;
// out-of-range input yields meaningless results.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// Classification is the result of classifying a sample against a geofence.
type Classification struct {
	DistanceM float64
	Inside    bool
}

// Classify computes the sample's distance to the event's geofence center and
// whether it falls inside the radius. The boundary is inclusive: a sample
// exactly on the radius is inside. Returns ErrInvalidGeometry for malformed
// coordinates on either side.
func Classify(sample domain.LocationSample, event *domain.Event) (Classification, error) {
	if !ValidCoordinates(sample.Lat, sample.Lon) || !ValidCoordinates(event.Lat, event.Lon) {
		return Classification{}, domain.ErrInvalidGeometry
	}
	d := Distance(sample.Lat, sample.Lon, event.Lat, event.Lon)
	return Classification{DistanceM: d, Inside: d <= event.RadiusM}, nil
}

package geo

import (
	"math"
)

const (
	earthRadiusMiles  = 3959.0    // Earth's radius in miles.
	earthRadiusMeters = 6371000.0 // Earth's radius in meters.
)

// DistanceMiles returns the great-circle distance between two points in miles
// using the haversine formula. Inputs are not validated.
func DistanceMiles(lat1, lon1, lat2, lon2 float64) float64 {
	return earthRadiusMiles * centralAngle(lat1, lon1, lat2, lon2)
}

// DistanceMeters is DistanceMiles on the metric radius.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return earthRadiusMeters * centralAngle(lat1, lon1, lat2, lon2)
}

func centralAngle(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Bearing calculates the initial bearing (direction) in degrees.
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := toRadians(lat1)
	lat2Rad := toRadians(lat2)
	deltaLon := toRadians(lon2 - lon1)

	y := math.Sin(deltaLon) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) -
		math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLon)

	return math.Mod(toDegrees(math.Atan2(y, x))+360, 360)
}

// toRadians converts an angle from degrees to radians.
func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// toDegrees converts an angle from radians to degrees.
func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Accumulator keeps the running distance of one tracking session. It is not
// safe for concurrent use; a session feeds it from a single goroutine.
type Accumulator struct {
	total   float64
	hasLast bool
	lastLat float64
	lastLon float64
}

// Add records a new point and returns the distance from the previous point in
// miles. The first point after construction or Reset adds nothing.
func (a *Accumulator) Add(lat, lon float64) float64 {
	var delta float64
	if a.hasLast {
		delta = DistanceMiles(a.lastLat, a.lastLon, lat, lon)
		a.total += delta
	}
	a.lastLat, a.lastLon, a.hasLast = lat, lon, true
	return delta
}

// Last returns the previous point, if any.
func (a *Accumulator) Last() (lat, lon float64, ok bool) {
	return a.lastLat, a.lastLon, a.hasLast
}

// Total returns the accumulated distance in miles.
func (a *Accumulator) Total() float64 { return a.total }

// Reset clears the total and the last point.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}

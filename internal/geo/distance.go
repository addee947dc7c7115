package geo

import "math"

const (
	// GeofenceMeters is the arrival radius around a delivery target.
	GeofenceMeters = 100.0
	// EarthRadiusMeters is Earth's radius for the Haversine calculation.
	EarthRadiusMeters = 6371e3
	// KmPerDegree is the flat-earth conversion used by ApproxKm.
	KmPerDegree = 111.0
)

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Fixed locations of the game world.
var (
	// Depot is where orders ship from and the fallback target when geocoding fails.
	Depot    = Point{Lat: 40.8262, Lon: -74.0660}
	Pizzeria = Point{Lat: 40.86233731197237, Lon: -74.07808261920567}
	Bank     = Point{Lat: 40.86082582150665, Lon: -74.07959384969016}
)

// DistanceMeters calculates the great-circle distance between two points
// on Earth in meters using the Haversine formula.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// Distance is DistanceMeters for two Points.
func Distance(a, b Point) float64 {
	return DistanceMeters(a.Lat, a.Lon, b.Lat, b.Lon)
}

// IsWithinRadius checks if two coordinates are within the specified radius (in meters).
// The boundary counts as inside.
func IsWithinRadius(lat1, lon1, lat2, lon2 float64, radiusMeters float64) bool {
	return DistanceMeters(lat1, lon1, lat2, lon2) <= radiusMeters
}

// Near reports whether p is inside the geofence around landmark.
func Near(p, landmark Point) bool {
	return IsWithinRadius(p.Lat, p.Lon, landmark.Lat, landmark.Lon, GeofenceMeters)
}

// ApproxKm is a cheap straight-line estimate: the Euclidean length of the
// degree difference times 111 km. It ignores longitude shrinkage.
func ApproxKm(a, b Point) float64 {
	dLat := a.Lat - b.Lat
	dLon := a.Lon - b.Lon
	return math.Sqrt(dLat*dLat+dLon*dLon) * KmPerDegree
}

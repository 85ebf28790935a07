package model

import "math"

// Location is a 3D position. Latitude and Longitude are in units of 1/10
// micro-degree; Elevation is in decimetres with a 4096 offset.
type Location struct {
	Latitude  int32
	Longitude int32
	Elevation uint16
}

const earthRadiusMeters = 6371000.0

func (l Location) radians() (lat, lon float64) {
	return float64(l.Latitude) / 1e7 * math.Pi / 180, float64(l.Longitude) / 1e7 * math.Pi / 180
}

// DistanceMeters is the great-circle distance between a and b.
func DistanceMeters(a, b Location) float64 {
	lat1, lon1 := a.radians()
	lat2, lon2 := b.radians()
	dlat := lat2 - lat1
	dlon := lon2 - lon1
	h := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

type RegionKind uint8

const (
	RegionNone RegionKind = iota
	RegionCircular
	RegionCountries
)

// Region is a certificate validity region.
//
// Exactly the fields selected by Kind are meaningful.
type Region struct {
	Kind      RegionKind
	Center    Location
	Radius    uint16
	Countries []uint16
}

// Contains reports whether loc lies in r. Country regions cannot be checked
// without a geocoder and are treated as containing every location, as is
// RegionNone.
func (r Region) Contains(loc Location) bool {
	switch r.Kind {
	case RegionCircular:
		return DistanceMeters(r.Center, loc) <= float64(r.Radius)
	default:
		return true
	}
}

func (r Region) Equal(o Region) bool {
	if r.Kind != o.Kind {
		return false
	}
	switch r.Kind {
	case RegionCircular:
		return r.Center == o.Center && r.Radius == o.Radius
	case RegionCountries:
		if len(r.Countries) != len(o.Countries) {
			return false
		}
		for i := range r.Countries {
			if r.Countries[i] != o.Countries[i] {
				return false
			}
		}
	}
	return true
}

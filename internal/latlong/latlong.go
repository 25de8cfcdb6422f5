// Package latlong provides the position geometry shared by the filter
// engine and history database: Haversine range (spec.md §4.6: "Distance
// uses the Haversine formula; cos(lat) is cached both on the filter node
// and the PBuf") and bounding-box containment for the `a` filter kind.
// Grounded on cmd/samoyed-ll2utm/main.go's use of github.com/golang/geo
// (s1.Angle/s2.LatLng) and github.com/tzneal/coordconv's Hemisphere type,
// both doismellburning-samoyed dependencies otherwise only exercised by a standalone CLI.
package latlong

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/tzneal/coordconv"
)

const EarthRadiusKm = 6371.0088

// Radians converts decimal degrees to radians.
func Radians(deg float64) float64 { return deg * math.Pi / 180 }

// Degrees converts radians to decimal degrees.
func Degrees(rad float64) float64 { return rad * 180 / math.Pi }

// HaversineKm computes the great-circle distance in kilometers between
// two points given in radians, reusing precomputed cos(lat) for both
// ends the way spec.md §4.6 describes the filter engine caching it.
func HaversineKm(lat1, lon1, cosLat1, lat2, lon2, cosLat2 float64) float64 {
	dLat := lat2 - lat1
	dLon := lon2 - lon1
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + cosLat1*cosLat2*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Box is a latitude/longitude bounding box in radians, used by the `a`
// filter kind. Implemented on top of s2.Rect so malformed/antimeridian-
// crossing boxes are handled by a well-tested library rather than hand
// rolled comparisons.
type Box struct {
	rect s2.Rect
}

// NewBox builds a Box from the filter's "latN/lonW/latS/lonE" corners
// (degrees, signed), swapping malordered corners per spec.md §4.6.
func NewBox(latNorth, lonWest, latSouth, lonEast float64) Box {
	if latSouth > latNorth {
		latSouth, latNorth = latNorth, latSouth
	}
	if lonEast < lonWest {
		lonWest, lonEast = lonEast, lonWest
	}
	lo := s2.LatLng{Lat: s1.Angle(Radians(latSouth)), Lng: s1.Angle(Radians(lonWest))}
	hi := s2.LatLng{Lat: s1.Angle(Radians(latNorth)), Lng: s1.Angle(Radians(lonEast))}
	return Box{rect: s2.RectFromLatLng(lo).AddPoint(hi)}
}

// Contains reports whether (lat, lon), in radians, falls inside the box.
func (b Box) Contains(lat, lon float64) bool {
	return b.rect.ContainsLatLng(s2.LatLng{Lat: s1.Angle(lat), Lng: s1.Angle(lon)})
}

// HemisphereRune renders a coordconv.Hemisphere as the single letter
// spec.md's config grammar and log lines use.
func HemisphereRune(h coordconv.Hemisphere) rune {
	switch h {
	case coordconv.HemisphereNorth:
		return 'N'
	case coordconv.HemisphereSouth:
		return 'S'
	default:
		return '?'
	}
}

// HemisphereOf returns North for non-negative degrees, South otherwise --
// used when rendering a parsed latitude back out for logging.
func HemisphereOf(deg float64) coordconv.Hemisphere {
	if deg < 0 {
		return coordconv.HemisphereSouth
	}
	return coordconv.HemisphereNorth
}

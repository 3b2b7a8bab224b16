// Package geo implements the great-circle travel model used by the
// optimizer and the ad-hoc estimation endpoint.
package geo

import (
	"errors"
	"math"

	"fieldplan/internal/model"
)

// ErrInvalidCoordinate is returned for NaN/Inf or out-of-range coordinates.
// Callers map it to a 400 at the HTTP boundary; it is never defaulted away.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

const earthRadiusKm = 6371.0

// Average speed model: long hops are assumed mostly highway, short hops
// mostly urban.
const (
	longHaulThresholdKm = 20.0
	highwaySpeedKph     = 80.0
	urbanSpeedKph       = 40.0
)

// Estimate is the result of one pairwise travel computation.
type Estimate struct {
	DistanceKm float64 `json:"distanceKm"`
	TimeMin    float64 `json:"timeMinutes"`
	Cost       float64 `json:"cost"`
}

// Validate rejects coordinates outside the WGS84 domain.
func Validate(p model.GeoPoint) error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return ErrInvalidCoordinate
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return ErrInvalidCoordinate
	}
	return nil
}

// DistanceKm computes the haversine great-circle distance in kilometers.
// Inputs are assumed validated.
func DistanceKm(a, b model.GeoPoint) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// DistanceAndTime computes distance, estimated travel time and cost between
// two points. costPerKm comes from the technician's zone configuration or
// the caller's parameter set.
func DistanceAndTime(a, b model.GeoPoint, costPerKm float64) (Estimate, error) {
	if err := Validate(a); err != nil {
		return Estimate{}, err
	}
	if err := Validate(b); err != nil {
		return Estimate{}, err
	}
	d := DistanceKm(a, b)
	speed := urbanSpeedKph
	if d > longHaulThresholdKm {
		speed = highwaySpeedKph
	}
	return Estimate{
		DistanceKm: d,
		TimeMin:    d / speed * 60,
		Cost:       d * costPerKm,
	}, nil
}

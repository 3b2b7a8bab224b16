package geo

import (
	"errors"
	"math"
	"testing"

	"fieldplan/internal/model"
)

var (
	paris = model.GeoPoint{Lat: 48.8566, Lng: 2.3522}
	lyon  = model.GeoPoint{Lat: 45.7640, Lng: 4.8357}
)

func TestDistanceSymmetry(t *testing.T) {
	ab := DistanceKm(paris, lyon)
	ba := DistanceKm(lyon, paris)
	if math.Abs(ab-ba) > 1e-9 {
		t.Fatalf("distance not symmetric: %v vs %v", ab, ba)
	}
}

func TestDistanceIdentityAndNonNegativity(t *testing.T) {
	if d := DistanceKm(paris, paris); d != 0 {
		t.Fatalf("distance(A,A) = %v, want 0", d)
	}
	pts := []model.GeoPoint{paris, lyon, {Lat: -33.9, Lng: 151.2}, {Lat: 0, Lng: 0}}
	for _, a := range pts {
		for _, b := range pts {
			if d := DistanceKm(a, b); d < 0 {
				t.Fatalf("distance(%v,%v) = %v, want >= 0", a, b, d)
			}
		}
	}
}

func TestDistanceParisLyon(t *testing.T) {
	// Great-circle Paris-Lyon is roughly 392 km.
	d := DistanceKm(paris, lyon)
	if d < 380 || d > 405 {
		t.Fatalf("paris-lyon distance = %v km, outside expected range", d)
	}
}

func TestSpeedModel(t *testing.T) {
	// Short hop (< 20 km) must use the urban speed.
	a := model.GeoPoint{Lat: 48.8566, Lng: 2.3522}
	b := model.GeoPoint{Lat: 48.87, Lng: 2.40} // a few km away
	est, err := DistanceAndTime(a, b, 0)
	if err != nil {
		t.Fatalf("DistanceAndTime: %v", err)
	}
	wantMin := est.DistanceKm / 40 * 60
	if math.Abs(est.TimeMin-wantMin) > 1e-9 {
		t.Fatalf("short hop time = %v, want %v (40 km/h)", est.TimeMin, wantMin)
	}

	// Long hop must use the highway speed.
	est, err = DistanceAndTime(paris, lyon, 0)
	if err != nil {
		t.Fatalf("DistanceAndTime: %v", err)
	}
	wantMin = est.DistanceKm / 80 * 60
	if math.Abs(est.TimeMin-wantMin) > 1e-9 {
		t.Fatalf("long hop time = %v, want %v (80 km/h)", est.TimeMin, wantMin)
	}
}

func TestCost(t *testing.T) {
	est, err := DistanceAndTime(paris, lyon, 0.5)
	if err != nil {
		t.Fatalf("DistanceAndTime: %v", err)
	}
	if math.Abs(est.Cost-est.DistanceKm*0.5) > 1e-9 {
		t.Fatalf("cost = %v, want distance*0.5", est.Cost)
	}
}

func TestInvalidCoordinates(t *testing.T) {
	bad := []model.GeoPoint{
		{Lat: math.NaN(), Lng: 2},
		{Lat: 48, Lng: math.Inf(1)},
		{Lat: 91, Lng: 0},
		{Lat: -91, Lng: 0},
		{Lat: 0, Lng: 181},
		{Lat: 0, Lng: -181},
	}
	for _, p := range bad {
		if _, err := DistanceAndTime(p, paris, 0); !errors.Is(err, ErrInvalidCoordinate) {
			t.Fatalf("point %v: got err %v, want ErrInvalidCoordinate", p, err)
		}
		if _, err := DistanceAndTime(paris, p, 0); !errors.Is(err, ErrInvalidCoordinate) {
			t.Fatalf("point %v as second arg: got err %v, want ErrInvalidCoordinate", p, err)
		}
	}
}

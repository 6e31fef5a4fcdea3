package engine

import (
	"reflect"
	"testing"
)

func TestSynthProfileShape(t *testing.T) {
	points := SynthProfile(DefaultSynth())

	if len(points) != SlotsPerDay {
		t.Fatalf("got %d points, want %d", len(points), SlotsPerDay)
	}
	if got := points[0].TSLocal.String(); got != "00:00" {
		t.Errorf("first label = %s, want 00:00", got)
	}
	if got := points[len(points)-1].TSLocal.String(); got != "23:45" {
		t.Errorf("last label = %s, want 23:45", got)
	}

	byLabel := make(map[string]ForecastPoint, len(points))
	for _, p := range points {
		byLabel[p.TSLocal.String()] = p
	}

	if got := byLabel["12:30"].SolarKW; got != 3.0 {
		t.Errorf("solar at solar noon = %v, want 3.0", got)
	}
	for _, label := range []string{"00:00", "05:45", "06:00", "19:00", "23:45"} {
		if got := byLabel[label].SolarKW; got != 0 {
			t.Errorf("solar at %s = %v, want 0", label, got)
		}
	}

	// the curve climbs through the morning
	if !(byLabel["08:00"].SolarKW < byLabel["10:00"].SolarKW &&
		byLabel["10:00"].SolarKW < byLabel["12:00"].SolarKW) {
		t.Errorf("morning solar not increasing: %v, %v, %v",
			byLabel["08:00"].SolarKW, byLabel["10:00"].SolarKW, byLabel["12:00"].SolarKW)
	}

	// carbon is elevated from 16:00 through 21:00 inclusive
	if got := byLabel["15:45"].GridCO2; got != 380 {
		t.Errorf("carbon at 15:45 = %v, want 380", got)
	}
	if got := byLabel["16:00"].GridCO2; got != 520 {
		t.Errorf("carbon at 16:00 = %v, want 520", got)
	}
	if got := byLabel["21:00"].GridCO2; got != 520 {
		t.Errorf("carbon at 21:00 = %v, want 520", got)
	}
	if got := byLabel["21:15"].GridCO2; got != 380 {
		t.Errorf("carbon at 21:15 = %v, want 380", got)
	}
}

func TestSynthProfileDeterministic(t *testing.T) {
	a := SynthProfile(DefaultSynth())
	b := SynthProfile(DefaultSynth())

	if !reflect.DeepEqual(a, b) {
		t.Error("profiles differ between calls")
	}
}

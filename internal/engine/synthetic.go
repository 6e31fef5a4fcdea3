package engine

import "math"

// SynthConfig shapes the fallback daily profile used when no forecast
// is supplied: a solar bell across the daylight span and stepped grid
// carbon that is dirtier across the peak-demand span. Hour bounds are
// inclusive on both ends.
type SynthConfig struct {
	DaylightStartHour float64
	DaylightEndHour   float64
	PeakSolarKW       float64
	PeakStartHour     float64
	PeakEndHour       float64
	PeakGridCO2       float64 // g/kWh inside the peak-demand span
	OffPeakGridCO2    float64 // g/kWh outside it
}

// DefaultSynth describes a sunny day on a 3 kW rooftop system with an
// evening demand peak.
func DefaultSynth() SynthConfig {
	return SynthConfig{
		DaylightStartHour: 6,
		DaylightEndHour:   19,
		PeakSolarKW:       3.0,
		PeakStartHour:     16,
		PeakEndHour:       21,
		PeakGridCO2:       520,
		OffPeakGridCO2:    380,
	}
}

// SynthProfile generates the deterministic full-day point series for
// the given shape: one point per slot, solar following a rounded bell
// that peaks mid-daylight and is zero outside it.
func SynthProfile(cfg SynthConfig) []ForecastPoint {
	points := make([]ForecastPoint, 0, SlotsPerDay)
	for i := 0; i < SlotsPerDay; i++ {
		minutes := i * StepMinutes
		hour := float64(minutes) / 60

		norm := 0.0
		if hour >= cfg.DaylightStartHour && hour <= cfg.DaylightEndHour {
			x := (hour - cfg.DaylightStartHour) / (cfg.DaylightEndHour - cfg.DaylightStartHour)
			norm = math.Max(0, 1-math.Pow(2*math.Abs(x-0.5), 1.8))
		}

		co2 := cfg.OffPeakGridCO2
		if hour >= cfg.PeakStartHour && hour <= cfg.PeakEndHour {
			co2 = cfg.PeakGridCO2
		}

		points = append(points, ForecastPoint{
			TSLocal: ClockTime(minutes),
			SolarKW: round3(cfg.PeakSolarKW * norm),
			GridCO2: co2,
		})
	}
	return points
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

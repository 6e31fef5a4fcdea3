// Package forecast fetches solar irradiance from public forecast APIs and
// turns the hourly samples into quarter-hour planning points.
package forecast

import (
	"math"
	"sort"
	"time"

	"github.com/loadshift/loadshift/internal/engine"
)

// holdTolerance bounds how far beyond the sampled span a value is held.
const holdTolerance = 30 * time.Minute

// Provider names, used as forecast cache keys.
const (
	SourceOpenMeteo = "open-meteo"
	SourceNASAPower = "nasa-power"
)

// Site identifies the location forecasts are fetched for.
type Site struct {
	Latitude  float64
	Longitude float64
	Timezone  string
}

// Sample is one hourly observation from a forecast provider, stamped in UTC.
type Sample struct {
	Time       time.Time `json:"time"`
	GHI        float64   `json:"ghi"`
	TempAir    float64   `json:"temp_air"`
	WindSpeed  float64   `json:"wind_speed"`
	CloudCover float64   `json:"cloud_cover"`
}

// SystemConfig describes the PV system and the stepped carbon model used to
// turn irradiance samples into planning points.
type SystemConfig struct {
	KWp                float64
	InverterEfficiency float64
	PeakStartHour      float64
	PeakEndHour        float64
	PeakGridCO2        float64
	OffPeakGridCO2     float64
}

// DefaultSystem returns a 3 kWp rooftop system with the stock carbon model.
func DefaultSystem() SystemConfig {
	return SystemConfig{
		KWp:                3.0,
		InverterEfficiency: 0.9,
		PeakStartHour:      16,
		PeakEndHour:        21,
		PeakGridCO2:        520,
		OffPeakGridCO2:     380,
	}
}

// gridCO2 returns the carbon intensity for a local hour of day. The peak
// span is inclusive at both ends.
func (s SystemConfig) gridCO2(hour float64) float64 {
	if hour >= s.PeakStartHour && hour <= s.PeakEndHour {
		return s.PeakGridCO2
	}
	return s.OffPeakGridCO2
}

// nearestHold returns the sample in effect at t: the most recent sample at
// or before t, held forward for up to holdTolerance past the last one, or
// the first sample when t falls within the tolerance before it.
func nearestHold(samples []Sample, t time.Time) (Sample, bool) {
	if len(samples) == 0 {
		return Sample{}, false
	}
	i := sort.Search(len(samples), func(i int) bool { return samples[i].Time.After(t) })
	if i == 0 {
		if samples[0].Time.Sub(t) <= holdTolerance {
			return samples[0], true
		}
		return Sample{}, false
	}
	prev := samples[i-1]
	if i == len(samples) && t.Sub(prev.Time) > holdTolerance {
		return Sample{}, false
	}
	return prev, true
}

// Points resamples hourly samples onto the 96 quarter-hour labels of one
// local calendar day and converts irradiance to AC power. Slots with no
// sample in reach are left out.
func Points(samples []Sample, day time.Time, loc *time.Location, sys SystemConfig) []engine.ForecastPoint {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	points := make([]engine.ForecastPoint, 0, engine.SlotsPerDay)
	for slot := 0; slot < engine.SlotsPerDay; slot++ {
		minutes := slot * engine.StepMinutes
		local := time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, loc)

		s, ok := nearestHold(sorted, local.UTC())
		if !ok {
			continue
		}

		kw := math.Max(0, sys.KWp*(s.GHI/1000)*sys.InverterEfficiency)
		points = append(points, engine.ForecastPoint{
			TSLocal: engine.ClockTime(minutes),
			SolarKW: round3(kw),
			GridCO2: sys.gridCO2(float64(minutes) / 60),
		})
	}
	return points
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

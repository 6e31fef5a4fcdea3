package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ValidationError reports a tariff or appliance record that violates an
// input invariant.
type ValidationError struct {
	Subject string // "tariff" or the appliance name
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.Subject, e.Field, e.Reason)
}

// Tariff is a two-rate time-of-use price schedule. OnPeakRate doubles as
// the worst-case baseline that savings are measured against. Immutable
// once loaded.
type Tariff struct {
	OnPeakRate  float64  `json:"on_peak_rate"`
	OffPeakRate float64  `json:"off_peak_rate"`
	OnPeak      []Window `json:"on_peak"`
}

// EffectiveRate resolves the per-kWh rate for a candidate window. Any
// overlap with an on-peak block, however small, prices the whole window
// at the on-peak rate; there is no blending across a boundary.
func (t Tariff) EffectiveRate(w Window) float64 {
	for _, blk := range t.OnPeak {
		if w.Overlaps(blk) {
			return t.OnPeakRate
		}
	}
	return t.OffPeakRate
}

// Validate checks the tariff invariants.
func (t Tariff) Validate() error {
	if t.OnPeakRate < 0 {
		return &ValidationError{Subject: "tariff", Field: "on_peak_rate", Reason: "must not be negative"}
	}
	if t.OffPeakRate < 0 {
		return &ValidationError{Subject: "tariff", Field: "off_peak_rate", Reason: "must not be negative"}
	}
	for _, blk := range t.OnPeak {
		if blk.Start >= blk.End {
			return &ValidationError{Subject: "tariff", Field: "on_peak", Reason: fmt.Sprintf("block %s must start before it ends", blk)}
		}
	}
	return nil
}

// WindowList is one or more windows. JSON input may be a single
// {start,end} object or an array of them; either way it is held as an
// ordered slice.
type WindowList []Window

func (l *WindowList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '[' {
		var many []Window
		if err := json.Unmarshal(trimmed, &many); err != nil {
			return err
		}
		*l = many
		return nil
	}
	var one Window
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return err
	}
	*l = WindowList{one}
	return nil
}

// Appliance is one flexible household load: how long it runs, how much
// energy it draws, and when it is allowed to start.
type Appliance struct {
	Name        string     `json:"name"`
	DurationMin int        `json:"duration_min"`
	KWh         float64    `json:"kwh"`
	FlexWindows WindowList `json:"flex_window"`
}

// Validate checks the appliance invariants.
func (a Appliance) Validate() error {
	if a.Name == "" {
		return &ValidationError{Subject: "appliance", Field: "name", Reason: "is required"}
	}
	if a.DurationMin <= 0 {
		return &ValidationError{Subject: a.Name, Field: "duration_min", Reason: "must be positive"}
	}
	if a.KWh < 0 {
		return &ValidationError{Subject: a.Name, Field: "kwh", Reason: "must not be negative"}
	}
	if len(a.FlexWindows) == 0 {
		return &ValidationError{Subject: a.Name, Field: "flex_window", Reason: "needs at least one window"}
	}
	for _, w := range a.FlexWindows {
		if w.Start >= w.End {
			return &ValidationError{Subject: a.Name, Field: "flex_window", Reason: fmt.Sprintf("window %s must start before it ends", w)}
		}
	}
	return nil
}

// ForecastPoint is one labeled sample of the repeating daily profile.
// The label carries no date: the point for "14:00" answers for every
// day's 14:00 slice.
type ForecastPoint struct {
	TSLocal ClockTime `json:"ts_local"`
	SolarKW float64   `json:"solar_kw"`
	GridCO2 float64   `json:"grid_co2_g_per_kwh"`
}

// Candidate is one scored start option. It lives only while an
// appliance is being optimized; the winning candidate is repackaged as
// a Recommendation.
type Candidate struct {
	Start          ClockTime
	End            ClockTime
	Score          float64
	EffectiveRate  float64
	SolarOffsetKWh float64
	BaselineUSD    float64
	SuggestedUSD   float64
	DeltaUSD       float64
	BaselineCO2Kg  float64
	SuggestedCO2Kg float64
	OnPeakAvoided  bool
}

// Recommendation is the chosen window for one appliance plus the
// display metrics shown to the user. Values are final on construction.
type Recommendation struct {
	Appliance           string    `json:"appliance"`
	SuggestedStart      ClockTime `json:"suggested_start"`
	Window              string    `json:"window"`
	Reason              string    `json:"reason"`
	EstSavingsKWh       float64   `json:"est_savings_kwh"`
	EstSavingsUSD       float64   `json:"est_savings_usd"`
	EstCO2Kg            float64   `json:"est_co2_kg"`
	Confidence          float64   `json:"confidence"`
	EstCostBaselineUSD  float64   `json:"est_cost_baseline_usd"`
	EstCostSuggestedUSD float64   `json:"est_cost_suggested_usd"`
	EstCO2BaselineKg    float64   `json:"est_co2_baseline_kg"`
	EstCO2SuggestedKg   float64   `json:"est_co2_suggested_kg"`
	OnPeakAvoided       bool      `json:"on_peak_avoided"`
	RespectsQuietHours  bool      `json:"respects_quiet_hours"`
	StormPreschedule    bool      `json:"storm_preschedule"`
}

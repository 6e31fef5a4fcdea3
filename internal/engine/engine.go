package engine

import (
	"math"
	"slices"
	"sort"
	"sync"
)

// bestReason is the one explanation the scorer can stand behind:
// selection is cost-first with a solar credit.
const bestReason = "Cheapest window with good solar credit"

// staticConfidence is a placeholder; nothing in the inputs grades
// forecast quality yet.
const staticConfidence = 0.75

// ScoringConfig carries the tunable weight and fallback constants of
// the scorer. The zero value is not useful; start from DefaultScoring.
type ScoringConfig struct {
	SolarCreditWeight float64 // score credit per kWh of appliance size
	DefaultGridCO2    float64 // g/kWh assumed for forecast gaps
	BaselineGridCO2   float64 // g/kWh assumed for the worst-case run
}

// DefaultScoring returns the stock scorer configuration.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		SolarCreditWeight: 0.25,
		DefaultGridCO2:    400,
		BaselineGridCO2:   520,
	}
}

// ScoreCandidate prices one possible start for an appliance. The solar
// credit is capped at the appliance's own draw, so a window is never
// credited more solar than the run could consume. Display deltas are
// measured against running at the on-peak rate and BaselineGridCO2.
func ScoreCandidate(app Appliance, start ClockTime, tariff Tariff, profile *DayProfile, cfg ScoringConfig) Candidate {
	w := Window{Start: start, End: start.Add(app.DurationMin)}

	rate := tariff.EffectiveRate(w)
	cost := rate * app.KWh

	solarOffset := math.Min(app.KWh, profile.SolarEnergy(w))
	score := -cost + cfg.SolarCreditWeight*app.KWh*solarOffset

	suggestedCO2 := profile.AvgCarbon(w, cfg.DefaultGridCO2)

	return Candidate{
		Start:          w.Start,
		End:            w.End,
		Score:          score,
		EffectiveRate:  rate,
		SolarOffsetKWh: solarOffset,
		BaselineUSD:    tariff.OnPeakRate * app.KWh,
		SuggestedUSD:   cost,
		DeltaUSD:       math.Max(0, (tariff.OnPeakRate-rate)*app.KWh),
		BaselineCO2Kg:  cfg.BaselineGridCO2 * app.KWh / 1000,
		SuggestedCO2Kg: suggestedCO2 * app.KWh / 1000,
		OnPeakAvoided:  rate < tariff.OnPeakRate,
	}
}

// BestWindow scores every grid-aligned start in every flex window of
// one appliance and returns the recommendation for the highest score,
// or nil when no full-duration run fits anywhere. The comparison is
// strictly-greater, so equal scores keep the earliest candidate seen.
func BestWindow(app Appliance, tariff Tariff, profile *DayProfile, cfg ScoringConfig) *Recommendation {
	var best Candidate
	found := false
	for _, win := range app.FlexWindows {
		for start := range win.Starts(app.DurationMin) {
			cand := ScoreCandidate(app, start, tariff, profile, cfg)
			if !found || cand.Score > best.Score {
				best = cand
				found = true
			}
		}
	}
	if !found {
		return nil
	}
	return newRecommendation(app, best)
}

// newRecommendation packages a winning candidate for display.
func newRecommendation(app Appliance, c Candidate) *Recommendation {
	return &Recommendation{
		Appliance:           app.Name,
		SuggestedStart:      c.Start,
		Window:              Window{Start: c.Start, End: c.End}.String(),
		Reason:              bestReason,
		EstSavingsKWh:       round2(c.SolarOffsetKWh),
		EstSavingsUSD:       round2(c.DeltaUSD),
		EstCO2Kg:            round2(c.BaselineCO2Kg - c.SuggestedCO2Kg),
		Confidence:          staticConfidence,
		EstCostBaselineUSD:  round2(c.BaselineUSD),
		EstCostSuggestedUSD: round2(c.SuggestedUSD),
		EstCO2BaselineKg:    round2(c.BaselineCO2Kg),
		EstCO2SuggestedKg:   round2(c.SuggestedCO2Kg),
		OnPeakAvoided:       c.OnPeakAvoided,
		RespectsQuietHours:  true,
		StormPreschedule:    false,
	}
}

// Rank optimizes every appliance against the tariff and forecast and
// returns the recommendations ordered best-first: largest cash savings,
// then confidence, then CO2 saved. Appliances with no feasible window
// are left out, and appliances that fail validation are skipped so one
// bad record cannot sink the rest; callers are expected to validate and
// report at the boundary. A malformed tariff fails the whole run. An
// empty forecast falls back to the synthesized default profile.
func Rank(tariff Tariff, appliances []Appliance, points []ForecastPoint, cfg ScoringConfig) ([]Recommendation, error) {
	if err := tariff.Validate(); err != nil {
		return nil, err
	}

	if len(points) == 0 {
		points = SynthProfile(DefaultSynth())
	}
	profile := BuildProfile(points)

	// Appliances are independent, so fan out and collect positionally.
	results := make([]*Recommendation, len(appliances))
	var wg sync.WaitGroup
	for i, app := range appliances {
		if err := app.Validate(); err != nil {
			continue
		}
		wg.Add(1)
		go func(i int, app Appliance) {
			defer wg.Done()
			results[i] = BestWindow(app, tariff, profile, cfg)
		}(i, app)
	}
	wg.Wait()

	recs := make([]Recommendation, 0, len(appliances))
	for _, r := range results {
		if r != nil {
			recs = append(recs, *r)
		}
	}

	// Ascending stable sort then a full reversal: descending overall,
	// with full-key ties surfacing in reverse input order.
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.EstSavingsUSD != b.EstSavingsUSD {
			return a.EstSavingsUSD < b.EstSavingsUSD
		}
		if a.Confidence != b.Confidence {
			return a.Confidence < b.Confidence
		}
		return a.EstCO2Kg < b.EstCO2Kg
	})
	slices.Reverse(recs)

	return recs, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
